package digest_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"quoteflow/internal/config"
	"quoteflow/internal/db"
	"quoteflow/internal/digest"
	"quoteflow/internal/engine"
	"quoteflow/internal/migrate"
	"quoteflow/internal/notify"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureNotifier) Send(ctx context.Context, to notify.Target, message string, links ...notify.Link) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, to.ActorID+": "+message)
	return nil
}

func TestRunOncePerDay(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default("test-broker")
	eng := engine.New(conn, cfg)
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC) // a Monday
	eng.Now = func() time.Time { return now }
	sink := &captureNotifier{}
	eng.Notifier = sink

	ctx := context.Background()
	req, err := eng.Submit(ctx, engine.SubmitOptions{
		SubmitterID: "client-1", SubmitterName: "Client", Category: "web",
		Title: "Shop", Description: "d", BudgetRaw: "300 EUR", DeadlineRaw: "10 days", Contact: "c",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Claim(ctx, req.ID, "dev-a", "@a", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.AssignLead(ctx, req.ID, "dev-a", "", "owner"); err != nil {
		t.Fatal(err)
	}
	sink.sent = nil

	d := digest.New(eng)
	d.Now = eng.Now
	if err := d.Run(ctx); err != nil {
		t.Fatal(err)
	}
	first := len(sink.sent)
	if first != 1 {
		t.Fatalf("expected one digest delivery, got %d: %v", first, sink.sent)
	}
	if !strings.Contains(sink.sent[0], "dev-a") || !strings.Contains(sink.sent[0], "1 active request") {
		t.Fatalf("digest content: %q", sink.sent[0])
	}

	// same day: no second delivery
	if err := d.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(sink.sent) != first {
		t.Fatalf("digest must run once per day, got %d deliveries", len(sink.sent))
	}

	// next week runs again
	now = now.AddDate(0, 0, 7)
	if err := d.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(sink.sent) != first+1 {
		t.Fatalf("expected a new delivery next week, got %d", len(sink.sent))
	}
}
