package ledger_test

import (
	"context"
	"testing"
	"time"

	"quoteflow/internal/db"
	"quoteflow/internal/domain"
	"quoteflow/internal/ledger"
	"quoteflow/internal/migrate"
)

func newLedger(t *testing.T) (ledger.Ledger, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return ledger.Ledger{DB: conn}, context.Background()
}

func appendRow(t *testing.T, l ledger.Ledger, ctx context.Context, e domain.Earning) {
	t.Helper()
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := l.AppendTx(ctx, tx, e); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestAppendRoundsToCents(t *testing.T) {
	l, ctx := newLedger(t)
	appendRow(t, l, ctx, domain.Earning{TS: "2024-01-01T00:00:00Z", RequestID: "R1", PayeeID: "dev-1", Amount: 33.333333, Currency: "EUR"})
	rows, err := l.List(ctx, "dev-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Amount != 33.33 {
		t.Fatalf("expected one 33.33 row, got %+v", rows)
	}
}

func TestDeveloperTotals(t *testing.T) {
	l, ctx := newLedger(t)
	appendRow(t, l, ctx, domain.Earning{TS: "2024-01-01T00:00:00Z", RequestID: "R1", PayeeID: "dev-1", Amount: 100, Currency: "EUR"})
	appendRow(t, l, ctx, domain.Earning{TS: "2024-01-02T00:00:00Z", RequestID: "R2", PayeeID: "dev-1", Amount: 50.5, Currency: "EUR"})
	appendRow(t, l, ctx, domain.Earning{TS: "2024-01-03T00:00:00Z", RequestID: "R3", PayeeID: "dev-1", Amount: 200, Currency: "MDL"})
	appendRow(t, l, ctx, domain.Earning{TS: "2024-01-03T00:00:00Z", RequestID: "R3", PayeeID: "dev-2", Amount: 75, Currency: "EUR"})

	totals, err := l.DeveloperTotals(ctx, "dev-1")
	if err != nil {
		t.Fatal(err)
	}
	if got := totals["EUR"]; got.Amount != 150.5 || got.Count != 2 {
		t.Fatalf("EUR total: %+v", got)
	}
	if got := totals["MDL"]; got.Amount != 200 || got.Count != 1 {
		t.Fatalf("MDL total: %+v", got)
	}
}

func TestCommissionWindow(t *testing.T) {
	l, ctx := newLedger(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	appendRow(t, l, ctx, domain.Earning{TS: "2024-05-20T00:00:00Z", RequestID: "R1", PayeeID: domain.CommissionPayee, Amount: 30, Currency: "EUR"})
	appendRow(t, l, ctx, domain.Earning{TS: "2024-01-01T00:00:00Z", RequestID: "R2", PayeeID: domain.CommissionPayee, Amount: 20, Currency: "EUR"})
	// unparsable timestamp: counted all-time, skipped in any window
	appendRow(t, l, ctx, domain.Earning{TS: "sometime", RequestID: "R3", PayeeID: domain.CommissionPayee, Amount: 5, Currency: "EUR"})
	appendRow(t, l, ctx, domain.Earning{TS: "2024-05-25T00:00:00Z", RequestID: "R4", PayeeID: "dev-1", Amount: 999, Currency: "EUR"})

	allTime, err := l.CommissionTotals(ctx, 0, now)
	if err != nil {
		t.Fatal(err)
	}
	if got := allTime["EUR"]; got.Amount != 55 || got.Count != 3 {
		t.Fatalf("all-time: %+v", got)
	}
	windowed, err := l.CommissionTotals(ctx, 30, now)
	if err != nil {
		t.Fatal(err)
	}
	if got := windowed["EUR"]; got.Amount != 30 || got.Count != 1 {
		t.Fatalf("trailing 30d: %+v", got)
	}
}
