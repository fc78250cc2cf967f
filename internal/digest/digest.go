package digest

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"quoteflow/internal/domain"
	"quoteflow/internal/engine"
	"quoteflow/internal/notify"
)

// Scheduler sends each developer a weekly summary of their active work and
// confirmed earnings. The run guards itself with a calendar-day key so a
// restart on digest day cannot deliver twice from the same process chain.
type Scheduler struct {
	Engine engine.Engine
	Logger *log.Logger
	Now    func() time.Time

	mu      sync.Mutex
	lastKey string
	sched   gocron.Scheduler
}

func New(e engine.Engine) *Scheduler {
	return &Scheduler{Engine: e, Now: time.Now}
}

func (s *Scheduler) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// Start schedules the weekly job per the configured weekday and hour.
func (s *Scheduler) Start() error {
	weekday := time.Monday
	hour := 9
	if cfg := s.Engine.Config; cfg != nil {
		if wd, ok := weekdays[cfg.Digest.Weekday]; ok {
			weekday = wd
		}
		if cfg.Digest.Hour > 0 {
			hour = cfg.Digest.Hour
		}
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.WeeklyJob(1, gocron.NewWeekdays(weekday), gocron.NewAtTimes(gocron.NewAtTime(uint(hour), 0, 0))),
		gocron.NewTask(func() {
			if err := s.Run(context.Background()); err != nil {
				s.logger().Printf("digest run failed: %v", err)
			}
		}),
		gocron.WithName("weekly-digest"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}
	s.sched = sched
	sched.Start()
	return nil
}

// Stop shuts the scheduler down.
func (s *Scheduler) Stop() {
	if s.sched != nil {
		_ = s.sched.Shutdown()
	}
}

// Run computes and delivers the digest once per calendar day at most.
func (s *Scheduler) Run(ctx context.Context) error {
	key := s.Now().UTC().Format("2006-01-02")
	s.mu.Lock()
	if s.lastKey == key {
		s.mu.Unlock()
		return nil
	}
	s.lastKey = key
	s.mu.Unlock()

	for _, devID := range s.developers(ctx) {
		summary, err := s.Engine.SummarizeDeveloper(ctx, devID)
		if err != nil {
			return err
		}
		s.send(ctx, summary)
	}
	return nil
}

func (s *Scheduler) developers(ctx context.Context) []string {
	set := map[string]struct{}{}
	for _, r := range s.Engine.ActiveRequests(ctx) {
		for _, id := range r.Assignees() {
			set[id] = struct{}{}
		}
	}
	if rows, err := s.Engine.Ledger.List(ctx, ""); err == nil {
		for _, e := range rows {
			if e.PayeeID != domain.CommissionPayee {
				set[e.PayeeID] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Scheduler) send(ctx context.Context, sum engine.DeveloperSummary) {
	confirmedCount := 0
	var totals []string
	for cur, t := range sum.Confirmed {
		confirmedCount += t.Count
		totals = append(totals, fmt.Sprintf("%.2f %s", t.Amount, cur))
	}
	sort.Strings(totals)
	confirmed := "nothing confirmed yet"
	if len(totals) > 0 {
		confirmed = strings.Join(totals, ", ")
	}
	msg := fmt.Sprintf("Weekly digest: %d active request(s), %d confirmed payment(s), total %s",
		len(sum.Active), confirmedCount, confirmed)
	if err := s.Engine.Notifier.Send(ctx, notify.Actor(sum.DevID), msg); err != nil {
		s.logger().Printf("digest delivery to %s failed: %v", sum.DevID, err)
	}
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}
