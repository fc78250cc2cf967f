package engine_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"quoteflow/internal/auth"
	"quoteflow/internal/config"
	"quoteflow/internal/db"
	"quoteflow/internal/domain"
	"quoteflow/internal/engine"
	"quoteflow/internal/migrate"
	"quoteflow/internal/parse"
	"quoteflow/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Now    *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test-broker")
	cfg.Managers = []string{"mgr"}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return now }
	eng.Gate.Now = eng.Now
	eng.Payouts.Now = eng.Now
	return testEnv{Engine: eng, Ctx: context.Background(), Now: &now}
}

func submit(t *testing.T, env testEnv, submitterID string) domain.Request {
	t.Helper()
	req, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		SubmitterID:   submitterID,
		SubmitterName: "Client",
		Category:      "web",
		Title:         "Online shop",
		Description:   "Catalog plus checkout",
		BudgetRaw:     "300 EUR",
		DeadlineRaw:   "10 days",
		Contact:       "client@example.com",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return req
}

var requestIDRe = regexp.MustCompile(`^[0-9A-F]{8}$`)

func TestSubmitScenario(t *testing.T) {
	env := newTestEnv(t)
	req := submit(t, env, "client-1")

	if !requestIDRe.MatchString(req.ID) {
		t.Fatalf("request id %q is not 8 uppercase hex chars", req.ID)
	}
	if req.Status != domain.StatusNew {
		t.Fatalf("status: %s", req.Status)
	}
	if req.Budget == nil || req.Budget.Amount != 300 || req.Budget.Currency != "EUR" {
		t.Fatalf("budget: %+v", req.Budget)
	}
	if got := parse.VisibleBudget(*req.Budget); got != "~210 EUR" {
		t.Fatalf("visible budget: %s", got)
	}
	if req.DeadlineISO == nil || *req.DeadlineISO != "2024-03-11" {
		t.Fatalf("deadline: %v", req.DeadlineISO)
	}
	if req.SubmitterHash == req.SubmitterID || len(req.SubmitterHash) != 10 {
		t.Fatalf("submitter hash: %q", req.SubmitterHash)
	}

	// persisted row matches
	stored, err := env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	if err != nil {
		t.Fatalf("get stored: %v", err)
	}
	if stored.Status != domain.StatusNew || stored.Budget.Amount != 300 {
		t.Fatalf("stored row: %+v", stored)
	}
}

func TestSubmitValidationAndCooldown(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		SubmitterID: "client-1", SubmitterName: "Client", Category: "web",
		Title: "t", Description: "d", BudgetRaw: "no idea", DeadlineRaw: "10 days", Contact: "c",
	})
	if !engine.IsValidation(err) {
		t.Fatalf("unparseable budget should be a validation error, got %v", err)
	}

	submit(t, env, "client-1")
	// second submission inside the 30s window is rejected and mutates nothing
	_, err = env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		SubmitterID: "client-1", SubmitterName: "Client", Category: "web",
		Title: "t", Description: "d", BudgetRaw: "100 EUR", DeadlineRaw: "5 days", Contact: "c",
	})
	if !engine.IsValidation(err) {
		t.Fatalf("expected cooldown rejection, got %v", err)
	}
	*env.Now = env.Now.Add(31 * time.Second)
	submit(t, env, "client-1")
}

func TestClaimAssignLeadAndStartedOnce(t *testing.T) {
	env := newTestEnv(t)
	req := submit(t, env, "client-1")

	// assigning an unclaimed developer fails
	if _, err := env.Engine.AssignLead(env.Ctx, req.ID, "dev-a", "", "owner"); !engine.IsValidation(err) {
		t.Fatalf("expected claim requirement, got %v", err)
	}
	if _, err := env.Engine.Claim(env.Ctx, req.ID, "dev-a", "@a", "Dev A"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	// claims are idempotent
	if _, err := env.Engine.Claim(env.Ctx, req.ID, "dev-a", "@a2", "Dev A"); err != nil {
		t.Fatalf("reclaim: %v", err)
	}

	// lead assignment is admin-only
	if _, err := env.Engine.AssignLead(env.Ctx, req.ID, "dev-a", "", "dev-a"); !auth.IsForbidden(err) {
		t.Fatalf("expected denial, got %v", err)
	}
	got, err := env.Engine.AssignLead(env.Ctx, req.ID, "dev-a", "3 days", "owner")
	if err != nil {
		t.Fatalf("assign lead: %v", err)
	}
	if got.Status != domain.StatusInProgress {
		t.Fatalf("status: %s", got.Status)
	}
	if a := got.Assignments["dev-a"]; a.Role != domain.RoleLead || a.Pct != 100 {
		t.Fatalf("lead assignment: %+v", a)
	}
	if got.StartedAt == nil {
		t.Fatal("work-start timestamp not set")
	}
	started := *got.StartedAt

	// re-assigning keeps the original work-start timestamp
	*env.Now = env.Now.Add(time.Hour)
	again, err := env.Engine.AssignLead(env.Ctx, req.ID, "dev-a", "", "mgr")
	if err != nil {
		t.Fatalf("re-assign: %v", err)
	}
	if again.StartedAt == nil || *again.StartedAt != started {
		t.Fatalf("work-start timestamp changed: %v", again.StartedAt)
	}
}

func TestHelperClampNeverExceeds100(t *testing.T) {
	env := newTestEnv(t)
	req := submit(t, env, "client-1")
	_, _ = env.Engine.Claim(env.Ctx, req.ID, "dev-a", "@a", "")
	_, _ = env.Engine.Claim(env.Ctx, req.ID, "dev-b", "@b", "")
	if _, err := env.Engine.AssignLead(env.Ctx, req.ID, "dev-a", "", "owner"); err != nil {
		t.Fatal(err)
	}

	// lead holds 100%, a 60% helper request clamps to 0
	got, err := env.Engine.AddHelper(env.Ctx, req.ID, "dev-b", 60, "owner")
	if err != nil {
		t.Fatalf("add helper: %v", err)
	}
	if a := got.Assignments["dev-b"]; a.Role != domain.RoleHelper || a.Pct != 0 {
		t.Fatalf("expected clamped 0%%, got %+v", a)
	}
	if got.PctTotal() != 100 {
		t.Fatalf("pct total: %d", got.PctTotal())
	}
	if got.Lead() != "dev-a" {
		t.Fatalf("lead: %s", got.Lead())
	}
}

func TestStatusOverrideAndAuthorization(t *testing.T) {
	env := newTestEnv(t)
	req := submit(t, env, "client-1")
	_, _ = env.Engine.Claim(env.Ctx, req.ID, "dev-a", "@a", "")
	_, _ = env.Engine.AssignLead(env.Ctx, req.ID, "dev-a", "", "owner")

	// a non-assigned developer is denied regardless of status
	if _, err := env.Engine.SetStatus(env.Ctx, req.ID, domain.StatusPending, "dev-x"); !auth.IsForbidden(err) {
		t.Fatalf("expected denial, got %v", err)
	}
	// the assigned developer may set status
	got, err := env.Engine.SetStatus(env.Ctx, req.ID, domain.StatusPending, "dev-a")
	if err != nil || got.Status != domain.StatusPending {
		t.Fatalf("pending: %v %v", got.Status, err)
	}
	// back to in_progress by a manager
	got, err = env.Engine.SetStatus(env.Ctx, req.ID, domain.StatusInProgress, "mgr")
	if err != nil || got.Status != domain.StatusInProgress {
		t.Fatalf("reopen: %v %v", got.Status, err)
	}
	// cancel, then nothing moves a terminal request
	if _, err := env.Engine.SetStatus(env.Ctx, req.ID, domain.StatusCanceled, "owner"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetStatus(env.Ctx, req.ID, domain.StatusInProgress, "owner"); !engine.IsValidation(err) {
		t.Fatalf("terminal request must not move, got %v", err)
	}
	// confirmed is never settable directly
	if _, err := env.Engine.SetStatus(env.Ctx, req.ID, domain.StatusConfirmed, "owner"); !engine.IsValidation(err) {
		t.Fatalf("confirmed must come from payout only, got %v", err)
	}
}

func TestUnknownRequestIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SetStatus(env.Ctx, "DEADBEEF", domain.StatusCanceled, "owner"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.Engine.Claim(env.Ctx, "DEADBEEF", "dev-a", "", ""); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPayoutFlow(t *testing.T) {
	env := newTestEnv(t)
	req := submit(t, env, "client-1")
	_, _ = env.Engine.Claim(env.Ctx, req.ID, "dev-a", "@a", "")
	_, _ = env.Engine.Claim(env.Ctx, req.ID, "dev-b", "@b", "")
	_, _ = env.Engine.AssignLead(env.Ctx, req.ID, "dev-a", "", "owner")
	if _, err := env.Engine.AddHelper(env.Ctx, req.ID, "dev-b", 0, "owner"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetStatus(env.Ctx, req.ID, domain.StatusPending, "owner"); err != nil {
		t.Fatal(err)
	}

	// managers cannot run the payout wizard
	if _, err := env.Engine.StartPayout(env.Ctx, req.ID, "mgr"); !auth.IsForbidden(err) {
		t.Fatalf("expected owner-only denial, got %v", err)
	}
	s, err := env.Engine.StartPayout(env.Ctx, req.ID, "owner")
	if err != nil {
		t.Fatalf("start payout: %v", err)
	}
	if len(s.Steps) != 2 || s.Steps[0].DevID != "dev-a" {
		t.Fatalf("steps: %+v", s.Steps)
	}
	if s.Steps[0].Suggested != 300 {
		t.Fatalf("lead suggestion from true budget: %v", s.Steps[0].Suggested)
	}
	// a second wizard for the same owner is rejected
	if _, err := env.Engine.StartPayout(env.Ctx, req.ID, "owner"); err == nil {
		t.Fatal("expected second session rejection")
	}

	// owner overrides the suggestions
	if _, err := env.Engine.ConfirmPayout(env.Ctx, "owner", 250); err != nil {
		t.Fatal(err)
	}
	s, err = env.Engine.ConfirmPayout(env.Ctx, "owner", 50)
	if err != nil || !s.Done() {
		t.Fatalf("final confirm: %v %v", s, err)
	}

	got, err := env.Engine.GetRequest(env.Ctx, req.ID)
	if err != nil || got.Status != domain.StatusConfirmed {
		t.Fatalf("status after payout: %v %v", got.Status, err)
	}

	// exactly one entry per developer plus one commission row
	rows, err := env.Engine.Ledger.List(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 ledger rows, got %d", len(rows))
	}
	commission, err := env.Engine.Ledger.CommissionTotals(env.Ctx, 0, env.Engine.Now())
	if err != nil {
		t.Fatal(err)
	}
	// 10% of 300 confirmed
	if got := commission["EUR"]; got.Amount != 30 || got.Count != 1 {
		t.Fatalf("commission: %+v", got)
	}
}

func TestPayoutCannotResurrectCanceledRequest(t *testing.T) {
	env := newTestEnv(t)
	req := submit(t, env, "client-1")
	_, _ = env.Engine.Claim(env.Ctx, req.ID, "dev-a", "@a", "")
	_, _ = env.Engine.AssignLead(env.Ctx, req.ID, "dev-a", "", "owner")
	if _, err := env.Engine.SetStatus(env.Ctx, req.ID, domain.StatusPending, "owner"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartPayout(env.Ctx, req.ID, "owner"); err != nil {
		t.Fatalf("start payout: %v", err)
	}
	// the request is canceled while the wizard is open
	if _, err := env.Engine.SetStatus(env.Ctx, req.ID, domain.StatusCanceled, "owner"); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.ConfirmPayout(env.Ctx, "owner", 300); !engine.IsValidation(err) {
		t.Fatalf("final confirm on a canceled request must fail, got %v", err)
	}
	got, err := env.Engine.GetRequest(env.Ctx, req.ID)
	if err != nil || got.Status != domain.StatusCanceled {
		t.Fatalf("status after rejected payout: %v %v", got.Status, err)
	}
	// nothing was committed to the ledger
	rows, err := env.Engine.Ledger.List(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty ledger, got %d rows", len(rows))
	}
	// the dead session is gone; a fresh wizard cannot start on a terminal request
	if _, ok := env.Engine.PayoutSession("owner"); ok {
		t.Fatal("session should be discarded after the final confirm")
	}
}

func TestProgressAndComments(t *testing.T) {
	env := newTestEnv(t)
	req := submit(t, env, "client-1")
	_, _ = env.Engine.Claim(env.Ctx, req.ID, "dev-a", "@a", "")
	_, _ = env.Engine.AssignLead(env.Ctx, req.ID, "dev-a", "", "owner")

	if _, err := env.Engine.Progress(env.Ctx, req.ID, "dev-x", 50); !auth.IsForbidden(err) {
		t.Fatalf("unassigned developer must be denied, got %v", err)
	}
	got, err := env.Engine.Progress(env.Ctx, req.ID, "dev-a", 40)
	if err != nil {
		t.Fatal(err)
	}
	if want := "(dev-a) progress 40%"; !strings.Contains(got.Notes, want) {
		t.Fatalf("notes missing progress line: %q", got.Notes)
	}
	got, err = env.Engine.Comment(env.Ctx, req.ID, "mgr", "client asked for dark mode")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got.Notes, "(mgr) client asked for dark mode") {
		t.Fatalf("notes missing comment: %q", got.Notes)
	}
}

func TestLoadRebuildsFlattenedIndex(t *testing.T) {
	env := newTestEnv(t)
	req := submit(t, env, "client-1")
	_, _ = env.Engine.Claim(env.Ctx, req.ID, "dev-a", "@a", "")
	_, _ = env.Engine.AssignLead(env.Ctx, req.ID, "dev-a", "", "owner")

	// a fresh engine over the same db sees the flattened projection
	fresh := engine.New(env.Engine.DB, env.Engine.Config)
	n, err := fresh.Load(env.Ctx)
	if err != nil || n != 1 {
		t.Fatalf("load: %d %v", n, err)
	}
	got, err := fresh.GetRequest(env.Ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusInProgress {
		t.Fatalf("status: %s", got.Status)
	}
	// roles and shares do not survive the flattening, ids do
	if len(got.Assignments) != 0 || len(got.Assignees()) != 1 || got.Assignees()[0] != "dev-a" {
		t.Fatalf("assignees after reload: %+v %+v", got.Assignments, got.Assignees())
	}
}

