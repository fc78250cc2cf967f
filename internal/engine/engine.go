package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"quoteflow/internal/auth"
	"quoteflow/internal/config"
	"quoteflow/internal/domain"
	"quoteflow/internal/events"
	"quoteflow/internal/index"
	"quoteflow/internal/ledger"
	"quoteflow/internal/notify"
	"quoteflow/internal/parse"
	"quoteflow/internal/payout"
	"quoteflow/internal/ratelimit"
	"quoteflow/internal/repo"
)

// ValidationError marks recoverable input problems: the caller re-prompts
// the same step, no state was mutated.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// IsValidation reports whether err is a recoverable input error.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Engine is the request lifecycle and payout orchestration core. The index
// carries the live state, the sqlite log mirrors it row-per-request, and the
// ledger records confirmed payments; all three are maintained in parallel.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Ledger   ledger.Ledger
	Events   events.Writer
	Index    *index.Store
	Auth     auth.Service
	Gate     *ratelimit.Gate
	Payouts  *payout.Manager
	Config   *config.Config
	Notifier notify.Notifier
	Threads  notify.ThreadCreator
	Logger   *log.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	cooldown := 30 * time.Second
	ttl := payout.DefaultTTL
	if cfg != nil {
		if cfg.Submissions.CooldownSeconds > 0 {
			cooldown = time.Duration(cfg.Submissions.CooldownSeconds) * time.Second
		}
		if cfg.Payout.SessionTTLMinutes > 0 {
			ttl = time.Duration(cfg.Payout.SessionTTLMinutes) * time.Minute
		}
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Ledger:   ledger.Ledger{DB: db},
		Events:   events.Writer{DB: db},
		Index:    index.New(),
		Auth:     auth.Service{Config: cfg},
		Gate:     ratelimit.New(cooldown),
		Payouts:  payout.NewManager(ttl),
		Config:   cfg,
		Notifier: notify.LogNotifier{},
		Threads:  notify.NopThreads{},
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// notify is fire-and-forget: a failed delivery is logged and swallowed.
func (e Engine) notify(ctx context.Context, to notify.Target, msg string, links ...notify.Link) {
	if e.Notifier == nil || to.IsZero() {
		return
	}
	if err := e.Notifier.Send(ctx, to, msg, links...); err != nil {
		e.logger().Printf("notify failed: %v", err)
	}
}

func (e Engine) notifyThread(ctx context.Context, req domain.Request, msg string) {
	if req.ThreadID == "" {
		return
	}
	e.notify(ctx, notify.Thread(req.ThreadID), msg)
}

func (e Engine) notifyAssignees(ctx context.Context, req domain.Request, msg string) {
	for _, devID := range req.Assignees() {
		e.notify(ctx, notify.Actor(devID), msg)
	}
}

// Load hydrates the index from the persisted log. Role maps are not part of
// the flattened rows, so assignments come back as bare developer-id lists.
func (e Engine) Load(ctx context.Context) (int, error) {
	reqs, err := e.Repo.ListRequests(ctx, "")
	if err != nil {
		return 0, err
	}
	for _, r := range reqs {
		e.Index.Put(r)
		claims, err := e.Repo.ListClaims(ctx, r.ID)
		if err != nil {
			return 0, err
		}
		for _, c := range claims {
			e.Index.PutClaim(c)
		}
	}
	return len(reqs), nil
}

// SubmitOptions are the five collected dialogue fields plus submitter
// identity.
type SubmitOptions struct {
	SubmitterID     string
	SubmitterName   string
	SubmitterHandle string
	Category        string
	Title           string
	Description     string
	BudgetRaw       string
	DeadlineRaw     string
	Contact         string
}

// Submit validates a finished dialogue and creates the request: log row,
// index entry, best-effort discussion thread, and the three notifications
// (submitter, developer pool with the reduced budget, administrators with
// the true one).
func (e Engine) Submit(ctx context.Context, opts SubmitOptions) (domain.Request, error) {
	if e.Config == nil {
		return domain.Request{}, errors.New("config not loaded")
	}
	if opts.SubmitterID == "" {
		return domain.Request{}, ValidationError{Field: "submitter", Msg: "required"}
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Request{}, ValidationError{Field: "title", Msg: "required"}
	}
	if strings.TrimSpace(opts.Description) == "" {
		return domain.Request{}, ValidationError{Field: "description", Msg: "required"}
	}
	if strings.TrimSpace(opts.Contact) == "" {
		return domain.Request{}, ValidationError{Field: "contact", Msg: "required"}
	}
	if _, ok := e.Config.Categories[opts.Category]; !ok {
		return domain.Request{}, ValidationError{Field: "category", Msg: fmt.Sprintf("unknown category %q", opts.Category)}
	}
	budget := parse.Amount(opts.BudgetRaw)
	if budget == nil {
		return domain.Request{}, ValidationError{Field: "budget", Msg: fmt.Sprintf("cannot parse %q", opts.BudgetRaw)}
	}
	now := e.now()
	deadline := parse.Deadline(opts.DeadlineRaw, now)
	if deadline == "" {
		return domain.Request{}, ValidationError{Field: "deadline", Msg: fmt.Sprintf("cannot parse %q", opts.DeadlineRaw)}
	}
	if !e.Gate.Allow(opts.SubmitterID) {
		wait := e.Gate.Remaining(opts.SubmitterID)
		return domain.Request{}, ValidationError{Field: "submitter", Msg: fmt.Sprintf("cooldown, retry in %ds", int(wait.Seconds())+1)}
	}

	req := domain.Request{
		ID:              newRequestID(),
		CreatedAt:       now.UTC().Format(time.RFC3339),
		SubmitterID:     opts.SubmitterID,
		SubmitterName:   opts.SubmitterName,
		SubmitterHandle: opts.SubmitterHandle,
		SubmitterHash:   auth.SubmitterHash(opts.SubmitterID, e.Config.Submissions.HashSalt),
		Category:        opts.Category,
		Title:           strings.TrimSpace(opts.Title),
		Description:     strings.TrimSpace(opts.Description),
		BudgetRaw:       opts.BudgetRaw,
		Budget:          budget,
		DeadlineRaw:     opts.DeadlineRaw,
		DeadlineISO:     &deadline,
		Contact:         strings.TrimSpace(opts.Contact),
		Status:          domain.StatusNew,
	}

	// best-effort: a missing thread never blocks creation
	if ref, err := e.Threads.CreateThread(ctx, fmt.Sprintf("[%s] %s", req.ID, req.Title)); err != nil {
		e.logger().Printf("create thread for %s failed: %v", req.ID, err)
	} else {
		req.ThreadID = ref.ID
		req.ThreadLink = ref.Link
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRequestTx(ctx, tx, req); err != nil {
		return domain.Request{}, fmt.Errorf("insert request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "request.created", req.ID, "request", req.ID, opts.SubmitterID, events.EventPayload{
		"category": req.Category,
		"title":    req.Title,
		"status":   req.Status,
	}); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	e.Index.Put(req)

	visible := parse.VisibleBudget(*req.Budget)
	e.notify(ctx, notify.Actor(req.SubmitterID), fmt.Sprintf("Request %s registered: %s (deadline %s)", req.ID, req.Title, deadline))
	pool := fmt.Sprintf("New request %s [%s] %s — budget %s, deadline %s, client %s", req.ID, req.Category, req.Title, visible, deadline, req.SubmitterHash)
	if req.ThreadLink != "" {
		e.notify(ctx, notify.PoolTarget, pool, notify.Link{Text: "discussion", URL: req.ThreadLink})
	} else {
		e.notify(ctx, notify.PoolTarget, pool)
	}
	e.notify(ctx, notify.AdminsTarget, fmt.Sprintf("Request %s from %s — true budget %s", req.ID, req.SubmitterName, parse.FormatMoney(*req.Budget)))
	return req, nil
}

// newRequestID takes eight uppercase hex chars from a random UUID.
func newRequestID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

// Claim records a developer's interest in a request. Idempotent, allowed in
// any non-terminal state, never changes request status. Administrators are
// told; the pool is not.
func (e Engine) Claim(ctx context.Context, requestID, devID, handle, name string) (domain.Claim, error) {
	req, err := e.getLive(ctx, requestID)
	if err != nil {
		return domain.Claim{}, err
	}
	if domain.IsTerminal(req.Status) {
		return domain.Claim{}, ValidationError{Field: "status", Msg: fmt.Sprintf("request %s is %s", requestID, req.Status)}
	}
	c := domain.Claim{
		RequestID: requestID,
		DevID:     devID,
		Handle:    handle,
		Name:      name,
		ClaimedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Claim{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertClaimTx(ctx, tx, c); err != nil {
		return domain.Claim{}, err
	}
	if err := e.Events.Append(ctx, tx, "request.claimed", requestID, "claim", devID, devID, events.EventPayload{"handle": handle}); err != nil {
		return domain.Claim{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Claim{}, err
	}
	e.Index.PutClaim(c)
	e.notify(ctx, notify.AdminsTarget, fmt.Sprintf("Developer %s claimed request %s", displayName(c), requestID))
	return c, nil
}

// AssignLead makes a claimant the lead at 100%, replacing any previous role
// map, and moves the request into progress. The work-start timestamp is set
// exactly once; a re-assignment keeps the original one.
func (e Engine) AssignLead(ctx context.Context, requestID, devID, eta, actorID string) (domain.Request, error) {
	if err := e.Auth.RequireAdmin(actorID, "assign lead"); err != nil {
		return domain.Request{}, err
	}
	claim, ok := e.Index.Claim(requestID, devID)
	if !ok {
		return domain.Request{}, ValidationError{Field: "dev", Msg: fmt.Sprintf("developer %s has not claimed %s", devID, requestID)}
	}
	updated, err := e.update(ctx, requestID, func(r *domain.Request) error {
		if r.Status != domain.StatusNew && r.Status != domain.StatusInProgress {
			return ValidationError{Field: "status", Msg: fmt.Sprintf("cannot assign lead while %s", r.Status)}
		}
		r.Assignments = map[string]domain.Assignment{devID: {Role: domain.RoleLead, Pct: 100}}
		r.AssigneeIDs = nil
		r.Status = domain.StatusInProgress
		if r.StartedAt == nil {
			started := e.now().UTC().Format(time.RFC3339)
			r.StartedAt = &started
		}
		return nil
	}, "request.lead_assigned", actorID, events.EventPayload{"dev_id": devID, "eta": eta})
	if err != nil {
		return domain.Request{}, err
	}
	msg := fmt.Sprintf("Your request %s is now handled by %s", requestID, displayName(claim))
	if eta != "" {
		msg += ", ETA " + eta
	}
	e.notify(ctx, notify.Actor(updated.SubmitterID), msg)
	e.notifyThread(ctx, updated, fmt.Sprintf("%s assigned as lead (100%%)", displayName(claim)))
	return updated, nil
}

// AddHelper assigns a claimant as helper. The requested share is clamped to
// the remaining headroom so the sum of shares never exceeds 100; a full
// request yields a 0% helper, not an error.
func (e Engine) AddHelper(ctx context.Context, requestID, devID string, pct int, actorID string) (domain.Request, error) {
	if err := e.Auth.RequireAdmin(actorID, "add helper"); err != nil {
		return domain.Request{}, err
	}
	if pct < 0 || pct > 100 {
		return domain.Request{}, ValidationError{Field: "pct", Msg: "must be within 0..100"}
	}
	claim, ok := e.Index.Claim(requestID, devID)
	if !ok {
		return domain.Request{}, ValidationError{Field: "dev", Msg: fmt.Sprintf("developer %s has not claimed %s", devID, requestID)}
	}
	applied := 0
	updated, err := e.update(ctx, requestID, func(r *domain.Request) error {
		if r.Status != domain.StatusNew && r.Status != domain.StatusInProgress {
			return ValidationError{Field: "status", Msg: fmt.Sprintf("cannot add helper while %s", r.Status)}
		}
		if a, ok := r.Assignments[devID]; ok && a.Role == domain.RoleLead {
			return ValidationError{Field: "dev", Msg: fmt.Sprintf("%s is already the lead", devID)}
		}
		if r.Assignments == nil {
			r.Assignments = map[string]domain.Assignment{}
		}
		others := 0
		for id, a := range r.Assignments {
			if id != devID {
				others += a.Pct
			}
		}
		applied = pct
		if headroom := 100 - others; applied > headroom {
			applied = headroom
		}
		if applied < 0 {
			applied = 0
		}
		r.Assignments[devID] = domain.Assignment{Role: domain.RoleHelper, Pct: applied}
		return nil
	}, "request.helper_added", actorID, events.EventPayload{"dev_id": devID, "pct_requested": pct})
	if err != nil {
		return domain.Request{}, err
	}
	e.notify(ctx, notify.Actor(devID), fmt.Sprintf("You were added to request %s as helper (%d%%)", requestID, applied))
	e.notifyThread(ctx, updated, fmt.Sprintf("%s joined as helper (%d%%)", displayName(claim), applied))
	return updated, nil
}

// SetStatus is the direct override available to administrators and to the
// request's own developers. Terminal requests cannot move;
// completed_confirmed is reachable only through the payout wizard.
func (e Engine) SetStatus(ctx context.Context, requestID, status, actorID string) (domain.Request, error) {
	switch status {
	case domain.StatusNew, domain.StatusInProgress, domain.StatusPending, domain.StatusCanceled:
	default:
		return domain.Request{}, ValidationError{Field: "status", Msg: fmt.Sprintf("cannot set status %q directly", status)}
	}
	current, err := e.getLive(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := e.Auth.RequireAssigned(current, actorID, "set status"); err != nil {
		return domain.Request{}, err
	}
	from := ""
	updated, err := e.update(ctx, requestID, func(r *domain.Request) error {
		if domain.IsTerminal(r.Status) {
			return ValidationError{Field: "status", Msg: fmt.Sprintf("request %s is already %s", requestID, r.Status)}
		}
		from = r.Status
		r.Status = status
		return nil
	}, "request.status_set", actorID, events.EventPayload{"to": status})
	if err != nil {
		return domain.Request{}, err
	}
	if status == domain.StatusPending {
		// completion waits for the owner to run the payout wizard; a manager
		// cannot progress it further
		e.notify(ctx, notify.Actor(e.Config.Broker.OwnerID), fmt.Sprintf("Request %s marked complete, confirm payout to close it", requestID))
		e.notifyThread(ctx, updated, "Marked as completed, awaiting payout confirmation")
		return updated, nil
	}
	msg := fmt.Sprintf("Request %s status: %s -> %s", requestID, from, status)
	e.notifyAssignees(ctx, updated, msg)
	e.notifyThread(ctx, updated, msg)
	return updated, nil
}

// Comment appends a timestamped, attributed line to the notes log.
func (e Engine) Comment(ctx context.Context, requestID, actorID, text string) (domain.Request, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Request{}, ValidationError{Field: "text", Msg: "required"}
	}
	current, err := e.getLive(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := e.Auth.RequireAssigned(current, actorID, "comment"); err != nil {
		return domain.Request{}, err
	}
	updated, err := e.update(ctx, requestID, func(r *domain.Request) error {
		e.appendNote(r, actorID, strings.TrimSpace(text))
		return nil
	}, "request.commented", actorID, events.EventPayload{})
	if err != nil {
		return domain.Request{}, err
	}
	msg := fmt.Sprintf("Note on %s from %s: %s", requestID, actorID, strings.TrimSpace(text))
	e.notifyAssignees(ctx, updated, msg)
	e.notifyThread(ctx, updated, msg)
	return updated, nil
}

// Progress records an assigned developer's quick progress note.
func (e Engine) Progress(ctx context.Context, requestID string, devID string, pct int) (domain.Request, error) {
	if pct < 0 || pct > 100 {
		return domain.Request{}, ValidationError{Field: "pct", Msg: "must be within 0..100"}
	}
	current, err := e.getLive(ctx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := e.Auth.RequireAssignedDev(current, devID, "report progress"); err != nil {
		return domain.Request{}, err
	}
	updated, err := e.update(ctx, requestID, func(r *domain.Request) error {
		e.appendNote(r, devID, fmt.Sprintf("progress %d%%", pct))
		return nil
	}, "request.progress", devID, events.EventPayload{"pct": pct})
	if err != nil {
		return domain.Request{}, err
	}
	e.notifyThread(ctx, updated, fmt.Sprintf("%s reports %d%% progress", devID, pct))
	return updated, nil
}

// StartPayout opens the payout wizard for a pending request. Owner only.
func (e Engine) StartPayout(ctx context.Context, requestID, actorID string) (payout.Session, error) {
	if err := e.Auth.RequireOwner(actorID, "start payout"); err != nil {
		return payout.Session{}, err
	}
	req, err := e.getLive(ctx, requestID)
	if err != nil {
		return payout.Session{}, err
	}
	if req.Status != domain.StatusPending {
		return payout.Session{}, ValidationError{Field: "status", Msg: fmt.Sprintf("request %s is %s, not %s", requestID, req.Status, domain.StatusPending)}
	}
	handles := map[string]string{}
	for _, c := range e.Index.Claims(requestID) {
		handles[c.DevID] = c.Handle
	}
	return e.Payouts.Start(actorID, req, handles)
}

// ConfirmPayout records one confirmed amount. On the final step it commits
// the earnings (one row per developer plus the commission row when the
// commission is positive) and closes the request.
func (e Engine) ConfirmPayout(ctx context.Context, actorID string, amount float64) (payout.Session, error) {
	s, err := e.Payouts.Confirm(actorID, amount)
	if err != nil {
		if errors.Is(err, payout.ErrNoSession) {
			return payout.Session{}, err
		}
		return payout.Session{}, ValidationError{Field: "amount", Msg: err.Error()}
	}
	if !s.Done() {
		return s, nil
	}
	if err := e.finalizePayout(ctx, s, actorID); err != nil {
		return s, err
	}
	return s, nil
}

// CancelPayout abandons the wizard; the request stays pending.
func (e Engine) CancelPayout(actorID string) bool {
	return e.Payouts.Cancel(actorID)
}

// PayoutSession returns the administrator's live wizard, if any.
func (e Engine) PayoutSession(actorID string) (payout.Session, bool) {
	return e.Payouts.Current(actorID)
}

func (e Engine) finalizePayout(ctx context.Context, s payout.Session, actorID string) error {
	ts := e.now().UTC().Format(time.RFC3339)
	sum := 0.0
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for i, step := range s.Steps {
		amount := s.Collected[i]
		sum += amount
		if err := e.Ledger.AppendTx(ctx, tx, domain.Earning{
			TS:        ts,
			RequestID: s.RequestID,
			PayeeID:   step.DevID,
			Handle:    step.Handle,
			Amount:    amount,
			Currency:  s.Currency,
			Note:      step.Role,
		}); err != nil {
			return err
		}
	}
	commission := parse.Round2(sum * float64(e.Config.CommissionPct()) / 100)
	if commission > 0 {
		if err := e.Ledger.AppendTx(ctx, tx, domain.Earning{
			TS:        ts,
			RequestID: s.RequestID,
			PayeeID:   domain.CommissionPayee,
			Amount:    commission,
			Currency:  s.Currency,
			Note:      "commission",
		}); err != nil {
			return err
		}
	}
	updated, err := e.Index.Update(s.RequestID, func(r *domain.Request) error {
		// The request could have been canceled while the wizard was open.
		if r.Status != domain.StatusPending {
			return ValidationError{Field: "status", Msg: fmt.Sprintf("request %s is %s, not %s", s.RequestID, r.Status, domain.StatusPending)}
		}
		r.Status = domain.StatusConfirmed
		return e.Repo.UpsertRequestTx(ctx, tx, *r)
	})
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return fmt.Errorf("request %s: %w", s.RequestID, repo.ErrNotFound)
		}
		return err
	}
	if err := e.Events.Append(ctx, tx, "request.payout_confirmed", s.RequestID, "request", s.RequestID, actorID, events.EventPayload{
		"total":      parse.Round2(sum),
		"commission": commission,
		"currency":   s.Currency,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.notifyThread(ctx, updated, fmt.Sprintf("Payout confirmed, request closed (%.2f %s total)", parse.Round2(sum), s.Currency))
	return nil
}

// GetRequest prefers the live index copy and falls back to the log.
func (e Engine) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	if req, ok := e.Index.Get(id); ok {
		return req, nil
	}
	return e.Repo.GetRequest(ctx, id)
}

// ListRequests reads from the log so terminal requests stay queryable.
func (e Engine) ListRequests(ctx context.Context, status string) ([]domain.Request, error) {
	return e.Repo.ListRequests(ctx, status)
}

// ActiveRequests returns the live non-terminal requests, oldest first.
func (e Engine) ActiveRequests(ctx context.Context) []domain.Request {
	var out []domain.Request
	for _, r := range e.Index.List() {
		if !domain.IsTerminal(r.Status) {
			out = append(out, r)
		}
	}
	return out
}

// Claims lists claims on a request.
func (e Engine) Claims(requestID string) []domain.Claim {
	return e.Index.Claims(requestID)
}

// DeveloperSummary is the developer dashboard: live work plus confirmed
// earnings.
type DeveloperSummary struct {
	DevID     string                  `json:"dev_id"`
	Active    []domain.Request        `json:"active,omitempty"`
	Confirmed map[string]ledger.Total `json:"confirmed,omitempty"`
}

func (e Engine) SummarizeDeveloper(ctx context.Context, devID string) (DeveloperSummary, error) {
	totals, err := e.Ledger.DeveloperTotals(ctx, devID)
	if err != nil {
		return DeveloperSummary{}, err
	}
	s := DeveloperSummary{DevID: devID, Confirmed: totals}
	for _, r := range e.ActiveRequests(ctx) {
		if _, ok := r.Assignments[devID]; ok {
			s.Active = append(s.Active, r)
		}
	}
	return s, nil
}

// AdminFunds reports commission totals per currency; windowDays 0 means
// all-time. Owner and managers only.
func (e Engine) AdminFunds(ctx context.Context, actorID string, windowDays int) (map[string]ledger.Total, error) {
	if err := e.Auth.RequireAdmin(actorID, "view funds"); err != nil {
		return nil, err
	}
	return e.Ledger.CommissionTotals(ctx, windowDays, e.now())
}

// update runs a mutation under the request lock, persisting the flattened
// row and the audit event in one transaction before the index copy is
// replaced.
func (e Engine) update(ctx context.Context, requestID string, fn func(*domain.Request) error, evtType, actorID string, payload events.EventPayload) (domain.Request, error) {
	updated, err := e.Index.Update(requestID, func(r *domain.Request) error {
		if err := fn(r); err != nil {
			return err
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.UpsertRequestTx(ctx, tx, *r); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, evtType, requestID, "request", requestID, actorID, payload); err != nil {
			return err
		}
		return tx.Commit()
	})
	if errors.Is(err, index.ErrNotFound) {
		return domain.Request{}, fmt.Errorf("request %s: %w", requestID, repo.ErrNotFound)
	}
	return updated, err
}

// getLive resolves a request for a mutation path: it must be in the index.
func (e Engine) getLive(ctx context.Context, requestID string) (domain.Request, error) {
	if req, ok := e.Index.Get(requestID); ok {
		return req, nil
	}
	return domain.Request{}, fmt.Errorf("request %s: %w", requestID, repo.ErrNotFound)
}

func (e Engine) appendNote(r *domain.Request, author, text string) {
	line := fmt.Sprintf("[%s] (%s) %s\n", e.now().UTC().Format(time.RFC3339), author, text)
	r.Notes += line
}

func displayName(c domain.Claim) string {
	if c.Handle != "" {
		return c.Handle
	}
	if c.Name != "" {
		return c.Name
	}
	return c.DevID
}
