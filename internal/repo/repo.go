package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"quoteflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const requestColumns = `id,created_at,submitter_id,submitter_name,COALESCE(submitter_handle,''),submitter_hash,
category,title,description,budget_raw,budget_amount,budget_currency,deadline_raw,deadline_iso,contact,status,
assignees,started_at,notes,COALESCE(thread_id,''),COALESCE(thread_link,'')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (domain.Request, error) {
	var r domain.Request
	var amount sql.NullFloat64
	var currency, deadline, started sql.NullString
	var assignees string
	err := row.Scan(&r.ID, &r.CreatedAt, &r.SubmitterID, &r.SubmitterName, &r.SubmitterHandle, &r.SubmitterHash,
		&r.Category, &r.Title, &r.Description, &r.BudgetRaw, &amount, &currency, &r.DeadlineRaw, &deadline,
		&r.Contact, &r.Status, &assignees, &started, &r.Notes, &r.ThreadID, &r.ThreadLink)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if amount.Valid {
		r.Budget = &domain.Money{Amount: amount.Float64, Currency: currency.String}
	}
	if deadline.Valid && deadline.String != "" {
		r.DeadlineISO = &deadline.String
	}
	if started.Valid && started.String != "" {
		r.StartedAt = &started.String
	}
	if assignees != "" {
		r.AssigneeIDs = strings.Split(assignees, ",")
	}
	return r, nil
}

// InsertRequestTx writes a brand-new request row. The primary key makes a
// duplicate identifier fail closed instead of overwriting.
func (r Repo) InsertRequestTx(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO requests(id,created_at,submitter_id,submitter_name,submitter_handle,submitter_hash,
category,title,description,budget_raw,budget_amount,budget_currency,deadline_raw,deadline_iso,contact,status,
assignees,started_at,notes,thread_id,thread_link) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		requestArgs(req)...)
	return err
}

// UpsertRequestTx flattens and persists the request, last write per
// identifier wins.
func (r Repo) UpsertRequestTx(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO requests(id,created_at,submitter_id,submitter_name,submitter_handle,submitter_hash,
category,title,description,budget_raw,budget_amount,budget_currency,deadline_raw,deadline_iso,contact,status,
assignees,started_at,notes,thread_id,thread_link) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
created_at=excluded.created_at, submitter_id=excluded.submitter_id, submitter_name=excluded.submitter_name,
submitter_handle=excluded.submitter_handle, submitter_hash=excluded.submitter_hash, category=excluded.category,
title=excluded.title, description=excluded.description, budget_raw=excluded.budget_raw,
budget_amount=excluded.budget_amount, budget_currency=excluded.budget_currency, deadline_raw=excluded.deadline_raw,
deadline_iso=excluded.deadline_iso, contact=excluded.contact, status=excluded.status, assignees=excluded.assignees,
started_at=excluded.started_at, notes=excluded.notes, thread_id=excluded.thread_id, thread_link=excluded.thread_link`,
		requestArgs(req)...)
	return err
}

func requestArgs(req domain.Request) []any {
	var amount any
	var currency any
	if req.Budget != nil {
		amount = req.Budget.Amount
		currency = req.Budget.Currency
	}
	var deadline any
	if req.DeadlineISO != nil {
		deadline = *req.DeadlineISO
	}
	var started any
	if req.StartedAt != nil {
		started = *req.StartedAt
	}
	return []any{
		req.ID, req.CreatedAt, req.SubmitterID, req.SubmitterName, nullable(req.SubmitterHandle), req.SubmitterHash,
		req.Category, req.Title, req.Description, req.BudgetRaw, amount, currency, req.DeadlineRaw, deadline,
		req.Contact, req.Status, strings.Join(req.Assignees(), ","), started, req.Notes,
		nullable(req.ThreadID), nullable(req.ThreadLink),
	}
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return scanRequest(r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id))
}

// ListRequests returns requests newest first, optionally filtered by status.
func (r Repo) ListRequests(ctx context.Context, status string) ([]domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	return r.queryRequests(ctx, query, args...)
}

// ListActiveRequests returns all non-terminal requests, oldest first.
func (r Repo) ListActiveRequests(ctx context.Context) ([]domain.Request, error) {
	return r.queryRequests(ctx, `SELECT `+requestColumns+` FROM requests WHERE status NOT IN (?,?) ORDER BY created_at ASC`,
		domain.StatusConfirmed, domain.StatusCanceled)
}

// ListRequestsCreatedBetween returns requests whose creation timestamp falls
// inside [from, to), compared lexically on RFC3339 strings.
func (r Repo) ListRequestsCreatedBetween(ctx context.Context, from, to string) ([]domain.Request, error) {
	return r.queryRequests(ctx, `SELECT `+requestColumns+` FROM requests WHERE created_at >= ? AND created_at < ? ORDER BY created_at ASC`,
		from, to)
}

func (r Repo) queryRequests(ctx context.Context, query string, args ...any) ([]domain.Request, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// UpsertClaimTx records a developer's interest; claiming again refreshes the
// stored handle and name, never duplicates.
func (r Repo) UpsertClaimTx(ctx context.Context, tx *sql.Tx, c domain.Claim) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO claims(request_id,dev_id,handle,name,claimed_at) VALUES (?,?,?,?,?)
ON CONFLICT(request_id,dev_id) DO UPDATE SET handle=excluded.handle, name=excluded.name`,
		c.RequestID, c.DevID, nullable(c.Handle), nullable(c.Name), c.ClaimedAt)
	return err
}

func (r Repo) ListClaims(ctx context.Context, requestID string) ([]domain.Claim, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT request_id,dev_id,COALESCE(handle,''),COALESCE(name,''),claimed_at FROM claims WHERE request_id=? ORDER BY claimed_at ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Claim
	for rows.Next() {
		var c domain.Claim
		if err := rows.Scan(&c.RequestID, &c.DevID, &c.Handle, &c.Name, &c.ClaimedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// EventsAfter returns up to limit audit events with id greater than after.
func (r Repo) EventsAfter(ctx context.Context, limit int, after int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(request_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RequestID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestEventID returns the current tail of the audit log.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// ListEvents returns audit events for a request, oldest first.
func (r Repo) ListEvents(ctx context.Context, requestID string, limit int) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(request_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	var args []any
	if requestID != "" {
		query += ` WHERE request_id=?`
		args = append(args, requestID)
	}
	query += ` ORDER BY id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RequestID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
