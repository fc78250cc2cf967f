package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"quoteflow/internal/domain"
	"quoteflow/internal/parse"
)

// Ledger is the append-only record of confirmed payments. Rows are never
// edited or deleted; every aggregate below is computed by a full scan.
type Ledger struct {
	DB *sql.DB
}

// AppendTx writes one earnings row inside the caller's transaction. The
// amount is rounded to two decimals on the way in.
func (l Ledger) AppendTx(ctx context.Context, tx *sql.Tx, e domain.Earning) error {
	if e.TS == "" {
		return errors.New("earning ts required")
	}
	if e.PayeeID == "" {
		return errors.New("earning payee required")
	}
	if e.Amount < 0 {
		return errors.New("earning amount must not be negative")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO earnings(ts,request_id,payee_id,handle,amount,currency,note) VALUES (?,?,?,?,?,?,?)`,
		e.TS, e.RequestID, e.PayeeID, nullable(e.Handle), parse.Round2(e.Amount), e.Currency, nullable(e.Note))
	return err
}

// List returns ledger rows oldest first, optionally filtered by payee.
func (l Ledger) List(ctx context.Context, payeeID string) ([]domain.Earning, error) {
	query := `SELECT id,ts,request_id,payee_id,COALESCE(handle,''),amount,currency,COALESCE(note,'') FROM earnings`
	var args []any
	if payeeID != "" {
		query += ` WHERE payee_id=?`
		args = append(args, payeeID)
	}
	query += ` ORDER BY id ASC`
	rows, err := l.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Earning
	for rows.Next() {
		var e domain.Earning
		if err := rows.Scan(&e.ID, &e.TS, &e.RequestID, &e.PayeeID, &e.Handle, &e.Amount, &e.Currency, &e.Note); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Total is a per-currency aggregate.
type Total struct {
	Amount float64 `json:"amount"`
	Count  int     `json:"count"`
}

// DeveloperTotals returns lifetime confirmed totals per currency for one
// developer.
func (l Ledger) DeveloperTotals(ctx context.Context, devID string) (map[string]Total, error) {
	rows, err := l.List(ctx, devID)
	if err != nil {
		return nil, err
	}
	totals := map[string]Total{}
	for _, e := range rows {
		t := totals[e.Currency]
		t.Amount = parse.Round2(t.Amount + e.Amount)
		t.Count++
		totals[e.Currency] = t
	}
	return totals, nil
}

// CommissionTotals aggregates the administrative commission per currency.
// windowDays == 0 means all-time. Rows with timestamps that do not parse are
// included in the all-time figure and left out of any windowed one.
func (l Ledger) CommissionTotals(ctx context.Context, windowDays int, now time.Time) (map[string]Total, error) {
	rows, err := l.List(ctx, domain.CommissionPayee)
	if err != nil {
		return nil, err
	}
	var cutoff time.Time
	if windowDays > 0 {
		cutoff = now.AddDate(0, 0, -windowDays)
	}
	totals := map[string]Total{}
	for _, e := range rows {
		if windowDays > 0 {
			ts, err := time.Parse(time.RFC3339, e.TS)
			if err != nil || ts.Before(cutoff) {
				continue
			}
		}
		t := totals[e.Currency]
		t.Amount = parse.Round2(t.Amount + e.Amount)
		t.Count++
		totals[e.Currency] = t
	}
	return totals, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
