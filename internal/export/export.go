package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"quoteflow/internal/domain"
)

// MonthBounds converts "YYYY-MM" into the RFC3339 [from, to) range covering
// that calendar month.
func MonthBounds(month string) (string, string, error) {
	start, err := time.Parse("2006-01", strings.TrimSpace(month))
	if err != nil {
		return "", "", fmt.Errorf("month must look like 2006-01: %w", err)
	}
	end := start.AddDate(0, 1, 0)
	return start.Format(time.RFC3339), end.Format(time.RFC3339), nil
}

var requestHeader = []string{
	"id", "created_at", "submitter_id", "submitter_name", "submitter_handle", "submitter_hash",
	"category", "title", "description", "budget_raw", "budget_amount", "budget_currency",
	"deadline_raw", "deadline_iso", "contact", "status", "assignees", "started_at", "notes",
	"thread_id", "thread_link",
}

// RequestsCSV flattens log rows to CSV, one row per request.
func RequestsCSV(w io.Writer, reqs []domain.Request) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(requestHeader); err != nil {
		return err
	}
	for _, r := range reqs {
		amount, currency := "", ""
		if r.Budget != nil {
			amount = strconv.FormatFloat(r.Budget.Amount, 'f', -1, 64)
			currency = r.Budget.Currency
		}
		deadline := ""
		if r.DeadlineISO != nil {
			deadline = *r.DeadlineISO
		}
		started := ""
		if r.StartedAt != nil {
			started = *r.StartedAt
		}
		record := []string{
			r.ID, r.CreatedAt, r.SubmitterID, r.SubmitterName, r.SubmitterHandle, r.SubmitterHash,
			r.Category, r.Title, r.Description, r.BudgetRaw, amount, currency,
			r.DeadlineRaw, deadline, r.Contact, r.Status, strings.Join(r.Assignees(), ","), started, r.Notes,
			r.ThreadID, r.ThreadLink,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var earningHeader = []string{"ts", "request_id", "payee_id", "handle", "amount", "currency", "note"}

// EarningsCSV writes ledger rows to CSV with two-decimal amounts.
func EarningsCSV(w io.Writer, rows []domain.Earning) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(earningHeader); err != nil {
		return err
	}
	for _, e := range rows {
		record := []string{
			e.TS, e.RequestID, e.PayeeID, e.Handle,
			strconv.FormatFloat(e.Amount, 'f', 2, 64), e.Currency, e.Note,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
