package export_test

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"quoteflow/internal/domain"
	"quoteflow/internal/export"
)

func TestMonthBounds(t *testing.T) {
	from, to, err := export.MonthBounds("2024-02")
	if err != nil {
		t.Fatal(err)
	}
	if from != "2024-02-01T00:00:00Z" || to != "2024-03-01T00:00:00Z" {
		t.Fatalf("bounds: %s .. %s", from, to)
	}
	if _, _, err := export.MonthBounds("Feb 2024"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRequestsCSV(t *testing.T) {
	deadline := "2024-03-11"
	var buf bytes.Buffer
	err := export.RequestsCSV(&buf, []domain.Request{{
		ID:          "A1B2C3D4",
		CreatedAt:   "2024-03-01T12:00:00Z",
		SubmitterID: "client-1",
		Category:    "web",
		Title:       "Shop, with commas",
		BudgetRaw:   "300 EUR",
		Budget:      &domain.Money{Amount: 300, Currency: "EUR"},
		DeadlineISO: &deadline,
		Status:      domain.StatusNew,
		Assignments: map[string]domain.Assignment{"dev-a": {Role: domain.RoleLead, Pct: 100}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header plus one row, got %d", len(records))
	}
	row := records[1]
	if row[0] != "A1B2C3D4" || row[7] != "Shop, with commas" || row[10] != "300" || row[16] != "dev-a" {
		t.Fatalf("row: %v", row)
	}
}

func TestEarningsCSV(t *testing.T) {
	var buf bytes.Buffer
	err := export.EarningsCSV(&buf, []domain.Earning{
		{TS: "2024-03-01T12:00:00Z", RequestID: "A1B2C3D4", PayeeID: domain.CommissionPayee, Amount: 30, Currency: "EUR", Note: "commission"},
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "30.00,EUR,commission") {
		t.Fatalf("amount should carry two decimals: %q", out)
	}
}
