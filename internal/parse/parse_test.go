package parse_test

import (
	"testing"
	"time"

	"quoteflow/internal/domain"
	"quoteflow/internal/parse"
)

func TestAmount(t *testing.T) {
	cases := []struct {
		in   string
		want *domain.Money
	}{
		{"300 EUR", &domain.Money{Amount: 300, Currency: "EUR"}},
		{"1500", &domain.Money{Amount: 1500, Currency: "EUR"}},
		{"2500 lei", &domain.Money{Amount: 2500, Currency: "MDL"}},
		{"99,50 usd", &domain.Money{Amount: 99.5, Currency: "USD"}},
		{"aprox 450mdl", &domain.Money{Amount: 450, Currency: "MDL"}},
		{"no budget yet", nil},
	}
	for _, tc := range cases {
		got := parse.Amount(tc.in)
		if tc.want == nil {
			if got != nil {
				t.Fatalf("%q: expected no parse, got %+v", tc.in, got)
			}
			continue
		}
		if got == nil {
			t.Fatalf("%q: expected %+v, got nil", tc.in, tc.want)
		}
		if got.Amount != tc.want.Amount || got.Currency != tc.want.Currency {
			t.Fatalf("%q: expected %+v, got %+v", tc.in, tc.want, got)
		}
	}
}

func TestAmountFormatRoundTrip(t *testing.T) {
	m := parse.Amount("99,50 usd")
	if m == nil {
		t.Fatal("expected parse")
	}
	again := parse.Amount(parse.FormatMoney(*m))
	if again == nil || again.Amount != m.Amount || again.Currency != m.Currency {
		t.Fatalf("round trip mismatch: %+v vs %+v", m, again)
	}
}

func TestDeadlineRelative(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := map[string]string{
		"10 days": "2024-03-11",
		"3 zile":  "2024-03-04",
		"1 zi":    "2024-03-02",
		"14дн":    "2024-03-15",
	}
	for in, want := range cases {
		if got := parse.Deadline(in, now); got != want {
			t.Fatalf("%q: expected %s, got %s", in, want, got)
		}
	}
}

func TestDeadlineAbsolute(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	cases := map[string]string{
		"2024-04-15":    "2024-04-15",
		"15.04.2024":    "2024-04-15",
		"15/04/2024":    "2024-04-15",
		"15-04-2024":    "2024-04-15",
		"15 04 2024":    "2024-04-15",
		"15 Apr 2024":   "2024-04-15",
		"15 April 2024": "2024-04-15",
	}
	for in, want := range cases {
		if got := parse.Deadline(in, now); got != want {
			t.Fatalf("%q: expected %s, got %s", in, want, got)
		}
	}
	if got := parse.Deadline("whenever", now); got != "" {
		t.Fatalf("expected no parse, got %s", got)
	}
}

func TestVisibleBudget(t *testing.T) {
	cases := []struct {
		amount float64
		want   string
	}{
		{500, "~350 EUR"},
		{300, "~210 EUR"},
		{99, "~69 EUR"},
	}
	for _, tc := range cases {
		got := parse.VisibleBudget(domain.Money{Amount: tc.amount, Currency: "EUR"})
		if got != tc.want {
			t.Fatalf("%v: expected %s, got %s", tc.amount, tc.want, got)
		}
	}
}
