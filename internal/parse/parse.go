package parse

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"quoteflow/internal/domain"
)

// DefaultCurrency is assumed when the budget text carries no currency token.
const DefaultCurrency = "EUR"

var amountRe = regexp.MustCompile(`([0-9]+(?:[.,][0-9]+)?)(MDL|LEI|EUR|USD|RON|RUB|UAH)?`)

// Amount extracts a leading numeric token plus an optional currency code.
// The colloquial LEI alias normalizes to MDL. Returns nil if no numeric
// token is present.
func Amount(text string) *domain.Money {
	t := strings.ReplaceAll(strings.ToUpper(text), " ", "")
	m := amountRe.FindStringSubmatch(t)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return nil
	}
	cur := m[2]
	if cur == "" {
		cur = DefaultCurrency
	}
	if cur == "LEI" {
		cur = "MDL"
	}
	return &domain.Money{Amount: v, Currency: cur}
}

var relDaysRe = regexp.MustCompile(`(?i)(\d+)\s*(zile|zi|days|day|дн)`)

var deadlineLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"02-01-2006",
	"02 01 2006",
	"02 Jan 2006",
	"02 January 2006",
}

// Deadline normalizes free-text deadline input into an ISO calendar date.
// Relative-days phrasing ("10 days", "3 zile") resolves against now; absolute
// dates are tried across a fixed layout list, first match wins. Returns ""
// when neither path recognizes the text.
func Deadline(text string, now time.Time) string {
	if m := relDaysRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return now.AddDate(0, 0, n).Format("2006-01-02")
		}
	}
	t := strings.TrimSpace(text)
	for _, layout := range deadlineLayouts {
		if d, err := time.Parse(layout, t); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return ""
}

// VisibleBudget renders the developer-facing figure: 70% of the true amount,
// rounded to the nearest whole unit.
func VisibleBudget(m domain.Money) string {
	return fmt.Sprintf("~%d %s", int(math.Round(m.Amount*0.7)), m.Currency)
}

// FormatMoney renders an amount with two decimals and its currency code.
func FormatMoney(m domain.Money) string {
	return fmt.Sprintf("%.2f %s", m.Amount, m.Currency)
}

// Round2 rounds monetary values to cent precision.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
