package core

import (
	"sort"
	"strings"
	"time"
)

// Period restricts aggregation to a calendar month and/or year.
// A nil field places no constraint on that axis.
type Period struct {
	Month *int
	Year  *int
}

// AllTime matches every transaction.
var AllTime = Period{}

// MonthOf returns the period covering the calendar month of t.
func MonthOf(t time.Time) Period {
	m, y := int(t.Month()), t.Year()
	return Period{Month: &m, Year: &y}
}

func (p Period) Validate() error {
	if p.Month != nil && (*p.Month < 1 || *p.Month > 12) {
		return ErrInvalidMonth
	}
	if p.Year != nil && (*p.Year < 1970 || *p.Year > 9999) {
		return ErrInvalidYear
	}
	return nil
}

// Contains reports whether t falls inside the period, using loc for calendar fields.
func (p Period) Contains(t Transaction, loc *time.Location) bool {
	if p.Month == nil && p.Year == nil {
		return true
	}
	ts := t.Time(loc)
	if p.Month != nil && int(ts.Month()) != *p.Month {
		return false
	}
	if p.Year != nil && ts.Year() != *p.Year {
		return false
	}
	return true
}

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// Summary is the income/expense/balance view of a period.
type Summary struct {
	Income     float64            `json:"income"`
	Expense    float64            `json:"expense"`
	Balance    float64            `json:"balance"`
	ByCategory map[string]float64 `json:"categoryBreakdown"`
}

// Categories returns the expense breakdown ordered by amount, largest first.
func (s Summary) Categories() []CategoryAmount {
	out := make([]CategoryAmount, 0, len(s.ByCategory))
	for name, amount := range s.ByCategory {
		out = append(out, CategoryAmount{Name: name, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Filter returns the transactions inside p, preserving input order.
func Filter(txs []Transaction, p Period, loc *time.Location) []Transaction {
	out := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		if p.Contains(t, loc) {
			out = append(out, t)
		}
	}
	return out
}

// Aggregate totals the transactions inside p. Only expenses feed the
// category breakdown; a blank category is reported as Uncategorized.
func Aggregate(txs []Transaction, p Period, loc *time.Location) Summary {
	s := Summary{ByCategory: map[string]float64{}}
	for _, t := range txs {
		if !p.Contains(t, loc) {
			continue
		}
		switch t.Type {
		case Income:
			s.Income += t.Amount
		case Expense:
			s.Expense += t.Amount
			cat := strings.TrimSpace(t.Category)
			if cat == "" {
				cat = UncategorizedLabel
			}
			s.ByCategory[cat] += t.Amount
		}
	}
	s.Balance = s.Income - s.Expense
	return s
}
