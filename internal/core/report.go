package core

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// MetricComparison is one row of a period comparison.
type MetricComparison struct {
	Metric string  `json:"metric"`
	A      float64 `json:"a"`
	B      float64 `json:"b"`
	Diff   float64 `json:"diff"`
	// Change is the percentage change of A over B, one decimal place.
	// Nil when B is zero and A is not.
	Change *float64 `json:"change"`
}

// IsNew reports a metric that went from zero to a non-zero value.
func (m MetricComparison) IsNew() bool {
	return m.Change == nil
}

// ChangeLabel renders Change for display ("12.5", "N/A").
func (m MetricComparison) ChangeLabel() string {
	if m.Change == nil {
		return "N/A"
	}
	return decimal.NewFromFloat(*m.Change).StringFixed(1)
}

// Comparison holds the income, expense and balance rows for two periods.
type Comparison struct {
	LabelA  string             `json:"labelA"`
	LabelB  string             `json:"labelB"`
	Metrics []MetricComparison `json:"metrics"`
}

func compareMetric(name string, a, b float64) MetricComparison {
	m := MetricComparison{Metric: name, A: a, B: b, Diff: a - b}
	switch {
	case b != 0:
		pct, _ := decimal.NewFromFloat(m.Diff / math.Abs(b) * 100).Round(1).Float64()
		m.Change = &pct
	case a == 0:
		zero := 0.0
		m.Change = &zero
	}
	return m
}

// Compare aggregates txs over periods a and b and compares the totals.
func Compare(txs []Transaction, a, b Period, loc *time.Location) Comparison {
	sa := Aggregate(txs, a, loc)
	sb := Aggregate(txs, b, loc)
	return Comparison{
		LabelA: a.Label(),
		LabelB: b.Label(),
		Metrics: []MetricComparison{
			compareMetric("Income", sa.Income, sb.Income),
			compareMetric("Expense", sa.Expense, sb.Expense),
			compareMetric("Balance", sa.Balance, sb.Balance),
		},
	}
}

// Label names the period, e.g. "March 2025". Periods missing either
// field are labelled "All Time".
func (p Period) Label() string {
	if p.Month == nil || p.Year == nil {
		return "All Time"
	}
	return fmt.Sprintf("%s %d", time.Month(*p.Month), *p.Year)
}
