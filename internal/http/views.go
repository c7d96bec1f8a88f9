package http

import (
	"net/http"
	"strings"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/currency"
)

// Money is a base amount rendered in the requested display currency.
type Money struct {
	Amount    float64 `json:"amount"`
	Formatted string  `json:"formatted"`
}

type periodView struct {
	Month *int   `json:"month"`
	Year  *int   `json:"year"`
	Label string `json:"label"`
}

func newPeriodView(p core.Period) periodView {
	return periodView{Month: p.Month, Year: p.Year, Label: p.Label()}
}

// display carries what is needed to render amounts for one request.
type display struct {
	code      string
	rates     currency.Rates
	live      bool
	formatter *currency.Formatter
}

// display resolves the currency query parameter, defaulting to the base.
func (s *Server) display(r *http.Request) (display, error) {
	table := s.rates.Table()
	code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))
	if code == "" {
		code = table.Base
	}
	if _, ok := table.Lookup(code); !ok {
		return display{}, core.NewValidationError("currency", "unsupported currency "+code)
	}
	return display{
		code:      code,
		rates:     s.rates.Rates(r.Context()),
		live:      s.rates.Live(),
		formatter: s.formatter,
	}, nil
}

func (d display) money(base float64) Money {
	formatted := d.formatter.Format(base, d.code, d.rates)
	if base < 0 {
		formatted = "-" + formatted
	}
	return Money{
		Amount:    core.Round2(currency.ToDisplay(base, d.code, d.rates)),
		Formatted: formatted,
	}
}

type transactionView struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Timestamp   int64  `json:"timestamp"`
	Date        string `json:"date"`
	Amount      Money  `json:"amount"`
	Recurring   bool   `json:"recurring"`
}

func (d display) transaction(t core.Transaction, loc *time.Location) transactionView {
	return transactionView{
		ID:          t.ID,
		Type:        string(t.Type),
		Category:    t.Category,
		Description: t.Description,
		Timestamp:   t.Timestamp,
		Date:        t.Time(loc).Format(time.DateOnly),
		Amount:      d.money(t.Amount),
		Recurring:   strings.HasPrefix(t.Description, core.RecurringPrefix),
	}
}

type templateView struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Frequency   string `json:"frequency"`
	Amount      Money  `json:"amount"`
	LastRun     *int64 `json:"lastRun"`
}

func (d display) template(t core.RecurringTemplate) templateView {
	return templateView{
		ID:          t.ID,
		Type:        string(t.Type),
		Category:    t.Category,
		Description: t.Description,
		Frequency:   string(t.Frequency),
		Amount:      d.money(t.Amount),
		LastRun:     t.LastRun,
	}
}

type goalView struct {
	Set        bool    `json:"set"`
	Goal       *Money  `json:"goal"`
	Expense    Money   `json:"expense"`
	Remaining  *Money  `json:"remaining"`
	Percentage float64 `json:"percentage"`
	OverBudget bool    `json:"overBudget"`
	Level      string  `json:"level"`
}

func (d display) goal(g core.GoalProgress) goalView {
	v := goalView{
		Set:        g.Set,
		Expense:    d.money(g.Expense),
		Percentage: core.Round2(g.Percentage),
		OverBudget: g.OverBudget,
		Level:      string(g.Level()),
	}
	if g.Set {
		goal, remaining := d.money(g.Goal), d.money(g.Remaining)
		v.Goal, v.Remaining = &goal, &remaining
	}
	return v
}

type categoryView struct {
	Name   string  `json:"name"`
	Amount Money   `json:"amount"`
	Share  float64 `json:"share"`
}

type summaryView struct {
	Period     periodView     `json:"period"`
	Currency   string         `json:"currency"`
	LiveRates  bool           `json:"liveRates"`
	Income     Money          `json:"income"`
	Expense    Money          `json:"expense"`
	Balance    Money          `json:"balance"`
	Categories []categoryView `json:"categories"`
	Goal       goalView       `json:"goal"`
}

func (d display) summary(p core.Period, sum core.Summary, g core.GoalProgress) summaryView {
	v := summaryView{
		Period:     newPeriodView(p),
		Currency:   d.code,
		LiveRates:  d.live,
		Income:     d.money(sum.Income),
		Expense:    d.money(sum.Expense),
		Balance:    d.money(sum.Balance),
		Categories: []categoryView{},
		Goal:       d.goal(g),
	}
	for _, c := range sum.Categories() {
		share := 0.0
		if sum.Expense > 0 {
			share = core.Round2(c.Amount / sum.Expense * 100)
		}
		v.Categories = append(v.Categories, categoryView{Name: c.Name, Amount: d.money(c.Amount), Share: share})
	}
	return v
}

type metricView struct {
	Metric string   `json:"metric"`
	A      Money    `json:"a"`
	B      Money    `json:"b"`
	Diff   Money    `json:"diff"`
	Change *float64 `json:"change"`
	Label  string   `json:"changeLabel"`
}

type reportView struct {
	A         periodView   `json:"a"`
	B         periodView   `json:"b"`
	Currency  string       `json:"currency"`
	LiveRates bool         `json:"liveRates"`
	Metrics   []metricView `json:"metrics"`
}

func (d display) report(a, b core.Period, c core.Comparison) reportView {
	v := reportView{
		A:         newPeriodView(a),
		B:         newPeriodView(b),
		Currency:  d.code,
		LiveRates: d.live,
		Metrics:   make([]metricView, 0, len(c.Metrics)),
	}
	for _, m := range c.Metrics {
		v.Metrics = append(v.Metrics, metricView{
			Metric: m.Metric,
			A:      d.money(m.A),
			B:      d.money(m.B),
			Diff:   d.money(m.Diff),
			Change: m.Change,
			Label:  m.ChangeLabel(),
		})
	}
	return v
}
