// Package services holds the tracker's business operations: recurring
// materialization, category management, data reset and the per-account
// tracker sessions built on top of them.
//
// This file implements the strategy registry for recurring dueness. Each
// frequency has its own checker deciding whether a template is due.
package services

import (
	"fmt"
	"time"

	"fintrack/internal/core"
)

// DuenessChecker decides whether a template should post again.
type DuenessChecker interface {
	// IsDue reports whether a template last run at lastRun is due at now.
	// A zero lastRun means the template never ran. Both times must already
	// be in the location used for calendar math.
	IsDue(lastRun, now time.Time) bool
}

// MonthlyChecker posts once per calendar month.
type MonthlyChecker struct{}

// IsDue is true when now falls in a later calendar month than lastRun.
// A lastRun in the future never makes a template due again.
func (MonthlyChecker) IsDue(lastRun, now time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	return monthIndex(now) > monthIndex(lastRun)
}

func monthIndex(t time.Time) int {
	return t.Year()*12 + int(t.Month()) - 1
}

var duenessStrategies = map[core.Frequency]DuenessChecker{
	core.Monthly: MonthlyChecker{},
}

// GetDuenessChecker returns the checker registered for frequency.
func GetDuenessChecker(frequency core.Frequency) (DuenessChecker, error) {
	checker, ok := duenessStrategies[frequency]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidFrequency, frequency)
	}
	return checker, nil
}

// IsTemplateDue resolves the template's checker and applies it in loc.
func IsTemplateDue(t core.RecurringTemplate, now time.Time, loc *time.Location) (bool, error) {
	checker, err := GetDuenessChecker(t.Frequency)
	if err != nil {
		return false, err
	}
	if loc == nil {
		loc = time.Local
	}
	var last time.Time
	if t.LastRun != nil {
		last = time.UnixMilli(*t.LastRun).In(loc)
	}
	return checker.IsDue(last, now.In(loc)), nil
}
