package services

import (
	"errors"
	"testing"
	"time"

	"fintrack/internal/core"
)

func TestMonthlyChecker_IsDue(t *testing.T) {
	checker := MonthlyChecker{}
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		lastRun time.Time
		want    bool
	}{
		{
			name:    "never run - is due",
			lastRun: time.Time{},
			want:    true,
		},
		{
			name:    "run this month - not due",
			lastRun: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			want:    false,
		},
		{
			name:    "run last month - is due",
			lastRun: time.Date(2025, 2, 28, 23, 0, 0, 0, time.UTC),
			want:    true,
		},
		{
			name:    "run last year same month - is due",
			lastRun: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
			want:    true,
		},
		{
			name:    "run in a later month - not due",
			lastRun: time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC),
			want:    false,
		},
		{
			name:    "december to january - is due",
			lastRun: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := checker.IsDue(tt.lastRun, now)
			if got != tt.want {
				t.Errorf("MonthlyChecker.IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetDuenessChecker(t *testing.T) {
	if _, err := GetDuenessChecker(core.Monthly); err != nil {
		t.Errorf("GetDuenessChecker(Monthly) error = %v", err)
	}
	if _, err := GetDuenessChecker("Weekly"); !errors.Is(err, core.ErrInvalidFrequency) {
		t.Errorf("GetDuenessChecker(Weekly) error = %v, want ErrInvalidFrequency", err)
	}
}

func TestIsTemplateDueUsesLocation(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skip("tzdata not available")
	}
	// 2025-02-28 23:30 UTC is already March 1st in Rome.
	last := time.Date(2025, 2, 28, 23, 30, 0, 0, time.UTC).UnixMilli()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	tpl := core.RecurringTemplate{Frequency: core.Monthly, LastRun: &last}

	due, err := IsTemplateDue(tpl, now, time.UTC)
	if err != nil || !due {
		t.Errorf("IsTemplateDue(UTC) = %v, %v, want true", due, err)
	}
	due, err = IsTemplateDue(tpl, now, rome)
	if err != nil || due {
		t.Errorf("IsTemplateDue(Rome) = %v, %v, want false", due, err)
	}
}
