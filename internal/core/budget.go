package core

import "math"

// GoalLevel is the progress band used to colour the goal bar.
type GoalLevel string

const (
	GoalOK      GoalLevel = "ok"
	GoalWarning GoalLevel = "warning"
	GoalOver    GoalLevel = "over"
)

// GoalProgress compares a period's expense against the monthly goal.
type GoalProgress struct {
	Set        bool    `json:"set"`
	Goal       float64 `json:"goal"`
	Expense    float64 `json:"expense"`
	Percentage float64 `json:"percentage"`
	Remaining  float64 `json:"remaining"`
	OverBudget bool    `json:"overBudget"`
}

// EvaluateGoal computes progress for a goal; a nil goal means unset.
// Percentage is clamped to 100, Remaining is not.
func EvaluateGoal(goal *float64, expense float64) GoalProgress {
	if goal == nil {
		return GoalProgress{Expense: expense}
	}
	g := *goal
	p := GoalProgress{Set: true, Goal: g, Expense: expense}
	switch {
	case g > 0:
		p.Percentage = math.Min(100, expense/g*100)
	case expense > 0:
		p.Percentage = 100
	}
	p.Remaining = g - expense
	p.OverBudget = p.Remaining < 0
	return p
}

func (p GoalProgress) Level() GoalLevel {
	switch {
	case p.OverBudget:
		return GoalOver
	case p.Percentage > 75:
		return GoalWarning
	}
	return GoalOK
}
