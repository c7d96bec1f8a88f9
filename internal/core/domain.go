package core

import (
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	Income  TxType = "Income"
	Expense TxType = "Expense"

	Monthly Frequency = "Monthly"

	// RecurringPrefix marks transactions created by the recurring processor.
	RecurringPrefix = "[Recurring] "

	UncategorizedLabel = "Uncategorized"
)

type (
	TxType    string
	Frequency string

	Transaction struct {
		ID          string  `json:"id,omitempty"`
		Amount      float64 `json:"amount"` // base currency
		Type        TxType  `json:"type"`
		Category    string  `json:"category"`
		Description string  `json:"description"`
		Timestamp   int64   `json:"timestamp"` // epoch milliseconds
	}

	RecurringTemplate struct {
		ID          string    `json:"id,omitempty"`
		Amount      float64   `json:"amount"`
		Type        TxType    `json:"type"`
		Category    string    `json:"category"`
		Description string    `json:"description"`
		Frequency   Frequency `json:"frequency"`
		LastRun     *int64    `json:"lastRun"`
	}

	CategorySet struct {
		Income  []string `json:"Income"`
		Expense []string `json:"Expense"`
	}

	BudgetGoal struct {
		MonthlyGoal *float64 `json:"monthlyGoal"`
	}
)

var (
	DefaultIncomeCategories  = []string{"Salary", "Freelance", "Investment", "Gift", "Other Income"}
	DefaultExpenseCategories = []string{"Food", "Travel", "Bills", "Groceries", "Rent/Mortgage", "Entertainment", "Health", "Other Expense"}
)

func (t TxType) Valid() bool {
	return t == Income || t == Expense
}

// ParseTxType accepts the type name case-insensitively.
func ParseTxType(s string) (TxType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income":
		return Income, nil
	case "expense":
		return Expense, nil
	}
	return "", ErrInvalidType
}

// DefaultCategories returns a fresh copy of the seeded category set.
func DefaultCategories() CategorySet {
	return CategorySet{
		Income:  slices.Clone(DefaultIncomeCategories),
		Expense: slices.Clone(DefaultExpenseCategories),
	}
}

// For returns the list for a transaction type.
func (c CategorySet) For(t TxType) []string {
	if t == Income {
		return c.Income
	}
	return c.Expense
}

// WithFallback replaces empty lists with the defaults for that type.
func (c CategorySet) WithFallback() CategorySet {
	out := CategorySet{Income: slices.Clone(c.Income), Expense: slices.Clone(c.Expense)}
	if len(out.Income) == 0 {
		out.Income = slices.Clone(DefaultIncomeCategories)
	}
	if len(out.Expense) == 0 {
		out.Expense = slices.Clone(DefaultExpenseCategories)
	}
	return out
}

// Time returns the transaction timestamp in loc.
func (t Transaction) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(t.Timestamp).In(loc)
}

const maxDescriptionChars = 200

func validDescription(s string) bool {
	return utf8.RuneCountInString(s) <= maxDescriptionChars
}

func validAmount(a float64) bool {
	return !math.IsNaN(a) && !math.IsInf(a, 0) && a >= 0
}

func (t Transaction) Validate() error {
	if !validAmount(t.Amount) {
		return ErrInvalidAmount
	}
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if !validDescription(t.Description) {
		return ErrDescriptionLong
	}
	if t.Timestamp <= 0 {
		return ErrInvalidTimestamp
	}
	return nil
}

func (r RecurringTemplate) Validate() error {
	if !validAmount(r.Amount) {
		return ErrInvalidAmount
	}
	if !r.Type.Valid() {
		return ErrInvalidType
	}
	if strings.TrimSpace(r.Category) == "" {
		return ErrEmptyCategory
	}
	if !validDescription(r.Description) {
		return ErrDescriptionLong
	}
	if r.Frequency != Monthly {
		return ErrInvalidFrequency
	}
	return nil
}

// PostingDescription is the description of the transaction a template materializes into.
func (r RecurringTemplate) PostingDescription() string {
	desc := strings.TrimSpace(r.Description)
	if desc == "" {
		desc = r.Category
	}
	return RecurringPrefix + desc
}

// ValidateGoal rejects negative or non-finite goals.
func ValidateGoal(goal float64) error {
	if !validAmount(goal) {
		return ErrInvalidGoal
	}
	return nil
}
