package core

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		Amount:    12.5,
		Type:      Expense,
		Category:  "Food",
		Timestamp: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC).UnixMilli(),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Transaction{
		{Amount: -1, Type: Expense, Category: "Food", Timestamp: good.Timestamp},
		{Amount: math.NaN(), Type: Expense, Category: "Food", Timestamp: good.Timestamp},
		{Amount: math.Inf(1), Type: Expense, Category: "Food", Timestamp: good.Timestamp},
		{Amount: 1, Type: "Transfer", Category: "Food", Timestamp: good.Timestamp},
		{Amount: 1, Type: Income, Category: "   ", Timestamp: good.Timestamp},
		{Amount: 1, Type: Income, Category: "Salary", Timestamp: 0},
		{Amount: 1, Type: Income, Category: "Salary", Description: strings.Repeat("x", 201), Timestamp: good.Timestamp},
	}
	for i, tx := range bads {
		err := tx.Validate()
		if err == nil {
			t.Fatalf("case %d expected error", i)
		}
		if !IsValidationError(err) {
			t.Fatalf("case %d expected validation error, got %T", i, err)
		}
	}
}

func TestDescriptionLimitCountsCharacters(t *testing.T) {
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC).UnixMilli()
	accented := strings.Repeat("é", 200)

	tx := Transaction{Amount: 1, Type: Expense, Category: "Food", Description: accented, Timestamp: ts}
	if err := tx.Validate(); err != nil {
		t.Fatalf("200 two-byte characters should pass, got %v", err)
	}
	tpl := RecurringTemplate{Amount: 1, Type: Expense, Category: "Food", Description: accented, Frequency: Monthly}
	if err := tpl.Validate(); err != nil {
		t.Fatalf("200 two-byte characters should pass, got %v", err)
	}

	tx.Description += "é"
	if err := tx.Validate(); err != ErrDescriptionLong {
		t.Fatalf("expected ErrDescriptionLong, got %v", err)
	}
	tpl.Description += "é"
	if err := tpl.Validate(); err != ErrDescriptionLong {
		t.Fatalf("expected ErrDescriptionLong, got %v", err)
	}
}

func TestRecurringTemplateValidate(t *testing.T) {
	good := RecurringTemplate{Amount: 1200, Type: Expense, Category: "Rent/Mortgage", Frequency: Monthly}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	weekly := good
	weekly.Frequency = "Weekly"
	if err := weekly.Validate(); err != ErrInvalidFrequency {
		t.Fatalf("expected ErrInvalidFrequency, got %v", err)
	}
}

func TestPostingDescription(t *testing.T) {
	cases := []struct {
		tpl  RecurringTemplate
		want string
	}{
		{RecurringTemplate{Category: "Rent/Mortgage", Description: "Flat"}, "[Recurring] Flat"},
		{RecurringTemplate{Category: "Rent/Mortgage", Description: "  "}, "[Recurring] Rent/Mortgage"},
		{RecurringTemplate{Category: "Salary"}, "[Recurring] Salary"},
	}
	for _, tc := range cases {
		if got := tc.tpl.PostingDescription(); got != tc.want {
			t.Fatalf("PostingDescription() = %q, want %q", got, tc.want)
		}
	}
}

func TestParseTxType(t *testing.T) {
	for in, want := range map[string]TxType{"income": Income, "Expense": Expense, " EXPENSE ": Expense} {
		got, err := ParseTxType(in)
		if err != nil || got != want {
			t.Fatalf("ParseTxType(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseTxType("refund"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestCategorySetWithFallback(t *testing.T) {
	set := CategorySet{Income: []string{"Salary"}, Expense: nil}
	got := set.WithFallback()
	if len(got.Income) != 1 || got.Income[0] != "Salary" {
		t.Fatalf("income list should be kept, got %v", got.Income)
	}
	if len(got.Expense) != len(DefaultExpenseCategories) {
		t.Fatalf("empty expense list should fall back to defaults, got %v", got.Expense)
	}

	got.Expense[0] = "Changed"
	if DefaultExpenseCategories[0] != "Food" {
		t.Fatal("fallback must not alias the defaults")
	}
}

func TestValidateGoal(t *testing.T) {
	if err := ValidateGoal(0); err != nil {
		t.Fatalf("zero goal should be valid, got %v", err)
	}
	if err := ValidateGoal(-5); err == nil {
		t.Fatal("negative goal should be rejected")
	}
	if err := ValidateGoal(math.NaN()); err == nil {
		t.Fatal("NaN goal should be rejected")
	}
}
