package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/currency"
	"fintrack/internal/log"
	"fintrack/internal/reconciler"
	"fintrack/internal/store"
)

// Deps are the process-wide collaborators every tracker session shares.
type Deps struct {
	Store    store.Store
	Rates    *currency.Provider
	Location *time.Location
	Logger   *slog.Logger
	Now      func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Rates == nil {
		d.Rates = currency.NewProvider(nil, currency.DefaultTable(), 0, d.Logger)
	}
	return d
}

// TransactionInput is a posting as the user enters it, in display currency.
type TransactionInput struct {
	Amount      string
	Currency    string
	Type        string
	Category    string
	Description string
	When        time.Time // zero means now
}

// RecurringInput is a recurring template as the user enters it.
type RecurringInput struct {
	Amount      string
	Currency    string
	Type        string
	Category    string
	Description string
	Frequency   string // empty means Monthly
}

// TrackerService is one account's session: a live reconciled view of the
// account plus every operation the user can run against it.
type TrackerService struct {
	account string
	deps    Deps
	logger  *slog.Logger

	rec        *reconciler.Reconciler
	recurring  *RecurringProcessor
	categories *CategoryService
	reset      *ResetService

	runMu  sync.Mutex // one materializer run at a time
	ctx    context.Context
	cancel context.CancelFunc
}

func NewTrackerService(account string, deps Deps) *TrackerService {
	deps = deps.withDefaults()
	logger := deps.Logger.With(log.FieldComponent, log.ComponentTracker, log.FieldAccount, account)
	t := &TrackerService{
		account:    account,
		deps:       deps,
		logger:     logger,
		rec:        reconciler.New(deps.Store, deps.Logger),
		recurring:  NewRecurringProcessor(deps.Store, deps.Location, deps.Logger),
		categories: NewCategoryService(deps.Store),
		reset:      NewResetService(deps.Store, deps.Logger),
	}
	t.rec.OnChange(t.onChange)
	return t
}

// Start subscribes the session to the store. Due templates are posted
// as soon as they load and whenever they change.
func (t *TrackerService) Start(ctx context.Context) error {
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if err := t.rec.Start(ctx, t.account); err != nil {
		t.cancel()
		return err
	}
	return nil
}

// Close stops the session. It is safe to call more than once.
func (t *TrackerService) Close() {
	if t.cancel != nil {
		t.cancel()
	}
	t.rec.Stop()
}

func (t *TrackerService) Account() string { return t.account }

// WaitSynced blocks until the first snapshot of every resource arrived.
func (t *TrackerService) WaitSynced(ctx context.Context) error {
	return t.rec.WaitSynced(ctx)
}

func (t *TrackerService) onChange(res reconciler.Resource) {
	if res != reconciler.Recurring {
		return
	}
	if _, err := t.RunDueRecurring(t.ctx); err != nil {
		t.logger.WarnContext(t.ctx, "Recurring run after template change failed", log.FieldError, err)
	}
}

func (t *TrackerService) Rates(ctx context.Context) currency.Rates {
	return t.deps.Rates.Rates(ctx)
}

func (t *TrackerService) GetSummary(p core.Period) (core.Summary, error) {
	if err := p.Validate(); err != nil {
		return core.Summary{}, err
	}
	return core.Aggregate(t.rec.Snapshot().Transactions, p, t.deps.Location), nil
}

// Transactions lists the period's transactions, newest first.
func (t *TrackerService) Transactions(p core.Period) ([]core.Transaction, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return core.Filter(t.rec.Snapshot().Transactions, p, t.deps.Location), nil
}

func (t *TrackerService) Templates() []core.RecurringTemplate {
	return t.rec.Snapshot().Templates
}

func (t *TrackerService) Categories() core.CategorySet {
	return t.rec.Snapshot().Categories
}

// Goal evaluates the budget goal against the period's expenses.
func (t *TrackerService) Goal(p core.Period) (core.GoalProgress, error) {
	if err := p.Validate(); err != nil {
		return core.GoalProgress{}, err
	}
	st := t.rec.Snapshot()
	sum := core.Aggregate(st.Transactions, p, t.deps.Location)
	return core.EvaluateGoal(st.Goal, sum.Expense), nil
}

func (t *TrackerService) Compare(a, b core.Period) (core.Comparison, error) {
	if err := a.Validate(); err != nil {
		return core.Comparison{}, err
	}
	if err := b.Validate(); err != nil {
		return core.Comparison{}, err
	}
	return core.Compare(t.rec.Snapshot().Transactions, a, b, t.deps.Location), nil
}

// toBase parses a display amount and converts it into the base currency.
func (t *TrackerService) toBase(ctx context.Context, amount, code string) (float64, error) {
	display, err := core.ParseAmount(amount)
	if err != nil {
		return 0, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return display, nil
	}
	if _, ok := t.deps.Rates.Table().Lookup(code); !ok {
		return 0, core.NewValidationError("currency", fmt.Sprintf("unsupported currency %q", code))
	}
	return currency.ToBase(display, code, t.deps.Rates.Rates(ctx)), nil
}

func (t *TrackerService) AddTransaction(ctx context.Context, in TransactionInput) (string, error) {
	typ, err := core.ParseTxType(in.Type)
	if err != nil {
		return "", err
	}
	amount, err := t.toBase(ctx, in.Amount, in.Currency)
	if err != nil {
		return "", err
	}
	when := in.When
	if when.IsZero() {
		when = t.deps.Now()
	}
	tx := core.Transaction{
		Amount:      amount,
		Type:        typ,
		Category:    strings.TrimSpace(in.Category),
		Description: strings.TrimSpace(in.Description),
		Timestamp:   when.UnixMilli(),
	}
	if err := tx.Validate(); err != nil {
		return "", err
	}

	data, err := json.Marshal(tx)
	if err != nil {
		return "", err
	}
	id, err := t.deps.Store.Create(ctx, store.TransactionsPath(t.account), data)
	if err != nil {
		return "", core.RemoteWrite("add transaction", err)
	}
	return id, nil
}

func (t *TrackerService) DeleteTransaction(ctx context.Context, id string) error {
	if !store.ValidSegment(id) {
		return core.ErrEmptyID
	}
	err := t.deps.Store.Delete(ctx, store.Join(store.TransactionsPath(t.account), id))
	return core.RemoteWrite("delete transaction", err)
}

func (t *TrackerService) AddRecurringTemplate(ctx context.Context, in RecurringInput) (string, error) {
	typ, err := core.ParseTxType(in.Type)
	if err != nil {
		return "", err
	}
	amount, err := t.toBase(ctx, in.Amount, in.Currency)
	if err != nil {
		return "", err
	}
	freq := core.Frequency(strings.TrimSpace(in.Frequency))
	if freq == "" {
		freq = core.Monthly
	}
	tpl := core.RecurringTemplate{
		Amount:      amount,
		Type:        typ,
		Category:    strings.TrimSpace(in.Category),
		Description: strings.TrimSpace(in.Description),
		Frequency:   freq,
	}
	if err := tpl.Validate(); err != nil {
		return "", err
	}

	data, err := json.Marshal(tpl)
	if err != nil {
		return "", err
	}
	id, err := t.deps.Store.Create(ctx, store.RecurringPath(t.account), data)
	if err != nil {
		return "", core.RemoteWrite("add recurring template", err)
	}
	return id, nil
}

func (t *TrackerService) DeleteRecurringTemplate(ctx context.Context, id string) error {
	if !store.ValidSegment(id) {
		return core.ErrEmptyID
	}
	err := t.deps.Store.Delete(ctx, store.Join(store.RecurringPath(t.account), id))
	return core.RemoteWrite("delete recurring template", err)
}

// SetGoal stores the monthly goal entered in display currency.
func (t *TrackerService) SetGoal(ctx context.Context, amount, code string) error {
	goal, err := t.toBase(ctx, amount, code)
	if errors.Is(err, core.ErrInvalidAmount) {
		return core.ErrInvalidGoal
	}
	if err != nil {
		return err
	}
	if err := core.ValidateGoal(goal); err != nil {
		return err
	}
	data, err := json.Marshal(core.BudgetGoal{MonthlyGoal: &goal})
	if err != nil {
		return err
	}
	err = t.deps.Store.Set(ctx, store.BudgetPath(t.account), data, true)
	return core.RemoteWrite("set goal", err)
}

func (t *TrackerService) ClearGoal(ctx context.Context) error {
	err := t.deps.Store.Set(ctx, store.BudgetPath(t.account), json.RawMessage(`{"monthlyGoal":null}`), true)
	return core.RemoteWrite("clear goal", err)
}

func (t *TrackerService) AddCategory(ctx context.Context, typ, name string) error {
	tt, err := core.ParseTxType(typ)
	if err != nil {
		return err
	}
	return t.categories.Add(ctx, t.account, tt, name)
}

func (t *TrackerService) DeleteCategory(ctx context.Context, typ, name string) error {
	tt, err := core.ParseTxType(typ)
	if err != nil {
		return err
	}
	return t.categories.Delete(ctx, t.account, tt, name)
}

// RunDueRecurring posts every template due now from the reconciled list.
func (t *TrackerService) RunDueRecurring(ctx context.Context) (int, error) {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	return t.recurring.ProcessDue(ctx, t.account, t.rec.Snapshot().Templates, t.deps.Now())
}

func (t *TrackerService) ResetAllData(ctx context.Context) error {
	return t.reset.Reset(ctx, t.account)
}

// DefaultPostingTime is the time a new posting defaults to while the user
// looks at period p: now when p covers the current month, otherwise the
// first day of the period.
func DefaultPostingTime(p core.Period, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	monthMatches := p.Month == nil || *p.Month == int(now.Month())
	yearMatches := p.Year == nil || *p.Year == now.Year()
	if monthMatches && yearMatches {
		return now
	}
	year, month := now.Year(), time.January
	if p.Year != nil {
		year = *p.Year
	}
	if p.Month != nil {
		month = time.Month(*p.Month)
	}
	return time.Date(year, month, 1, 0, 0, 0, 0, loc)
}
