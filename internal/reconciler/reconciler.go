// Package reconciler keeps one account's local view in step with the
// document store. It subscribes to the account's transactions, recurring
// templates, categories and budget goal, and rebuilds the matching part
// of its state from every snapshot the store delivers.
package reconciler

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

var (
	ErrAlreadyStarted = errors.New("reconciler already started")
	ErrNotStarted     = errors.New("reconciler not started")
)

type Resource int

const (
	Transactions Resource = iota
	Recurring
	Categories
	Budget

	numResources
)

func (r Resource) String() string {
	switch r {
	case Transactions:
		return "transactions"
	case Recurring:
		return "recurring"
	case Categories:
		return "categories"
	case Budget:
		return "budget"
	}
	return fmt.Sprintf("resource(%d)", int(r))
}

func (r Resource) path(account string) string {
	switch r {
	case Transactions:
		return store.TransactionsPath(account)
	case Recurring:
		return store.RecurringPath(account)
	case Categories:
		return store.CategoriesPath(account)
	default:
		return store.BudgetPath(account)
	}
}

type Status int

const (
	Unsubscribed Status = iota
	Subscribed
)

func (s Status) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "unsubscribed"
}

// State is the reconciled view of one account.
type State struct {
	Transactions []core.Transaction        // newest first
	Templates    []core.RecurringTemplate  // by category
	Categories   core.CategorySet
	Goal         *float64
}

func (s State) clone() State {
	out := State{
		Transactions: slices.Clone(s.Transactions),
		Templates:    slices.Clone(s.Templates),
		Categories: core.CategorySet{
			Income:  slices.Clone(s.Categories.Income),
			Expense: slices.Clone(s.Categories.Expense),
		},
	}
	for i, t := range out.Templates {
		if t.LastRun != nil {
			v := *t.LastRun
			out.Templates[i].LastRun = &v
		}
	}
	if s.Goal != nil {
		g := *s.Goal
		out.Goal = &g
	}
	return out
}

// Observer is told which resource was just rebuilt. It runs on the
// reducer goroutine and must not call Stop.
type Observer func(Resource)

type Reconciler struct {
	store    store.Store
	logger   *slog.Logger
	observer Observer

	life    sync.Mutex // serializes Start and Stop
	running bool
	unsubs  []store.Unsubscribe
	cancel  context.CancelFunc
	done    chan struct{}
	boxes   [numResources]*mailbox
	wake    chan struct{}

	mu       sync.Mutex
	account  string
	state    State
	status   [numResources]Status
	synced   [numResources]bool
	syncedCh chan struct{}
	seedErr  error
	failedCh chan struct{}
}

func New(s store.Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:    s,
		logger:   logger.With(log.FieldComponent, log.ComponentReconciler),
		syncedCh: make(chan struct{}),
		failedCh: make(chan struct{}),
	}
}

// OnChange installs the observer. Call it before Start.
func (r *Reconciler) OnChange(fn Observer) {
	r.observer = fn
}

// Start subscribes to all four resources of account. ctx bounds only the
// subscribe calls; the subscriptions live until Stop.
func (r *Reconciler) Start(ctx context.Context, account string) error {
	if !store.ValidSegment(account) {
		return core.NewValidationError("account", "must be a single non-empty path segment")
	}

	r.life.Lock()
	defer r.life.Unlock()
	if r.running {
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	r.wake = make(chan struct{}, 1)
	for i := range r.boxes {
		r.boxes[i] = &mailbox{}
	}

	r.mu.Lock()
	r.account = account
	r.mu.Unlock()

	go r.reduce(runCtx, account)

	r.unsubs = r.unsubs[:0]
	for res := Resource(0); res < numResources; res++ {
		unsub, err := r.store.Subscribe(runCtx, res.path(account), r.deposit(res), r.failed(runCtx, res))
		if err != nil {
			r.teardown()
			return fmt.Errorf("%w: %s: %w", core.ErrRemoteSubscription, res, err)
		}
		r.unsubs = append(r.unsubs, unsub)
		r.setStatus(res, Subscribed)
	}

	r.running = true
	r.logger.InfoContext(ctx, "Reconciler started", log.FieldAccount, account)
	return nil
}

// Stop releases every subscription, waits for the reducer to finish and
// clears the state. No callback runs after Stop returns.
func (r *Reconciler) Stop() {
	r.life.Lock()
	defer r.life.Unlock()
	if !r.running {
		return
	}
	account := r.Account()
	r.teardown()
	r.running = false
	r.logger.Info("Reconciler stopped", log.FieldAccount, account)
}

// teardown runs with r.life held.
func (r *Reconciler) teardown() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
	r.cancel()
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	r.account = ""
	r.state = State{}
	r.status = [numResources]Status{}
	r.synced = [numResources]bool{}
	r.syncedCh = make(chan struct{})
	r.seedErr = nil
	r.failedCh = make(chan struct{})
}

func (r *Reconciler) Running() bool {
	r.life.Lock()
	defer r.life.Unlock()
	return r.running
}

func (r *Reconciler) Account() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.account
}

// Snapshot returns a deep copy of the current state.
func (r *Reconciler) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

func (r *Reconciler) Status(res Resource) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status[res]
}

// WaitSynced blocks until every resource has been reconciled at least
// once. It fails if the default categories could not be seeded.
func (r *Reconciler) WaitSynced(ctx context.Context) error {
	if !r.Running() {
		return ErrNotStarted
	}
	r.mu.Lock()
	synced, failed := r.syncedCh, r.failedCh
	r.mu.Unlock()

	select {
	case <-synced:
		return nil
	case <-failed:
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.seedErr == nil {
			return ErrNotStarted
		}
		return r.seedErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) setStatus(res Resource, s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[res] = s
}

// deposit never blocks: a newer snapshot replaces one not yet reduced.
func (r *Reconciler) deposit(res Resource) store.ChangeFunc {
	box, wake := r.boxes[res], r.wake
	return func(snap store.Snapshot) {
		box.put(snap)
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

func (r *Reconciler) failed(ctx context.Context, res Resource) store.ErrorFunc {
	return func(err error) {
		r.logger.WarnContext(ctx, "Subscription error, keeping last known state",
			log.FieldResource, res.String(),
			log.FieldError, err)
	}
}

func (r *Reconciler) reduce(ctx context.Context, account string) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}
		for res, box := range r.boxes {
			snap, ok := box.take()
			if !ok {
				continue
			}
			r.apply(ctx, account, Resource(res), snap)
			if r.observer != nil && ctx.Err() == nil {
				r.observer(Resource(res))
			}
		}
	}
}

func (r *Reconciler) apply(ctx context.Context, account string, res Resource, snap store.Snapshot) {
	switch res {
	case Transactions:
		txs := decodeAll[core.Transaction](r, ctx, res, snap.Docs, func(t *core.Transaction, id string) { t.ID = id })
		slices.SortStableFunc(txs, func(a, b core.Transaction) int {
			return cmp.Or(cmp.Compare(b.Timestamp, a.Timestamp), cmp.Compare(a.ID, b.ID))
		})
		r.commit(res, func(s *State) { s.Transactions = txs })

	case Recurring:
		tpls := decodeAll[core.RecurringTemplate](r, ctx, res, snap.Docs, func(t *core.RecurringTemplate, id string) { t.ID = id })
		slices.SortStableFunc(tpls, func(a, b core.RecurringTemplate) int {
			return cmp.Or(cmp.Compare(a.Category, b.Category), cmp.Compare(a.ID, b.ID))
		})
		r.commit(res, func(s *State) { s.Templates = tpls })

	case Categories:
		doc, ok := snap.Doc()
		if !ok {
			r.seedCategories(ctx, account)
			return
		}
		var set core.CategorySet
		if err := json.Unmarshal(doc.Data, &set); err != nil {
			r.logger.WarnContext(ctx, "Skipping undecodable categories document", log.FieldError, err)
		}
		r.commit(res, func(s *State) { s.Categories = set.WithFallback() })

	case Budget:
		var goal *float64
		if doc, ok := snap.Doc(); ok {
			var b core.BudgetGoal
			if err := json.Unmarshal(doc.Data, &b); err != nil {
				r.logger.WarnContext(ctx, "Skipping undecodable budget document", log.FieldError, err)
			} else {
				goal = b.MonthlyGoal
			}
		}
		r.commit(res, func(s *State) { s.Goal = goal })
	}
}

// seedCategories writes the default set for an account that has none.
// Categories stay unsynced until the write comes back as a snapshot; a
// failed write fails WaitSynced instead of showing local-only defaults.
func (r *Reconciler) seedCategories(ctx context.Context, account string) {
	data, err := json.Marshal(core.DefaultCategories())
	if err == nil {
		err = r.store.Set(ctx, store.CategoriesPath(account), data, true)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		err = core.RemoteWrite("seed categories", err)
		r.logger.WarnContext(ctx, "Failed to seed default categories",
			log.FieldAccount, account,
			log.FieldError, err)

		r.mu.Lock()
		if r.seedErr == nil {
			r.seedErr = err
			close(r.failedCh)
		}
		r.mu.Unlock()
		return
	}
	r.logger.InfoContext(ctx, "Seeded default categories", log.FieldAccount, account)
}

func (r *Reconciler) commit(res Resource, fn func(*State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.state)
	if r.synced[res] {
		return
	}
	r.synced[res] = true
	for _, ok := range r.synced {
		if !ok {
			return
		}
	}
	close(r.syncedCh)
}

func decodeAll[T any](r *Reconciler, ctx context.Context, res Resource, docs []store.Document, setID func(*T, string)) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc.Data, &v); err != nil {
			r.logger.WarnContext(ctx, "Skipping undecodable document",
				log.FieldResource, res.String(),
				log.FieldDocument, doc.ID,
				log.FieldError, err)
			continue
		}
		setID(&v, doc.ID)
		out = append(out, v)
	}
	return out
}

// mailbox holds the latest undelivered snapshot of one resource.
type mailbox struct {
	mu   sync.Mutex
	snap store.Snapshot
	full bool
}

func (m *mailbox) put(s store.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap, m.full = s, true
}

func (m *mailbox) take() (store.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return store.Snapshot{}, false
	}
	s := m.snap
	m.snap, m.full = store.Snapshot{}, false
	return s, true
}
