package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"fintrack/internal/cache"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

var ErrSessionsClosed = errors.New("session manager closed")

// SessionManager keeps one live TrackerService per account. Idle sessions
// expire from an LRU cache; expiry stops their reconciler.
type SessionManager struct {
	deps     Deps
	logger   *slog.Logger
	sessions *cache.LRUCache[*TrackerService]
	starts   singleflight.Group // one start per account at a time

	mu     sync.Mutex
	closed bool
}

func NewSessionManager(deps Deps, maxSessions int, ttl time.Duration) *SessionManager {
	deps = deps.withDefaults()
	m := &SessionManager{
		deps:     deps,
		logger:   deps.Logger.With(log.FieldComponent, log.ComponentSessions),
		sessions: cache.NewLRUCache[*TrackerService](maxSessions, ttl),
	}
	m.sessions.OnEvict(func(account string, t *TrackerService) {
		t.Close()
		m.logger.Info("Session closed", log.FieldAccount, account)
	})
	return m
}

// Cache exposes the session cache so a cache.Manager can sweep it.
func (m *SessionManager) Cache() cache.Cleaner {
	return m.sessions
}

// Get returns the account's session, starting one and waiting for its
// first full sync when none is live. Concurrent callers for the same
// account share one start; other accounts are not held up by it.
func (m *SessionManager) Get(ctx context.Context, account string) (*TrackerService, error) {
	if t, ok := m.sessions.Get(account); ok {
		return t, nil
	}
	if !store.ValidSegment(account) {
		return nil, fmt.Errorf("invalid account %q", account)
	}
	if m.isClosed() {
		return nil, ErrSessionsClosed
	}

	v, err, _ := m.starts.Do(account, func() (any, error) {
		return m.start(ctx, account)
	})
	if err != nil {
		return nil, err
	}
	return v.(*TrackerService), nil
}

func (m *SessionManager) start(ctx context.Context, account string) (*TrackerService, error) {
	if t, ok := m.sessions.Get(account); ok {
		return t, nil
	}

	t := NewTrackerService(account, m.deps)
	if err := t.Start(ctx); err != nil {
		return nil, err
	}
	if err := t.WaitSynced(ctx); err != nil {
		t.Close()
		return nil, fmt.Errorf("wait for initial sync: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		t.Close()
		return nil, ErrSessionsClosed
	}
	m.sessions.Set(account, t)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "Session started", log.FieldAccount, account, "live", m.sessions.Size())
	return t, nil
}

func (m *SessionManager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *SessionManager) Size() int {
	return m.sessions.Size()
}

// RunDueAll runs the recurring materializer for every live session.
func (m *SessionManager) RunDueAll(ctx context.Context) (int, error) {
	var (
		total int
		errs  []error
	)
	for _, t := range m.sessions.Values() {
		n, err := t.RunDueRecurring(ctx)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", t.Account(), err))
		}
	}
	return total, errors.Join(errs...)
}

// Close stops every session. Get fails afterwards.
func (m *SessionManager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.sessions.Clear()
}
