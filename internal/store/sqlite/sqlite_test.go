package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/store"
	"fintrack/internal/store/storetest"
)

func newTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := New(path, nil)
	require.NoError(t, err)
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newTestStore(t, filepath.Join(t.TempDir(), "data", "fintrack.db"))
	})
}

func TestReopenKeepsDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fintrack.db")
	ctx := context.Background()

	s := newTestStore(t, path)
	require.NoError(t, s.Set(ctx, store.BudgetPath("u1"), json.RawMessage(`{"monthlyGoal":250}`), false))
	require.NoError(t, s.Close())

	s = newTestStore(t, path)
	defer s.Close()
	doc, ok, err := s.Get(ctx, store.BudgetPath("u1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"monthlyGoal":250}`, string(doc.Data))
}

// loopBus delivers published changes to every follower, like a fanout exchange.
type loopBus struct {
	mu        sync.Mutex
	handlers  []func(string, []string)
	published [][]string
}

func (b *loopBus) PublishChange(_ context.Context, origin string, paths []string) error {
	b.mu.Lock()
	hs := append([]func(string, []string){}, b.handlers...)
	b.published = append(b.published, paths)
	b.mu.Unlock()
	for _, h := range hs {
		h(origin, paths)
	}
	return nil
}

func (b *loopBus) ConsumeChanges(ctx context.Context, handle func(string, []string)) error {
	b.mu.Lock()
	b.handlers = append(b.handlers, handle)
	b.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (b *loopBus) followers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

func TestChangesReachOtherProcesses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := &loopBus{}
	writer := newTestStore(t, path)
	defer writer.Close()
	reader := newTestStore(t, path)
	defer reader.Close()
	writer.AttachBus(bus)
	reader.AttachBus(bus)
	go reader.Follow(ctx)
	require.Eventually(t, func() bool { return bus.followers() == 1 }, time.Second, 5*time.Millisecond)

	var mu sync.Mutex
	var last store.Snapshot
	_, err := reader.Subscribe(ctx, store.TransactionsPath("u1"), func(s store.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		last = s
	}, nil)
	require.NoError(t, err)

	_, err = writer.Create(ctx, store.TransactionsPath("u1"), json.RawMessage(`{"amount":12}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last.Docs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	require.Len(t, bus.published, 1)
	assert.Len(t, bus.published[0], 1)
}
