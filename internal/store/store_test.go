package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
)

func TestPathShapes(t *testing.T) {
	cases := []struct {
		path       string
		collection bool
		document   bool
	}{
		{"users", true, false},
		{"users/u1", false, true},
		{"users/u1/transactions", true, false},
		{"/users/u1/transactions/abc/", false, true},
		{"users//u1", false, false},
		{"", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.collection, IsCollection(tc.path))
			assert.Equal(t, tc.document, IsDocument(tc.path))
		})
	}

	coll, id, err := Split("users/u1/settings/categories")
	require.NoError(t, err)
	assert.Equal(t, "users/u1/settings", coll)
	assert.Equal(t, "categories", id)

	_, _, err = Split("users/u1/settings")
	assert.ErrorIs(t, err, ErrInvalidPath)

	assert.Equal(t, "users/acc/settings/budget", BudgetPath("acc"))
	assert.False(t, ValidSegment("a/b"))
}

func TestMerge(t *testing.T) {
	cur := json.RawMessage(`{"Income":["Salary"],"Expense":["Food"],"meta":{"a":1,"b":2}}`)
	patch := json.RawMessage(`{"Expense":[],"meta":{"b":3},"monthlyGoal":null}`)

	out, err := Merge(cur, patch)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Income":["Salary"],"Expense":[],"meta":{"a":1,"b":3},"monthlyGoal":null}`, string(out))

	_, err = Merge(cur, json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	out, err := Resolve(json.RawMessage(`{"a":1}`), true, json.RawMessage(`{"b":2}`), false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, string(out))

	out, err = Resolve(nil, false, json.RawMessage(`{"b":2}`), true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, string(out))

	_, err = Resolve(nil, false, json.RawMessage(`{`), false)
	assert.Error(t, err)
}

func TestValidateBatch(t *testing.T) {
	assert.NoError(t, ValidateBatch([]Op{DeleteOp("users/u1/transactions/a")}, 1))
	assert.ErrorIs(t, ValidateBatch([]Op{DeleteOp("users/u1/transactions/a"), DeleteOp("users/u1/transactions/b")}, 1), ErrBatchTooLarge)
	assert.ErrorIs(t, ValidateBatch([]Op{DeleteOp("users/u1/transactions")}, 5), ErrInvalidPath)
}

func TestHubDeliversToDocumentAndCollection(t *testing.T) {
	var loads atomic.Int32
	hub := NewHub(func(ctx context.Context, path string) (Snapshot, error) {
		loads.Add(1)
		return Snapshot{Path: path, Exists: true}, nil
	}, nil)
	defer hub.Close()

	var mu sync.Mutex
	got := map[string]int{}
	record := func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		got[s.Path]++
	}
	count := func(p string) int {
		mu.Lock()
		defer mu.Unlock()
		return got[p]
	}

	ctx := context.Background()
	_, err := hub.Subscribe(ctx, "users/u1/transactions", record, nil)
	require.NoError(t, err)
	_, err = hub.Subscribe(ctx, "users/u1/transactions/t1", record, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return count("users/u1/transactions") == 1 && count("users/u1/transactions/t1") == 1
	}, time.Second, 5*time.Millisecond)

	hub.Notify("users/u1/transactions/t1")
	require.Eventually(t, func() bool {
		return count("users/u1/transactions") == 2 && count("users/u1/transactions/t1") == 2
	}, time.Second, 5*time.Millisecond)

	hub.Notify("users/u1/transactions")
	require.Eventually(t, func() bool {
		return count("users/u1/transactions") == 3 && count("users/u1/transactions/t1") == 3
	}, time.Second, 5*time.Millisecond)

	before := loads.Load()
	hub.Notify("users/u2/transactions/t9")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, loads.Load(), "paths without subscribers are not reloaded")
}

func TestHubReportsLoadErrors(t *testing.T) {
	hub := NewHub(func(ctx context.Context, path string) (Snapshot, error) {
		return Snapshot{}, errors.New("connection reset")
	}, nil)
	defer hub.Close()

	errs := make(chan error, 1)
	_, err := hub.Subscribe(context.Background(), "users/u1/recurring", func(Snapshot) {
		t.Error("unexpected snapshot")
	}, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	require.NoError(t, err)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, core.ErrRemoteSubscription)
	case <-time.After(time.Second):
		t.Fatal("no error delivered")
	}
}

func TestHubUnsubscribeOnContextDone(t *testing.T) {
	hub := NewHub(func(ctx context.Context, path string) (Snapshot, error) {
		return Snapshot{Path: path, Exists: true}, nil
	}, nil)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var n atomic.Int32
	_, err := hub.Subscribe(ctx, "users/u1/recurring", func(Snapshot) { n.Add(1) }, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.subs) == 0
	}, time.Second, 5*time.Millisecond)

	hub.Notify("users/u1/recurring/x")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), n.Load())
}

func TestHubClosed(t *testing.T) {
	hub := NewHub(func(ctx context.Context, path string) (Snapshot, error) { return Snapshot{}, nil }, nil)
	hub.Close()
	hub.Close()

	_, err := hub.Subscribe(context.Background(), "users", func(Snapshot) {}, nil)
	assert.ErrorIs(t, err, ErrClosed)
}
