// Package storetest is a behavioural suite every store implementation runs
// from its own tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/store"
)

// Factory returns an empty store; the suite closes it.
type Factory func(t *testing.T) store.Store

const waitFor = 5 * time.Second

func Run(t *testing.T, newStore Factory) {
	t.Run("create get list", func(t *testing.T) { testCreateGetList(t, newStore(t)) })
	t.Run("set and merge", func(t *testing.T) { testSetMerge(t, newStore(t)) })
	t.Run("delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("invalid paths", func(t *testing.T) { testInvalidPaths(t, newStore(t)) })
	t.Run("transaction rollback", func(t *testing.T) { testTransactionRollback(t, newStore(t)) })
	t.Run("transaction reads own writes", func(t *testing.T) { testTransactionReadsOwnWrites(t, newStore(t)) })
	t.Run("update", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("batch write", func(t *testing.T) { testBatchWrite(t, newStore(t)) })
	t.Run("subscribe collection", func(t *testing.T) { testSubscribeCollection(t, newStore(t)) })
	t.Run("subscribe document", func(t *testing.T) { testSubscribeDocument(t, newStore(t)) })
	t.Run("unsubscribe", func(t *testing.T) { testUnsubscribe(t, newStore(t)) })
}

func closeStore(t *testing.T, s store.Store) {
	t.Cleanup(func() { _ = s.Close() })
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func decode(t *testing.T, data json.RawMessage) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func testCreateGetList(t *testing.T, s store.Store) {
	closeStore(t, s)
	ctx := context.Background()
	coll := store.TransactionsPath("u1")

	id1, err := s.Create(ctx, coll, raw(t, map[string]any{"amount": 10}))
	require.NoError(t, err)
	id2, err := s.Create(ctx, coll, raw(t, map[string]any{"amount": 20}))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	doc, ok, err := s.Get(ctx, store.Join(coll, id1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id1, doc.ID)
	assert.EqualValues(t, 10, decode(t, doc.Data)["amount"])

	docs, err := s.List(ctx, coll)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	other, err := s.List(ctx, store.TransactionsPath("u2"))
	require.NoError(t, err)
	assert.Empty(t, other)

	_, ok, err = s.Get(ctx, store.Join(coll, "missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func testSetMerge(t *testing.T, s store.Store) {
	closeStore(t, s)
	ctx := context.Background()
	path := store.BudgetPath("u1")

	require.NoError(t, s.Set(ctx, path, raw(t, map[string]any{"monthlyGoal": 500, "note": "x"}), false))
	require.NoError(t, s.Set(ctx, path, raw(t, map[string]any{"monthlyGoal": nil}), true))

	doc, ok, err := s.Get(ctx, path)
	require.NoError(t, err)
	require.True(t, ok)
	m := decode(t, doc.Data)
	assert.Contains(t, m, "monthlyGoal")
	assert.Nil(t, m["monthlyGoal"])
	assert.Equal(t, "x", m["note"], "merge keeps untouched fields")

	require.NoError(t, s.Set(ctx, path, raw(t, map[string]any{"monthlyGoal": 100}), false))
	doc, _, err = s.Get(ctx, path)
	require.NoError(t, err)
	assert.NotContains(t, decode(t, doc.Data), "note", "overwrite replaces the document")
}

func testDelete(t *testing.T, s store.Store) {
	closeStore(t, s)
	ctx := context.Background()
	coll := store.RecurringPath("u1")

	id, err := s.Create(ctx, coll, raw(t, map[string]any{"amount": 1}))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, store.Join(coll, id)))
	require.NoError(t, s.Delete(ctx, store.Join(coll, id)), "deleting a missing document is not an error")

	docs, err := s.List(ctx, coll)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func testInvalidPaths(t *testing.T, s store.Store) {
	closeStore(t, s)
	ctx := context.Background()

	_, err := s.Create(ctx, "users/u1", raw(t, map[string]any{}))
	assert.ErrorIs(t, err, store.ErrInvalidPath)
	assert.ErrorIs(t, s.Set(ctx, "users/u1/transactions", raw(t, map[string]any{}), false), store.ErrInvalidPath)
	_, _, err = s.Get(ctx, "users")
	assert.ErrorIs(t, err, store.ErrInvalidPath)
}

func testTransactionRollback(t *testing.T, s store.Store) {
	closeStore(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		if _, err := tx.Create(store.TransactionsPath("u1"), raw(t, map[string]any{"amount": 1})); err != nil {
			return err
		}
		if err := tx.Set(store.BudgetPath("u1"), raw(t, map[string]any{"monthlyGoal": 1}), false); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	docs, err := s.List(ctx, store.TransactionsPath("u1"))
	require.NoError(t, err)
	assert.Empty(t, docs)
	_, ok, err := s.Get(ctx, store.BudgetPath("u1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func testTransactionReadsOwnWrites(t *testing.T, s store.Store) {
	closeStore(t, s)
	ctx := context.Background()
	path := store.CategoriesPath("u1")

	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		if err := tx.Set(path, raw(t, map[string]any{"Income": []string{"Salary"}}), false); err != nil {
			return err
		}
		doc, ok, err := tx.Get(path)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("expected staged document")
		}
		if err := tx.Delete(path); err != nil {
			return err
		}
		if _, ok, _ := tx.Get(path); ok {
			return fmt.Errorf("expected staged delete")
		}
		return tx.Set(path, doc.Data, false)
	})
	require.NoError(t, err)

	_, ok, err := s.Get(ctx, path)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testUpdate(t *testing.T, s store.Store) {
	closeStore(t, s)
	ctx := context.Background()
	path := store.CategoriesPath("u1")

	calls := 0
	err := store.Update(ctx, s, path, func(cur json.RawMessage, exists bool) (json.RawMessage, error) {
		calls++
		assert.False(t, exists)
		return nil, nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls, 1)
	_, ok, err := s.Get(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok, "nil next skips the write")

	require.NoError(t, store.Update(ctx, s, path, func(cur json.RawMessage, exists bool) (json.RawMessage, error) {
		return raw(t, map[string]any{"n": 1}), nil
	}))
	require.NoError(t, store.Update(ctx, s, path, func(cur json.RawMessage, exists bool) (json.RawMessage, error) {
		require.True(t, exists)
		m := decode(t, cur)
		return raw(t, map[string]any{"n": m["n"].(float64) + 1}), nil
	}))
	doc, _, err := s.Get(ctx, path)
	require.NoError(t, err)
	assert.EqualValues(t, 2, decode(t, doc.Data)["n"])
}

func testBatchWrite(t *testing.T, s store.Store) {
	closeStore(t, s)
	ctx := context.Background()
	coll := store.TransactionsPath("u1")

	tooMany := make([]store.Op, s.MaxBatchOps()+1)
	for i := range tooMany {
		tooMany[i] = store.DeleteOp(store.Join(coll, fmt.Sprintf("t%d", i)))
	}
	assert.ErrorIs(t, s.BatchWrite(ctx, tooMany), store.ErrBatchTooLarge)

	ops := []store.Op{
		store.SetOp(store.Join(coll, "a"), raw(t, map[string]any{"amount": 1}), false),
		store.SetOp(store.Join(coll, "b"), raw(t, map[string]any{"amount": 2}), false),
		store.SetOp(store.BudgetPath("u1"), raw(t, map[string]any{"monthlyGoal": nil}), true),
	}
	require.NoError(t, s.BatchWrite(ctx, ops))
	docs, err := s.List(ctx, coll)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	require.NoError(t, s.BatchWrite(ctx, []store.Op{store.DeleteOp(store.Join(coll, "a")), store.DeleteOp(store.Join(coll, "b"))}))
	docs, err = s.List(ctx, coll)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

// recorder collects snapshots delivered to a subscription.
type recorder struct {
	mu    sync.Mutex
	snaps []store.Snapshot
}

func (r *recorder) onChange(s store.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) last() (store.Snapshot, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return store.Snapshot{}, 0
	}
	return r.snaps[len(r.snaps)-1], len(r.snaps)
}

func testSubscribeCollection(t *testing.T, s store.Store) {
	closeStore(t, s)
	ctx := context.Background()
	coll := store.TransactionsPath("u1")

	rec := &recorder{}
	unsub, err := s.Subscribe(ctx, coll, rec.onChange, nil)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool { _, n := rec.last(); return n >= 1 }, waitFor, 10*time.Millisecond)

	_, err = s.Create(ctx, coll, raw(t, map[string]any{"amount": 5}))
	require.NoError(t, err)
	_, err = s.Create(ctx, store.TransactionsPath("u2"), raw(t, map[string]any{"amount": 7}))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, _ := rec.last()
		return len(snap.Docs) == 1
	}, waitFor, 10*time.Millisecond)

	snap, _ := rec.last()
	assert.True(t, snap.Exists)
	assert.EqualValues(t, 5, decode(t, snap.Docs[0].Data)["amount"])
}

func testSubscribeDocument(t *testing.T, s store.Store) {
	closeStore(t, s)
	ctx := context.Background()
	path := store.CategoriesPath("u1")

	rec := &recorder{}
	unsub, err := s.Subscribe(ctx, path, rec.onChange, nil)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool { _, n := rec.last(); return n >= 1 }, waitFor, 10*time.Millisecond)
	first, _ := rec.last()
	assert.False(t, first.Exists)

	require.NoError(t, s.Set(ctx, path, raw(t, map[string]any{"Income": []string{"Salary"}}), true))
	require.Eventually(t, func() bool {
		snap, _ := rec.last()
		return snap.Exists
	}, waitFor, 10*time.Millisecond)

	snap, _ := rec.last()
	doc, ok := snap.Doc()
	require.True(t, ok)
	assert.Equal(t, "categories", doc.ID)
}

func testUnsubscribe(t *testing.T, s store.Store) {
	closeStore(t, s)
	ctx := context.Background()
	coll := store.RecurringPath("u1")

	rec := &recorder{}
	unsub, err := s.Subscribe(ctx, coll, rec.onChange, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, n := rec.last(); return n >= 1 }, waitFor, 10*time.Millisecond)

	unsub()
	_, before := rec.last()

	_, err = s.Create(ctx, coll, raw(t, map[string]any{"amount": 1}))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	_, after := rec.last()
	assert.Equal(t, before, after, "no callbacks after unsubscribe returns")

	unsub()
}
