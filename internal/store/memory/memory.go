// Package memory is an in-process document store, used for tests and for
// running the tracker without external services.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"fintrack/internal/store"
)

// WriteHook observes every commit before it is applied; returning an error
// aborts the commit. kind is one of "set", "create", "delete", "tx", "batch".
type WriteHook func(kind string, paths []string) error

type Store struct {
	mu   sync.RWMutex
	docs map[string]map[string]json.RawMessage // collection -> id -> data
	hook WriteHook
	hub  *store.Hub
}

func New(logger *slog.Logger) *Store {
	s := &Store{docs: make(map[string]map[string]json.RawMessage)}
	s.hub = store.NewHub(s.snapshot, logger)
	return s
}

// SetWriteHook installs a hook that can observe or fail commits.
func (s *Store) SetWriteHook(h WriteHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

func (s *Store) MaxBatchOps() int { return store.MaxBatchOps }

func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

func (s *Store) Subscribe(ctx context.Context, path string, onChange store.ChangeFunc, onError store.ErrorFunc) (store.Unsubscribe, error) {
	return s.hub.Subscribe(ctx, path, onChange, onError)
}

func (s *Store) Get(_ context.Context, docPath string) (store.Document, bool, error) {
	coll, id, err := store.Split(docPath)
	if err != nil {
		return store.Document{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.docs[coll][id]
	if !ok {
		return store.Document{}, false, nil
	}
	return store.Document{ID: id, Data: slices.Clone(data)}, true, nil
}

func (s *Store) List(_ context.Context, collectionPath string) ([]store.Document, error) {
	coll, err := store.Clean(collectionPath)
	if err != nil || !store.IsCollection(coll) {
		return nil, store.ErrInvalidPath
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(coll), nil
}

func (s *Store) listLocked(coll string) []store.Document {
	ids := make([]string, 0, len(s.docs[coll]))
	for id := range s.docs[coll] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]store.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, store.Document{ID: id, Data: slices.Clone(s.docs[coll][id])})
	}
	return out
}

func (s *Store) snapshot(ctx context.Context, path string) (store.Snapshot, error) {
	if store.IsCollection(path) {
		docs, err := s.List(ctx, path)
		if err != nil {
			return store.Snapshot{}, err
		}
		return store.Snapshot{Path: path, Exists: true, Docs: docs}, nil
	}
	doc, ok, err := s.Get(ctx, path)
	if err != nil {
		return store.Snapshot{}, err
	}
	snap := store.Snapshot{Path: path, Exists: ok}
	if ok {
		snap.Docs = []store.Document{doc}
	}
	return snap, nil
}

func (s *Store) Create(ctx context.Context, collectionPath string, data json.RawMessage) (string, error) {
	var id string
	err := s.commit("create", func(tx *memTx) error {
		var err error
		id, err = tx.Create(collectionPath, data)
		return err
	})
	return id, err
}

func (s *Store) Set(ctx context.Context, docPath string, data json.RawMessage, merge bool) error {
	return s.commit("set", func(tx *memTx) error {
		return tx.Set(docPath, data, merge)
	})
}

func (s *Store) Delete(ctx context.Context, docPath string) error {
	return s.commit("delete", func(tx *memTx) error {
		return tx.Delete(docPath)
	})
}

func (s *Store) RunTransaction(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit("tx", func(tx *memTx) error {
		return fn(tx)
	})
}

func (s *Store) BatchWrite(ctx context.Context, ops []store.Op) error {
	if err := store.ValidateBatch(ops, s.MaxBatchOps()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit("batch", func(tx *memTx) error {
		for _, op := range ops {
			var err error
			switch op.Kind {
			case store.OpSet:
				err = tx.Set(op.Path, op.Data, op.Merge)
			case store.OpDelete:
				err = tx.Delete(op.Path)
			default:
				err = fmt.Errorf("unknown batch op %d", op.Kind)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// commit runs fn against a staged view under the write lock and applies
// the staged writes only when fn and the hook succeed.
func (s *Store) commit(kind string, fn func(*memTx) error) error {
	s.mu.Lock()
	tx := &memTx{s: s, staged: map[string]staged{}}
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}
	paths := tx.paths()
	if len(paths) == 0 {
		s.mu.Unlock()
		return nil
	}
	if s.hook != nil {
		if err := s.hook(kind, paths); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	for path, w := range tx.staged {
		coll, id, _ := store.Split(path)
		if w.deleted {
			delete(s.docs[coll], id)
			if len(s.docs[coll]) == 0 {
				delete(s.docs, coll)
			}
			continue
		}
		if s.docs[coll] == nil {
			s.docs[coll] = make(map[string]json.RawMessage)
		}
		s.docs[coll][id] = w.data
	}
	s.mu.Unlock()

	s.hub.Notify(paths...)
	return nil
}

type staged struct {
	data    json.RawMessage
	deleted bool
}

// memTx runs with s.mu held for writing.
type memTx struct {
	s      *Store
	staged map[string]staged
	order  []string
}

func (t *memTx) stage(path string, w staged) {
	if _, ok := t.staged[path]; !ok {
		t.order = append(t.order, path)
	}
	t.staged[path] = w
}

func (t *memTx) paths() []string {
	return slices.Clone(t.order)
}

func (t *memTx) Get(docPath string) (store.Document, bool, error) {
	clean, err := store.Clean(docPath)
	if err != nil {
		return store.Document{}, false, err
	}
	coll, id, err := store.Split(clean)
	if err != nil {
		return store.Document{}, false, err
	}
	if w, ok := t.staged[clean]; ok {
		if w.deleted {
			return store.Document{}, false, nil
		}
		return store.Document{ID: id, Data: slices.Clone(w.data)}, true, nil
	}
	data, ok := t.s.docs[coll][id]
	if !ok {
		return store.Document{}, false, nil
	}
	return store.Document{ID: id, Data: slices.Clone(data)}, true, nil
}

func (t *memTx) Set(docPath string, data json.RawMessage, merge bool) error {
	clean, err := store.Clean(docPath)
	if err != nil || !store.IsDocument(clean) {
		return store.ErrInvalidPath
	}
	cur, exists, err := t.Get(clean)
	if err != nil {
		return err
	}
	next, err := store.Resolve(cur.Data, exists, data, merge)
	if err != nil {
		return err
	}
	t.stage(clean, staged{data: slices.Clone(next)})
	return nil
}

func (t *memTx) Create(collectionPath string, data json.RawMessage) (string, error) {
	coll, err := store.Clean(collectionPath)
	if err != nil || !store.IsCollection(coll) {
		return "", store.ErrInvalidPath
	}
	if !json.Valid(data) {
		return "", fmt.Errorf("document data is not valid JSON")
	}
	id := uuid.NewString()
	t.stage(store.Join(coll, id), staged{data: slices.Clone(data)})
	return id, nil
}

func (t *memTx) Delete(docPath string) error {
	clean, err := store.Clean(docPath)
	if err != nil || !store.IsDocument(clean) {
		return store.ErrInvalidPath
	}
	t.stage(clean, staged{deleted: true})
	return nil
}
