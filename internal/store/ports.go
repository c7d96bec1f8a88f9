// Package store defines the document-store contract the tracker runs on:
// path-addressed JSON documents grouped in collections, real-time
// subscriptions, single-document transactions and bounded batch writes.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// MaxBatchOps is the per-batch write ceiling every implementation enforces.
const MaxBatchOps = 499

var (
	ErrInvalidPath   = errors.New("invalid document path")
	ErrBatchTooLarge = errors.New("batch exceeds maximum operations")
	ErrClosed        = errors.New("store closed")
)

type (
	// Document is one stored JSON object.
	Document struct {
		ID   string          `json:"id"`
		Data json.RawMessage `json:"data"`
	}

	// Snapshot is the state of a subscribed path at delivery time. For a
	// document path Docs holds at most one element and Exists reports
	// whether it was found; for a collection Exists is always true.
	Snapshot struct {
		Path   string
		Exists bool
		Docs   []Document
	}

	ChangeFunc  func(Snapshot)
	ErrorFunc   func(error)
	Unsubscribe func()

	// Tx is the view a transaction function gets. Reads observe the
	// transaction's own earlier writes.
	Tx interface {
		Get(docPath string) (Document, bool, error)
		Set(docPath string, data json.RawMessage, merge bool) error
		Create(collectionPath string, data json.RawMessage) (string, error)
		Delete(docPath string) error
	}

	Reader interface {
		Get(ctx context.Context, docPath string) (Document, bool, error)
		List(ctx context.Context, collectionPath string) ([]Document, error)
	}

	Writer interface {
		Create(ctx context.Context, collectionPath string, data json.RawMessage) (string, error)
		Set(ctx context.Context, docPath string, data json.RawMessage, merge bool) error
		Delete(ctx context.Context, docPath string) error
		// RunTransaction applies every write fn makes, or none of them.
		RunTransaction(ctx context.Context, fn func(Tx) error) error
		// BatchWrite commits ops atomically; len(ops) must not exceed MaxBatchOps.
		BatchWrite(ctx context.Context, ops []Op) error
		MaxBatchOps() int
	}

	Subscriber interface {
		// Subscribe delivers the current snapshot of path and then a fresh
		// snapshot after every committed change under it. Once the returned
		// Unsubscribe has returned no further callbacks run. Callbacks must
		// not call Unsubscribe themselves.
		Subscribe(ctx context.Context, path string, onChange ChangeFunc, onError ErrorFunc) (Unsubscribe, error)
	}

	Store interface {
		Reader
		Writer
		Subscriber
		Close() error
	}

	// ChangeBus carries committed document paths between processes that
	// share the same backing data.
	ChangeBus interface {
		PublishChange(ctx context.Context, origin string, paths []string) error
		ConsumeChanges(ctx context.Context, handle func(origin string, paths []string)) error
	}
)

// Doc returns the single document of a document snapshot.
func (s Snapshot) Doc() (Document, bool) {
	if !s.Exists || len(s.Docs) == 0 {
		return Document{}, false
	}
	return s.Docs[0], true
}

type OpKind int

const (
	OpSet OpKind = iota
	OpDelete
)

// Op is one write in a batch.
type Op struct {
	Kind  OpKind
	Path  string
	Data  json.RawMessage
	Merge bool
}

func SetOp(docPath string, data json.RawMessage, merge bool) Op {
	return Op{Kind: OpSet, Path: docPath, Data: data, Merge: merge}
}

func DeleteOp(docPath string) Op {
	return Op{Kind: OpDelete, Path: docPath}
}

// ValidateBatch checks op count and paths before anything is written.
func ValidateBatch(ops []Op, limit int) error {
	if len(ops) > limit {
		return ErrBatchTooLarge
	}
	for _, op := range ops {
		if !IsDocument(op.Path) {
			return ErrInvalidPath
		}
	}
	return nil
}

// UpdateFunc computes the next document value from the current one.
// Returning nil next leaves the document untouched.
type UpdateFunc func(current json.RawMessage, exists bool) (next json.RawMessage, err error)

// Update is an atomic read-modify-write of a single document.
func Update(ctx context.Context, w Writer, docPath string, fn UpdateFunc) error {
	return w.RunTransaction(ctx, func(tx Tx) error {
		doc, exists, err := tx.Get(docPath)
		if err != nil {
			return err
		}
		next, err := fn(doc.Data, exists)
		if err != nil || next == nil {
			return err
		}
		return tx.Set(docPath, next, false)
	})
}
