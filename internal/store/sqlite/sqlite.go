// Package sqlite keeps documents in a single SQLite table. Several
// processes may share one database file; when a change bus is attached
// they tell each other which paths they committed so subscriptions in
// every process stay live.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db     *sql.DB
	hub    *store.Hub
	logger *slog.Logger

	origin string
	bus    store.ChangeBus
}

func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection serializes transactions inside this process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		origin: uuid.NewString(),
	}
	s.hub = store.NewHub(s.snapshot, logger)
	return s, nil
}

// AttachBus publishes every commit on bus. Call Follow to receive the
// commits of other processes.
func (s *Store) AttachBus(bus store.ChangeBus) {
	s.bus = bus
}

// Follow relays changes committed by other processes to local
// subscribers until ctx is done or the bus fails.
func (s *Store) Follow(ctx context.Context) error {
	if s.bus == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.bus.ConsumeChanges(ctx, func(origin string, paths []string) {
		if origin == s.origin {
			return
		}
		s.logger.DebugContext(ctx, "Remote change received", "origin", origin, "paths", len(paths))
		s.hub.Notify(paths...)
	})
}

func (s *Store) MaxBatchOps() int { return store.MaxBatchOps }

func (s *Store) Close() error {
	s.hub.Close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, path string, onChange store.ChangeFunc, onError store.ErrorFunc) (store.Unsubscribe, error) {
	return s.hub.Subscribe(ctx, path, onChange, onError)
}

func (s *Store) Get(ctx context.Context, docPath string) (store.Document, bool, error) {
	coll, id, err := store.Split(docPath)
	if err != nil {
		return store.Document{}, false, err
	}
	return getDoc(ctx, s.db, coll, id)
}

func (s *Store) List(ctx context.Context, collectionPath string) ([]store.Document, error) {
	coll, err := store.Clean(collectionPath)
	if err != nil || !store.IsCollection(coll) {
		return nil, store.ErrInvalidPath
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE collection = ? ORDER BY id`, coll)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", coll, err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", coll, err)
		}
		docs = append(docs, store.Document{ID: id, Data: json.RawMessage(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", coll, err)
	}
	return docs, nil
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
	err := s.commit(ctx, func(tx *sqlTx) error {
		var err error
		id, err = tx.Create(collectionPath, data)
		return err
	})
	return id, err
}

func (s *Store) Set(ctx context.Context, docPath string, data json.RawMessage, merge bool) error {
	return s.commit(ctx, func(tx *sqlTx) error {
		return tx.Set(docPath, data, merge)
	})
}

func (s *Store) Delete(ctx context.Context, docPath string) error {
	return s.commit(ctx, func(tx *sqlTx) error {
		return tx.Delete(docPath)
	})
}

func (s *Store) RunTransaction(ctx context.Context, fn func(store.Tx) error) error {
	return s.commit(ctx, func(tx *sqlTx) error {
		return fn(tx)
	})
}

func (s *Store) BatchWrite(ctx context.Context, ops []store.Op) error {
	if err := store.ValidateBatch(ops, s.MaxBatchOps()); err != nil {
		return err
	}
	return s.commit(ctx, func(tx *sqlTx) error {
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

func (s *Store) commit(ctx context.Context, fn func(*sqlTx) error) error {
	sqltx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := &sqlTx{ctx: ctx, tx: sqltx, seen: map[string]bool{}}

	if err := fn(tx); err != nil {
		if rbErr := sqltx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.WarnContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := sqltx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	if len(tx.touched) == 0 {
		return nil
	}
	s.hub.Notify(tx.touched...)
	if s.bus != nil {
		// The write is durable; a failed announcement only delays remote readers.
		if err := s.bus.PublishChange(context.WithoutCancel(ctx), s.origin, tx.touched); err != nil {
			s.logger.WarnContext(ctx, "Failed to publish change", "error", err, "paths", len(tx.touched))
		}
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDoc(ctx context.Context, q queryer, coll, id string) (store.Document, bool, error) {
	var data string
	err := q.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, coll, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, false, nil
	}
	if err != nil {
		return store.Document{}, false, fmt.Errorf("get %s/%s: %w", coll, id, err)
	}
	return store.Document{ID: id, Data: json.RawMessage(data)}, true, nil
}

type sqlTx struct {
	ctx     context.Context
	tx      *sql.Tx
	touched []string
	seen    map[string]bool
}

func (t *sqlTx) touch(path string) {
	if !t.seen[path] {
		t.seen[path] = true
		t.touched = append(t.touched, path)
	}
}

func (t *sqlTx) Get(docPath string) (store.Document, bool, error) {
	coll, id, err := store.Split(docPath)
	if err != nil {
		return store.Document{}, false, err
	}
	return getDoc(t.ctx, t.tx, coll, id)
}

func (t *sqlTx) Set(docPath string, data json.RawMessage, merge bool) error {
	clean, err := store.Clean(docPath)
	if err != nil || !store.IsDocument(clean) {
		return store.ErrInvalidPath
	}
	coll, id, _ := store.Split(clean)
	cur, exists, err := getDoc(t.ctx, t.tx, coll, id)
	if err != nil {
		return err
	}
	next, err := store.Resolve(cur.Data, exists, data, merge)
	if err != nil {
		return err
	}
	if err := t.put(coll, id, next); err != nil {
		return err
	}
	t.touch(clean)
	return nil
}

func (t *sqlTx) Create(collectionPath string, data json.RawMessage) (string, error) {
	coll, err := store.Clean(collectionPath)
	if err != nil || !store.IsCollection(coll) {
		return "", store.ErrInvalidPath
	}
	if !json.Valid(data) {
		return "", fmt.Errorf("document data is not valid JSON")
	}
	id := uuid.NewString()
	if err := t.put(coll, id, data); err != nil {
		return "", err
	}
	t.touch(store.Join(coll, id))
	return id, nil
}

func (t *sqlTx) Delete(docPath string) error {
	clean, err := store.Clean(docPath)
	if err != nil || !store.IsDocument(clean) {
		return store.ErrInvalidPath
	}
	coll, id, _ := store.Split(clean)
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, coll, id); err != nil {
		return fmt.Errorf("delete %s: %w", clean, err)
	}
	t.touch(clean)
	return nil
}

func (t *sqlTx) put(coll, id string, data json.RawMessage) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,
		coll, id, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", coll, id, err)
	}
	return nil
}
