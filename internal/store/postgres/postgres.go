// Package postgres keeps documents in a PostgreSQL jsonb table. Commits
// are announced with NOTIFY so every process listening on the same
// database refreshes its subscriptions.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fintrack/internal/store"
)

const (
	channel = "fintrack_changes"

	// NOTIFY payloads are capped at 8000 bytes.
	maxPayload = 7900

	maxAttempts = 5
)

type Store struct {
	pool   *pgxpool.Pool
	hub    *store.Hub
	logger *slog.Logger
	origin string
}

// change is the NOTIFY payload.
type change struct {
	Origin string   `json:"origin"`
	Paths  []string `json:"paths"`
}

func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{
		pool:   pool,
		logger: logger,
		origin: uuid.NewString(),
	}
	s.hub = store.NewHub(s.snapshot, logger)
	return s, nil
}

// Follow listens for commits made by other processes and refreshes the
// local subscriptions they touch, until ctx is done or the connection fails.
func (s *Store) Follow(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.logger.InfoContext(ctx, "Listening for remote changes", "channel", channel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wait for notification: %w", err)
		}

		var c change
		if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
			s.logger.WarnContext(ctx, "Dropping malformed change notification", "error", err)
			continue
		}
		if c.Origin == s.origin {
			continue
		}
		s.hub.Notify(c.Paths...)
	}
}

func (s *Store) MaxBatchOps() int { return store.MaxBatchOps }

func (s *Store) Close() error {
	s.hub.Close()
	s.pool.Close()
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
	return getDoc(ctx, s.pool, coll, id, false)
}

func (s *Store) List(ctx context.Context, collectionPath string) ([]store.Document, error) {
	coll, err := store.Clean(collectionPath)
	if err != nil || !store.IsCollection(coll) {
		return nil, store.ErrInvalidPath
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, data::text FROM documents WHERE collection = $1 ORDER BY id`, coll)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", coll, err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Document, error) {
		var id, data string
		err := row.Scan(&id, &data)
		return store.Document{ID: id, Data: json.RawMessage(data)}, err
	})
	if err != nil {
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
	err := s.commit(ctx, func(tx *pgTx) error {
		var err error
		id, err = tx.Create(collectionPath, data)
		return err
	})
	return id, err
}

func (s *Store) Set(ctx context.Context, docPath string, data json.RawMessage, merge bool) error {
	return s.commit(ctx, func(tx *pgTx) error {
		return tx.Set(docPath, data, merge)
	})
}

func (s *Store) Delete(ctx context.Context, docPath string) error {
	return s.commit(ctx, func(tx *pgTx) error {
		return tx.Delete(docPath)
	})
}

// RunTransaction retries fn when the serializable commit loses a conflict.
func (s *Store) RunTransaction(ctx context.Context, fn func(store.Tx) error) error {
	return s.commit(ctx, func(tx *pgTx) error {
		return fn(tx)
	})
}

func (s *Store) BatchWrite(ctx context.Context, ops []store.Op) error {
	if err := store.ValidateBatch(ops, s.MaxBatchOps()); err != nil {
		return err
	}
	return s.commit(ctx, func(tx *pgTx) error {
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

func (s *Store) commit(ctx context.Context, fn func(*pgTx) error) error {
	var touched []string
	for attempt := 1; ; attempt++ {
		var err error
		touched, err = s.attempt(ctx, fn)
		if err == nil {
			break
		}
		if !isSerializationFailure(err) || attempt == maxAttempts {
			return err
		}
		s.logger.DebugContext(ctx, "Retrying conflicted transaction", "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*10) * time.Millisecond):
		}
	}

	if len(touched) > 0 {
		s.hub.Notify(touched...)
	}
	return nil
}

func (s *Store) attempt(ctx context.Context, fn func(*pgTx) error) ([]string, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	ptx := &pgTx{ctx: ctx, tx: tx, seen: map[string]bool{}}
	if err := fn(ptx); err != nil {
		return nil, err
	}
	if len(ptx.touched) > 0 {
		payload, err := notifyPayload(s.origin, ptx.touched)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, payload); err != nil {
			return nil, fmt.Errorf("notify: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return ptx.touched, nil
}

// notifyPayload encodes the change, widening document paths to their
// collections when the full list would not fit in one notification.
func notifyPayload(origin string, paths []string) (string, error) {
	b, err := json.Marshal(change{Origin: origin, Paths: paths})
	if err != nil {
		return "", err
	}
	if len(b) <= maxPayload {
		return string(b), nil
	}

	var colls []string
	for _, p := range paths {
		coll, _, err := store.Split(p)
		if err != nil {
			continue
		}
		if !slices.Contains(colls, coll) {
			colls = append(colls, coll)
		}
	}
	b, err = json.Marshal(change{Origin: origin, Paths: colls})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getDoc(ctx context.Context, q querier, coll, id string, lock bool) (store.Document, bool, error) {
	query := `SELECT data::text FROM documents WHERE collection = $1 AND id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	var data string
	err := q.QueryRow(ctx, query, coll, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Document{}, false, nil
	}
	if err != nil {
		return store.Document{}, false, fmt.Errorf("get %s/%s: %w", coll, id, err)
	}
	return store.Document{ID: id, Data: json.RawMessage(data)}, true, nil
}

type pgTx struct {
	ctx     context.Context
	tx      pgx.Tx
	touched []string
	seen    map[string]bool
}

func (t *pgTx) touch(path string) {
	if !t.seen[path] {
		t.seen[path] = true
		t.touched = append(t.touched, path)
	}
}

func (t *pgTx) Get(docPath string) (store.Document, bool, error) {
	coll, id, err := store.Split(docPath)
	if err != nil {
		return store.Document{}, false, err
	}
	return getDoc(t.ctx, t.tx, coll, id, true)
}

func (t *pgTx) Set(docPath string, data json.RawMessage, merge bool) error {
	clean, err := store.Clean(docPath)
	if err != nil || !store.IsDocument(clean) {
		return store.ErrInvalidPath
	}
	coll, id, _ := store.Split(clean)
	cur, exists, err := getDoc(t.ctx, t.tx, coll, id, true)
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

func (t *pgTx) Create(collectionPath string, data json.RawMessage) (string, error) {
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

func (t *pgTx) Delete(docPath string) error {
	clean, err := store.Clean(docPath)
	if err != nil || !store.IsDocument(clean) {
		return store.ErrInvalidPath
	}
	coll, id, _ := store.Split(clean)
	if _, err := t.tx.Exec(t.ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, coll, id); err != nil {
		return fmt.Errorf("delete %s: %w", clean, err)
	}
	t.touch(clean)
	return nil
}

func (t *pgTx) put(coll, id string, data json.RawMessage) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (collection, id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		coll, id, string(data))
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", coll, id, err)
	}
	return nil
}
