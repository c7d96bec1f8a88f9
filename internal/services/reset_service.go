package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

// ReadWriter is the part of the store bulk operations need.
type ReadWriter interface {
	store.Reader
	store.Writer
}

// ResetService wipes an account back to its initial state.
type ResetService struct {
	store  ReadWriter
	logger *slog.Logger
}

func NewResetService(rw ReadWriter, logger *slog.Logger) *ResetService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResetService{store: rw, logger: logger.With(log.FieldComponent, log.ComponentTracker)}
}

// Reset deletes every transaction and template in batches no larger than
// the store's ceiling, committing each batch before the next, then restores
// the default categories and clears the goal. Running it again after a
// failure finishes the job.
func (s *ResetService) Reset(ctx context.Context, account string) error {
	for _, coll := range []string{store.TransactionsPath(account), store.RecurringPath(account)} {
		n, err := s.deleteAll(ctx, coll)
		if err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "Collection cleared",
			log.FieldAccount, account,
			log.FieldResource, coll,
			log.FieldCount, n)
	}

	categories, err := json.Marshal(core.DefaultCategories())
	if err != nil {
		return err
	}
	err = s.store.BatchWrite(ctx, []store.Op{
		store.SetOp(store.CategoriesPath(account), categories, true),
		store.SetOp(store.BudgetPath(account), json.RawMessage(`{"monthlyGoal":null}`), true),
	})
	if err != nil {
		return core.RemoteWrite("reset settings", err)
	}

	s.logger.InfoContext(ctx, "Account data reset", log.FieldAccount, account, log.FieldOperation, log.OpReset)
	return nil
}

func (s *ResetService) deleteAll(ctx context.Context, coll string) (int, error) {
	docs, err := s.store.List(ctx, coll)
	if err != nil {
		return 0, core.RemoteWrite("list "+coll, err)
	}

	limit := s.store.MaxBatchOps()
	deleted := 0
	for start := 0; start < len(docs); start += limit {
		end := min(start+limit, len(docs))
		ops := make([]store.Op, 0, end-start)
		for _, d := range docs[start:end] {
			ops = append(ops, store.DeleteOp(store.Join(coll, d.ID)))
		}
		if err := s.store.BatchWrite(ctx, ops); err != nil {
			return deleted, core.RemoteWrite("delete batch", err)
		}
		deleted += len(ops)
	}
	return deleted, nil
}
