package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

// Materialization is one due template turned into the posting it creates
// and the watermark it advances.
type Materialization struct {
	TemplateID string
	Posting    core.Transaction
	LastRun    int64
}

// RecurringProcessor posts due recurring templates as transactions.
type RecurringProcessor struct {
	store  store.Writer
	loc    *time.Location
	logger *slog.Logger
}

func NewRecurringProcessor(w store.Writer, loc *time.Location, logger *slog.Logger) *RecurringProcessor {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecurringProcessor{
		store:  w,
		loc:    loc,
		logger: logger.With(log.FieldComponent, log.ComponentRecurring),
	}
}

// Plan lists the materializations due at now. Templates with an unknown
// frequency are skipped.
func (p *RecurringProcessor) Plan(templates []core.RecurringTemplate, now time.Time) []Materialization {
	var plan []Materialization
	for _, t := range templates {
		due, err := IsTemplateDue(t, now, p.loc)
		if err != nil {
			p.logger.Warn("Skipping template with unsupported frequency",
				log.FieldTemplate, t.ID,
				log.FieldError, err)
			continue
		}
		if !due {
			continue
		}
		plan = append(plan, materialize(t, now))
	}
	return plan
}

func materialize(t core.RecurringTemplate, now time.Time) Materialization {
	return Materialization{
		TemplateID: t.ID,
		Posting: core.Transaction{
			Amount:      t.Amount,
			Type:        t.Type,
			Category:    t.Category,
			Description: t.PostingDescription(),
			Timestamp:   now.UnixMilli(),
		},
		LastRun: now.UnixMilli(),
	}
}

// ProcessDue posts every due template of account. Each template commits
// in its own store transaction, which re-reads the stored template and
// re-checks dueness, so concurrent runs cannot post twice. It returns the
// number of postings committed and the joined errors of the failed ones.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, account string, templates []core.RecurringTemplate, now time.Time) (int, error) {
	plan := p.Plan(templates, now)
	if len(plan) == 0 {
		return 0, nil
	}

	p.logger.InfoContext(ctx, "Processing recurring templates",
		log.FieldAccount, account,
		"due", len(plan),
		"total", len(templates))

	var (
		count int
		errs  []error
	)
	for _, m := range plan {
		posted, err := p.apply(ctx, account, m.TemplateID, now)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to post recurring template",
				log.FieldAccount, account,
				log.FieldTemplate, m.TemplateID,
				log.FieldError, err)
			errs = append(errs, err)
			continue
		}
		if posted {
			count++
		}
	}

	p.logger.InfoContext(ctx, "Recurring processing complete",
		log.FieldAccount, account,
		log.FieldCount, count,
		"failed", len(errs))

	return count, errors.Join(errs...)
}

func (p *RecurringProcessor) apply(ctx context.Context, account, templateID string, now time.Time) (bool, error) {
	if !store.ValidSegment(templateID) {
		return false, fmt.Errorf("template %q: %w", templateID, core.ErrEmptyID)
	}
	tplPath := store.Join(store.RecurringPath(account), templateID)

	var posted bool
	err := p.store.RunTransaction(ctx, func(tx store.Tx) error {
		posted = false

		doc, ok, err := tx.Get(tplPath)
		if err != nil || !ok {
			return err
		}
		var stored core.RecurringTemplate
		if err := json.Unmarshal(doc.Data, &stored); err != nil {
			return fmt.Errorf("decode template %s: %w", templateID, err)
		}
		stored.ID = doc.ID

		due, err := IsTemplateDue(stored, now, p.loc)
		if err != nil || !due {
			return err
		}

		m := materialize(stored, now)
		data, err := json.Marshal(m.Posting)
		if err != nil {
			return err
		}
		if _, err := tx.Create(store.TransactionsPath(account), data); err != nil {
			return err
		}
		watermark, err := json.Marshal(map[string]int64{"lastRun": m.LastRun})
		if err != nil {
			return err
		}
		if err := tx.Set(tplPath, watermark, true); err != nil {
			return err
		}
		posted = true
		return nil
	})
	if err != nil {
		return false, core.RemoteWrite("materialize "+templateID, err)
	}
	return posted, nil
}
