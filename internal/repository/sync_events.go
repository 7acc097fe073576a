package repository

import (
	"context"
	"fmt"

	"github.com/aureeaubert/hull-closeio/internal/model"
	"github.com/jmoiron/sqlx"
)

// SyncEventsRepository appends and lists per-entity sync outcomes in ClickHouse.
type SyncEventsRepository interface {
	InsertBatch(ctx context.Context, events []model.SyncEvent) error
	ListByEntity(ctx context.Context, kind, internalID, outcome string, limit, offset int) ([]model.SyncEvent, error)
}

type chSyncEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewSyncEventsRepository(ch *sqlx.DB) SyncEventsRepository {
	return &chSyncEventsRepository{ch: ch}
}

// InsertBatch sends all rows as a single ClickHouse block.
func (r *chSyncEventsRepository) InsertBatch(ctx context.Context, events []model.SyncEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_events
		    (id, batch_id, kind, internal_id, external_id, op, outcome, message, created_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare sync_events: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.BatchID, e.Kind, e.InternalID, e.ExternalID, e.Op, e.Outcome, e.Message, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("append sync_event %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func (r *chSyncEventsRepository) ListByEntity(ctx context.Context, kind, internalID, outcome string, limit, offset int) ([]model.SyncEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, batch_id, kind, internal_id, external_id, op, outcome, message, created_at
		FROM sync_events
		WHERE kind = ?
	`
	args := []any{kind}

	if internalID != "" {
		q += " AND internal_id = ?"
		args = append(args, internalID)
	}
	if outcome != "" {
		q += " AND outcome = ?"
		args = append(args, outcome)
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.SyncEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
