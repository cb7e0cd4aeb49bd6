package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EventStore struct {
	db *pgxpool.Pool
}

func NewEventStore(db *pgxpool.Pool) *EventStore {
	return &EventStore{db: db}
}

// Append writes a session's events in one round trip. The full event is kept
// as JSON; the indexed columns serve ad-hoc queries.
func (s *EventStore) Append(ctx context.Context, events []domain.InhibitionEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		batch.Queue(
			`INSERT INTO inhibition_events
			   (session_id, step, snapshot_version, composite, action, state_before, state_after, payload, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			ev.SessionID, ev.Sample.Step, int64(ev.Sample.SnapshotVersion), ev.Sample.Composite,
			string(ev.Action.Kind), string(ev.Before), string(ev.After), payload, ev.CreatedAt,
		)
	}
	return s.db.SendBatch(ctx, batch).Close()
}

func (s *EventStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.InhibitionEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT payload FROM inhibition_events WHERE session_id = $1 ORDER BY step, id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.InhibitionEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev domain.InhibitionEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
