package store

import (
	"context"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LedgerStore struct {
	db *pgxpool.Pool
}

func NewLedgerStore(db *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) IsProcessed(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_sessions WHERE session_id = $1)`,
		sessionID,
	).Scan(&exists)
	return exists, err
}

func (s *LedgerStore) MarkProcessed(ctx context.Context, sessionID uuid.UUID, outcome domain.Outcome) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO processed_sessions (session_id, outcome) VALUES ($1, $2)
		 ON CONFLICT (session_id) DO NOTHING`,
		sessionID, string(outcome),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *LedgerStore) Release(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM processed_sessions WHERE session_id = $1`, sessionID)
	return err
}
