package domain

import (
	"context"

	"github.com/google/uuid"
)

type SnapshotRepository interface {
	SaveSnapshot(ctx context.Context, rec *SnapshotRecords) error
	// LoadLatestSnapshot returns ErrNotFound when nothing was saved yet.
	LoadLatestSnapshot(ctx context.Context) (*SnapshotRecords, error)
}

type SessionLedger interface {
	IsProcessed(ctx context.Context, sessionID uuid.UUID) (bool, error)
	// MarkProcessed reports false when the session was already recorded.
	MarkProcessed(ctx context.Context, sessionID uuid.UUID, outcome Outcome) (bool, error)
	// Release forgets a session, undoing a claim whose graph update failed.
	Release(ctx context.Context, sessionID uuid.UUID) error
}

type EventLog interface {
	Append(ctx context.Context, events []InhibitionEvent) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]InhibitionEvent, error)
}
