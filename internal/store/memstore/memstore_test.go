package memstore

import (
	"context"
	"testing"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := uuid.New()

	done, err := s.IsProcessed(ctx, id)
	require.NoError(t, err)
	assert.False(t, done)

	fresh, err := s.MarkProcessed(ctx, id, domain.OutcomeAborted)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.MarkProcessed(ctx, id, domain.OutcomeAborted)
	require.NoError(t, err)
	assert.False(t, fresh)

	done, err = s.IsProcessed(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.Release(ctx, id))
	done, err = s.IsProcessed(ctx, id)
	require.NoError(t, err)
	assert.False(t, done)

	fresh, err = s.MarkProcessed(ctx, id, domain.OutcomeAborted)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestSnapshot(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.LoadLatestSnapshot(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rec := &domain.SnapshotRecords{FormatVersion: domain.SnapshotFormatVersion, Version: 3, Nodes: []domain.Node{{ID: uuid.New(), Name: "Python"}}}
	require.NoError(t, s.SaveSnapshot(ctx, rec))
	rec.Nodes[0].Name = "mutated"

	got, err := s.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.Version)
	assert.Equal(t, "Python", got.Nodes[0].Name)
}

func TestEventLog(t *testing.T) {
	s := New()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, s.Append(ctx, []domain.InhibitionEvent{
		{SessionID: a, Sample: domain.DissonanceSample{Step: 0}},
		{SessionID: b, Sample: domain.DissonanceSample{Step: 0}},
		{SessionID: a, Sample: domain.DissonanceSample{Step: 1}},
	}))

	got, err := s.ListBySession(ctx, a)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[1].Sample.Step)

	got, err = s.ListBySession(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, got)
}
