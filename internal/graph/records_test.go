package graph

import (
	"testing"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecords_RoundTripPreservesOrder(t *testing.T) {
	src := languageGraph(t)
	rec := src.Current().Records()
	assert.Equal(t, domain.SnapshotFormatVersion, rec.FormatVersion)
	assert.Equal(t, src.Current().Version(), rec.Version)

	dst := newTestStore()
	require.NoError(t, dst.Load(rec))

	assert.Equal(t, rec.Nodes, dst.Current().Records().Nodes)
	assert.Equal(t, rec.Edges, dst.Current().Records().Edges)
	assert.GreaterOrEqual(t, dst.Current().Version(), rec.Version)

	python, ok := dst.Current().Resolve(domain.RefByName("python"))
	require.True(t, ok)
	assert.Equal(t, src.Current().OutEdges(python.ID), dst.Current().OutEdges(python.ID))
}

func TestLoad_RejectsInconsistentRecords(t *testing.T) {
	base := languageGraph(t).Current().Records()

	tests := []struct {
		name   string
		mutate func(rec *domain.SnapshotRecords)
	}{
		{"duplicate node id", func(rec *domain.SnapshotRecords) {
			dup := rec.Nodes[0]
			dup.Name = "Other"
			dup.Aliases = nil
			rec.Nodes = append(rec.Nodes, dup)
		}},
		{"dangling edge", func(rec *domain.SnapshotRecords) {
			rec.Edges[0].TargetID = uuid.New()
		}},
		{"duplicate edge id", func(rec *domain.SnapshotRecords) {
			rec.Edges = append(rec.Edges, rec.Edges[0])
		}},
		{"confidence out of range", func(rec *domain.SnapshotRecords) {
			rec.Nodes[1].Confidence = 1.5
		}},
		{"session-local layer", func(rec *domain.SnapshotRecords) {
			rec.Edges[1].Layer = domain.LayerSelfModel
		}},
		{"name collision", func(rec *domain.SnapshotRecords) {
			rec.Nodes[1].Aliases = []string{rec.Nodes[0].Name}
		}},
		{"unknown format", func(rec *domain.SnapshotRecords) {
			rec.FormatVersion = 99
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := cloneRecords(base)
			tt.mutate(rec)

			s := newTestStore()
			entity(t, s, "Existing", 0.9)
			before := s.Current()

			err := s.Load(rec)
			assert.ErrorIs(t, err, domain.ErrGraphInconsistency)
			assert.Same(t, before, s.Current())
		})
	}
}

func cloneRecords(rec *domain.SnapshotRecords) *domain.SnapshotRecords {
	out := *rec
	out.Nodes = append([]domain.Node(nil), rec.Nodes...)
	out.Edges = append([]domain.Edge(nil), rec.Edges...)
	return &out
}
