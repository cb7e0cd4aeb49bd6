package consolidation

import (
	"context"
	"testing"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunDecay_PrunesFadedEpisodicRecords(t *testing.T) {
	g := testGraph(t)
	ctx := context.Background()
	_, err := g.UpsertEntity(ctx, domain.EntitySpec{Name: "Rust", Layer: domain.LayerEpisodic, Weight: 0.3})
	require.NoError(t, err)
	_, err = g.UpsertRelation(ctx, domain.RelationSpec{
		Source:       domain.RefByName("Python"),
		Target:       domain.RefByName("Rust"),
		RelationType: domain.RelationPartnerOf,
		Layer:        domain.LayerEpisodic,
		Weight:       0.3,
	})
	require.NoError(t, err)
	semantic, _ := edge(t, g, "Python", domain.RelationInstanceOf, "ProgrammingLanguage")

	svc, err := NewDecayService(g, DecayConfig{Factor: 0.8, RetentionThreshold: 0.2}, zap.NewNop())
	require.NoError(t, err)

	res, err := svc.RunDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RecordsDecayed)
	assert.Zero(t, res.EdgesPruned)

	e, ok := edge(t, g, "Python", domain.RelationPartnerOf, "Rust")
	require.True(t, ok)
	assert.InDelta(t, 0.24, e.Confidence, 1e-9)

	res, err = svc.RunDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.EdgesPruned)
	assert.Equal(t, 1, res.NodesPruned)
	assert.Equal(t, g.Current().Version(), res.Version)

	_, ok = g.Current().Resolve(domain.RefByName("Rust"))
	assert.False(t, ok)

	after, ok := edge(t, g, "Python", domain.RelationInstanceOf, "ProgrammingLanguage")
	require.True(t, ok)
	assert.Equal(t, semantic.Confidence, after.Confidence)
}

func TestRunDecay_NothingEpisodicKeepsVersion(t *testing.T) {
	g := testGraph(t)
	version := g.Current().Version()
	svc, err := NewDecayService(g, DefaultDecayConfig(), zap.NewNop())
	require.NoError(t, err)

	res, err := svc.RunDecay(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.RecordsDecayed)
	assert.Equal(t, version, res.Version)
}

func TestPrune_DoesNotDecay(t *testing.T) {
	g := testGraph(t)
	ctx := context.Background()
	_, err := g.UpsertEntity(ctx, domain.EntitySpec{Name: "Rust", Layer: domain.LayerEpisodic, Weight: 0.3})
	require.NoError(t, err)

	svc, err := NewDecayService(g, DefaultDecayConfig(), zap.NewNop())
	require.NoError(t, err)

	res, err := svc.Prune(ctx, 0.2)
	require.NoError(t, err)
	assert.Zero(t, res.RecordsDecayed)
	assert.Zero(t, res.NodesPruned)

	res, err = svc.Prune(ctx, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NodesPruned)
}

func TestDecayConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultDecayConfig().Validate())
	assert.Error(t, DecayConfig{Factor: 0, RetentionThreshold: 0.1}.Validate())
	assert.Error(t, DecayConfig{Factor: 0.9, RetentionThreshold: 1}.Validate())
}
