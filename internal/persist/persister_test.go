package persist

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/graph"
	"github.com/Harshitk-cp/integrity/internal/seed"
	"github.com/Harshitk-cp/integrity/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSeed(t *testing.T) *seed.File {
	t.Helper()
	f, err := seed.Parse(strings.NewReader(`
source: test
entities: [{name: Python}, {name: ProgrammingLanguage}]
relations: [{subject: Python, relation: instance_of, object: ProgrammingLanguage, weight: 0.95}]
`))
	require.NoError(t, err)
	return f
}

func newGraph() *graph.Store {
	return graph.NewStore(graph.DefaultQueryBudget(), zap.NewNop())
}

func TestRestore_SeedsEmptyRepository(t *testing.T) {
	repo := memstore.New()
	g := newGraph()
	p := NewPersister(g, repo, zap.NewNop())

	require.NoError(t, p.Restore(context.Background(), testSeed(t)))
	assert.EqualValues(t, 1, g.Current().Version())
	assert.EqualValues(t, 1, p.SavedVersion())

	rec, err := repo.LoadLatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, rec.Nodes, 2)
	assert.Len(t, rec.Edges, 1)
}

func TestRestore_LoadsSavedGraph(t *testing.T) {
	repo := memstore.New()
	first := newGraph()
	require.NoError(t, NewPersister(first, repo, zap.NewNop()).Restore(context.Background(), testSeed(t)))

	second := newGraph()
	p := NewPersister(second, repo, zap.NewNop())
	require.NoError(t, p.Restore(context.Background(), nil))

	conf, err := second.Current().QueryRelationExists(context.Background(),
		domain.RefByName("Python"), domain.RefByName("ProgrammingLanguage"), domain.RelationInstanceOf)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, conf, 1e-9)

	saved, err := p.Save(context.Background())
	require.NoError(t, err)
	assert.False(t, saved)
}

func TestSave_OnlyNewVersions(t *testing.T) {
	g := newGraph()
	p := NewPersister(g, memstore.New(), zap.NewNop())

	saved, err := p.Save(context.Background())
	require.NoError(t, err)
	assert.False(t, saved)

	_, err = g.UpsertEntity(context.Background(), domain.EntitySpec{Name: "Go"})
	require.NoError(t, err)

	saved, err = p.Save(context.Background())
	require.NoError(t, err)
	assert.True(t, saved)

	saved, err = p.Save(context.Background())
	require.NoError(t, err)
	assert.False(t, saved)
}

type brokenRepo struct{}

func (brokenRepo) SaveSnapshot(ctx context.Context, rec *domain.SnapshotRecords) error {
	return errors.New("disk full")
}

func (brokenRepo) LoadLatestSnapshot(ctx context.Context) (*domain.SnapshotRecords, error) {
	return nil, errors.New("disk gone")
}

func TestRestore_RepositoryFailure(t *testing.T) {
	p := NewPersister(newGraph(), brokenRepo{}, zap.NewNop())
	err := p.Restore(context.Background(), testSeed(t))
	assert.ErrorContains(t, err, "disk gone")
}
