package consolidation

import (
	"context"
	"errors"
	"testing"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/graph"
	"github.com/Harshitk-cp/integrity/internal/store/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testGraph(t *testing.T) *graph.Store {
	t.Helper()
	s := graph.NewStore(graph.DefaultQueryBudget(), zap.NewNop())
	err := s.Update(context.Background(), func(txn *graph.Txn) error {
		for _, name := range []string{"Python", "ProgrammingLanguage", "Guido van Rossum", "James Gosling"} {
			if _, err := txn.UpsertEntity(domain.EntitySpec{Name: name, Weight: 0.9}); err != nil {
				return err
			}
		}
		for _, r := range []domain.RelationSpec{
			{Source: domain.RefByName("Python"), Target: domain.RefByName("ProgrammingLanguage"), RelationType: domain.RelationInstanceOf, Weight: 0.9},
			{Source: domain.RefByName("Python"), Target: domain.RefByName("Guido van Rossum"), RelationType: domain.RelationCreatedBy, Weight: 0.9},
		} {
			if _, err := txn.UpsertRelation(r); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return s
}

func newTestConsolidator(t *testing.T, g *graph.Store, ledger domain.SessionLedger) *Consolidator {
	t.Helper()
	c, err := NewConsolidator(g, ledger, DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	return c
}

func triple(s string, rel domain.RelationType, o string) domain.Assertion {
	return domain.Assertion{Subject: s, Relation: rel, Object: o}
}

func emittedEvent(id uuid.UUID, claims ...domain.Assertion) domain.InhibitionEvent {
	return domain.InhibitionEvent{
		SessionID: id,
		Action:    domain.Action{Kind: domain.ActionContinue},
		Before:    domain.StateMonitoring,
		After:     domain.StateMonitoring,
		Emitted:   claims,
	}
}

func haltEvent(id uuid.UUID, trigger domain.Assertion) domain.InhibitionEvent {
	return domain.InhibitionEvent{
		SessionID: id,
		Action:    domain.Action{Kind: domain.ActionHalt, Trigger: &trigger},
		Before:    domain.StateQualifying,
		After:     domain.StateAborted,
	}
}

func edge(t *testing.T, g *graph.Store, src string, rel domain.RelationType, dst string) (domain.Edge, bool) {
	t.Helper()
	snap := g.Current()
	a, ok := snap.Resolve(domain.RefByName(src))
	if !ok {
		return domain.Edge{}, false
	}
	b, ok := snap.Resolve(domain.RefByName(dst))
	if !ok {
		return domain.Edge{}, false
	}
	return snap.Edge(a.ID, b.ID, rel)
}

func TestConsolidate_AcceptedClaimsReinforceSupport(t *testing.T) {
	g := testGraph(t)
	c := newTestConsolidator(t, g, memstore.New())
	id := uuid.New()
	claim := triple("python", "instanceOf", "ProgrammingLanguage")

	res, err := c.Consolidate(context.Background(), domain.SessionReport{
		SessionID: id,
		Outcome:   domain.OutcomeCompleted,
		Accepted:  true,
		Events:    []domain.InhibitionEvent{emittedEvent(id, claim), emittedEvent(id, claim)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.EdgesReinforced)
	assert.Zero(t, res.Observations)

	e, ok := edge(t, g, "Python", domain.RelationInstanceOf, "ProgrammingLanguage")
	require.True(t, ok)
	assert.InDelta(t, graph.Reinforce(0.9, DefaultReinforceWeight), e.Confidence, 1e-9)
	assert.Equal(t, domain.LayerSemantic, e.Layer)
}

func TestConsolidate_UnsupportedAcceptedClaimIsEpisodic(t *testing.T) {
	g := testGraph(t)
	c := newTestConsolidator(t, g, memstore.New())
	id := uuid.New()

	res, err := c.Consolidate(context.Background(), domain.SessionReport{
		SessionID: id,
		Outcome:   domain.OutcomeCompleted,
		Accepted:  true,
		Events:    []domain.InhibitionEvent{emittedEvent(id, triple("Python", domain.RelationPartnerOf, "Rust"))},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Observations)

	e, ok := edge(t, g, "Python", domain.RelationPartnerOf, "Rust")
	require.True(t, ok)
	assert.Equal(t, domain.LayerEpisodic, e.Layer)
	assert.InDelta(t, DefaultObservationWeight, e.Confidence, 1e-9)
	assert.Equal(t, domain.SourceConsolidation, e.Provenance.Kind)

	rust, ok := g.Current().Resolve(domain.RefByName("Rust"))
	require.True(t, ok)
	assert.Equal(t, domain.LayerEpisodic, rust.Layer)
}

func TestConsolidate_AbortRaisesMarkerWithoutPenalty(t *testing.T) {
	g := testGraph(t)
	c := newTestConsolidator(t, g, memstore.New())
	id := uuid.New()
	before, _ := edge(t, g, "Python", domain.RelationCreatedBy, "Guido van Rossum")

	res, err := c.Consolidate(context.Background(), domain.SessionReport{
		SessionID: id,
		Outcome:   domain.OutcomeAborted,
		Events: []domain.InhibitionEvent{
			emittedEvent(id, triple("Python", domain.RelationCreatedBy, "James Gosling")),
			haltEvent(id, triple("Python", domain.RelationCreatedBy, "James Gosling")),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.MarkersRaised)
	assert.Zero(t, res.EdgesReinforced)
	assert.Zero(t, res.Observations)

	after, ok := edge(t, g, "Python", domain.RelationCreatedBy, "Guido van Rossum")
	require.True(t, ok)
	assert.Equal(t, before.Confidence, after.Confidence)

	marker, ok := edge(t, g, "Python", domain.RelationCreatedBy.Negation(), "James Gosling")
	require.True(t, ok)
	assert.Equal(t, domain.LayerEpisodic, marker.Layer)
	assert.InDelta(t, DefaultKnownFalseWeight, marker.Confidence, 1e-9)

	_, ok = edge(t, g, "Python", domain.RelationCreatedBy, "James Gosling")
	assert.False(t, ok)
}

func TestConsolidate_AbortOnUnknownEntityCreatesEpisodicNode(t *testing.T) {
	g := testGraph(t)
	c := newTestConsolidator(t, g, memstore.New())
	id := uuid.New()

	_, err := c.Consolidate(context.Background(), domain.SessionReport{
		SessionID: id,
		Outcome:   domain.OutcomeAborted,
		Events:    []domain.InhibitionEvent{haltEvent(id, triple("Python", domain.RelationCreates, "Java"))},
	})
	require.NoError(t, err)

	java, ok := g.Current().Resolve(domain.RefByName("Java"))
	require.True(t, ok)
	assert.Equal(t, domain.LayerEpisodic, java.Layer)
	_, ok = edge(t, g, "Python", "not_creates", "Java")
	assert.True(t, ok)
}

func TestConsolidate_RejectedClaimsAreNotReinforced(t *testing.T) {
	g := testGraph(t)
	c := newTestConsolidator(t, g, memstore.New())
	id := uuid.New()
	claim := triple("Python", domain.RelationInstanceOf, "ProgrammingLanguage")
	before, _ := edge(t, g, "Python", domain.RelationInstanceOf, "ProgrammingLanguage")

	res, err := c.Consolidate(context.Background(), domain.SessionReport{
		SessionID: id,
		Outcome:   domain.OutcomeCompleted,
		Accepted:  true,
		Events:    []domain.InhibitionEvent{emittedEvent(id, claim)},
		Rejected:  []domain.Assertion{claim},
	})
	require.NoError(t, err)
	assert.Zero(t, res.EdgesReinforced)
	assert.Equal(t, 1, res.MarkersRaised)

	after, _ := edge(t, g, "Python", domain.RelationInstanceOf, "ProgrammingLanguage")
	assert.Equal(t, before.Confidence, after.Confidence)
}

func TestConsolidate_UnacceptedCompletionChangesNothing(t *testing.T) {
	g := testGraph(t)
	c := newTestConsolidator(t, g, memstore.New())
	id := uuid.New()
	version := g.Current().Version()

	res, err := c.Consolidate(context.Background(), domain.SessionReport{
		SessionID: id,
		Outcome:   domain.OutcomeCompleted,
		Events:    []domain.InhibitionEvent{emittedEvent(id, triple("Python", domain.RelationInstanceOf, "ProgrammingLanguage"))},
	})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, version, g.Current().Version())
}

func TestConsolidate_Idempotent(t *testing.T) {
	g := testGraph(t)
	ledger := memstore.New()
	c := newTestConsolidator(t, g, ledger)
	id := uuid.New()
	rep := domain.SessionReport{
		SessionID: id,
		Outcome:   domain.OutcomeCompleted,
		Accepted:  true,
		Events: []domain.InhibitionEvent{emittedEvent(id,
			triple("Python", domain.RelationInstanceOf, "ProgrammingLanguage"),
			triple("Python", domain.RelationPartnerOf, "Rust"))},
	}

	first, err := c.Consolidate(context.Background(), rep)
	require.NoError(t, err)
	require.False(t, first.Replayed)
	after := g.Current().Records()

	second, err := c.Consolidate(context.Background(), rep)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Version, second.Version)
	assert.Zero(t, second.EdgesReinforced)

	again := g.Current().Records()
	assert.Equal(t, after.Version, again.Version)
	assert.Equal(t, after.Nodes, again.Nodes)
	assert.Equal(t, after.Edges, again.Edges)

	done, err := ledger.IsProcessed(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestConsolidate_IncompleteIsSkipped(t *testing.T) {
	g := testGraph(t)
	ledger := memstore.New()
	c := newTestConsolidator(t, g, ledger)
	id := uuid.New()
	version := g.Current().Version()

	res, err := c.Consolidate(context.Background(), domain.SessionReport{
		SessionID: id,
		Outcome:   domain.OutcomeIncomplete,
		Accepted:  true,
		Events:    []domain.InhibitionEvent{emittedEvent(id, triple("Python", domain.RelationPartnerOf, "Rust"))},
	})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, version, g.Current().Version())

	done, err := ledger.IsProcessed(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, done)
}

type failingLedger struct{ err error }

func (f failingLedger) IsProcessed(ctx context.Context, id uuid.UUID) (bool, error) {
	return false, f.err
}

func (f failingLedger) MarkProcessed(ctx context.Context, id uuid.UUID, o domain.Outcome) (bool, error) {
	return false, f.err
}

func (f failingLedger) Release(ctx context.Context, id uuid.UUID) error {
	return f.err
}

// flakyLedger fails its first failMarks claims, then delegates to a memstore.
type flakyLedger struct {
	*memstore.Store
	failMarks int
	afterMark func()
}

func (f *flakyLedger) MarkProcessed(ctx context.Context, id uuid.UUID, o domain.Outcome) (bool, error) {
	if f.failMarks > 0 {
		f.failMarks--
		return false, errors.New("ledger write timed out")
	}
	fresh, err := f.Store.MarkProcessed(ctx, id, o)
	if f.afterMark != nil {
		f.afterMark()
	}
	return fresh, err
}

func acceptedReport(id uuid.UUID) domain.SessionReport {
	return domain.SessionReport{
		SessionID: id,
		Outcome:   domain.OutcomeCompleted,
		Accepted:  true,
		Events: []domain.InhibitionEvent{emittedEvent(id,
			triple("Python", domain.RelationInstanceOf, "ProgrammingLanguage"),
			triple("Python", domain.RelationPartnerOf, "Rust"))},
	}
}

func TestConsolidator_FlushRetryAppliesOnce(t *testing.T) {
	id := uuid.New()

	once := testGraph(t)
	_, err := newTestConsolidator(t, once, memstore.New()).Consolidate(context.Background(), acceptedReport(id))
	require.NoError(t, err)
	want, ok := edge(t, once, "Python", domain.RelationInstanceOf, "ProgrammingLanguage")
	require.True(t, ok)

	g := testGraph(t)
	ledger := &flakyLedger{Store: memstore.New(), failMarks: 1}
	c := newTestConsolidator(t, g, ledger)
	version := g.Current().Version()

	c.Enqueue(acceptedReport(id))
	assert.Empty(t, c.Flush(context.Background()))
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, version, g.Current().Version(), "graph must not change before the claim")

	results := c.Flush(context.Background())
	require.Len(t, results, 1)
	assert.False(t, results[0].Replayed)
	assert.Zero(t, c.Pending())

	got, ok := edge(t, g, "Python", domain.RelationInstanceOf, "ProgrammingLanguage")
	require.True(t, ok)
	assert.InDelta(t, want.Confidence, got.Confidence, 1e-9)
	assert.Equal(t, want.Observations, got.Observations)

	again, err := c.Consolidate(context.Background(), acceptedReport(id))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
}

func TestConsolidate_FailedUpdateReleasesClaim(t *testing.T) {
	g := testGraph(t)
	ctx, cancel := context.WithCancel(context.Background())
	ledger := &flakyLedger{Store: memstore.New(), afterMark: cancel}
	c := newTestConsolidator(t, g, ledger)
	id := uuid.New()
	version := g.Current().Version()

	_, err := c.Consolidate(ctx, acceptedReport(id))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, version, g.Current().Version())

	done, err := ledger.IsProcessed(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, done)

	ledger.afterMark = nil
	res, err := c.Consolidate(context.Background(), acceptedReport(id))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, 1, res.EdgesReinforced)
}

func TestConsolidate_LedgerFailure(t *testing.T) {
	g := testGraph(t)
	c := newTestConsolidator(t, g, failingLedger{err: errors.New("connection refused")})
	version := g.Current().Version()

	_, err := c.Consolidate(context.Background(), domain.SessionReport{
		SessionID: uuid.New(),
		Outcome:   domain.OutcomeAborted,
		Events:    []domain.InhibitionEvent{haltEvent(uuid.Nil, triple("Python", domain.RelationCreates, "Java"))},
	})
	require.Error(t, err)
	assert.Equal(t, version, g.Current().Version())
}

func TestConsolidator_FlushDrainsQueue(t *testing.T) {
	g := testGraph(t)
	c := newTestConsolidator(t, g, memstore.New())
	a, b := uuid.New(), uuid.New()

	c.Enqueue(domain.SessionReport{SessionID: a, Outcome: domain.OutcomeAborted,
		Events: []domain.InhibitionEvent{haltEvent(a, triple("Python", domain.RelationCreates, "Java"))}})
	c.Enqueue(domain.SessionReport{SessionID: b, Outcome: domain.OutcomeIncomplete})
	assert.Equal(t, 2, c.Pending())

	results := c.Flush(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].MarkersRaised)
	assert.True(t, results[1].Skipped)
	assert.Zero(t, c.Pending())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.KnownFalseWeight = 0
	assert.Error(t, cfg.Validate())
	cfg = DefaultConfig()
	cfg.ReinforceWeight = 1.5
	assert.Error(t, cfg.Validate())
}
