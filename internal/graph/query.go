package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/google/uuid"
)

type tracker struct {
	ctx      context.Context
	deadline time.Time
	visits   int
	max      int
}

func (s *Snapshot) track(ctx context.Context) *tracker {
	return &tracker{
		ctx:      ctx,
		deadline: time.Now().Add(s.budget.Timeout),
		max:      s.budget.MaxVisits,
	}
}

func (t *tracker) visit() error {
	t.visits++
	if t.visits > t.max {
		return fmt.Errorf("visited %d records: %w", t.max, domain.ErrQueryTimeout)
	}
	if t.visits%32 == 0 {
		if err := t.ctx.Err(); err != nil {
			return fmt.Errorf("%v: %w", err, domain.ErrQueryTimeout)
		}
		if time.Now().After(t.deadline) {
			return fmt.Errorf("deadline passed: %w", domain.ErrQueryTimeout)
		}
	}
	return nil
}

// Related is one (node, edge) pair produced by a traversal. Edge connects
// Node to a node found at the previous hop.
type Related struct {
	Node           domain.Node `json:"node"`
	Edge           domain.Edge `json:"edge"`
	Hop            int         `json:"hop"`
	PathConfidence float64     `json:"path_confidence"`
}

type frontierNode struct {
	id   uuid.UUID
	conf float64
}

// RelatedIter walks the neighbourhood of a node one hop level at a time.
// Levels are expanded only when the previous one is drained.
type RelatedIter struct {
	snap    *Snapshot
	ctx     context.Context
	start   uuid.UUID
	maxHops int
	layers  map[domain.Layer]bool

	tr       *tracker
	hop      int
	frontier []frontierNode
	visited  map[uuid.UUID]bool
	emitted  map[edgeKey]bool
	level    []Related
	pos      int
	cur      Related
	err      error
	partial  bool
}

// QueryRelated returns a lazy iterator over nodes reachable from ref within
// maxHops, ordered per hop by path confidence, then insertion order, then id.
// An unknown entity yields an empty iterator; only a malformed reference fails.
func (s *Snapshot) QueryRelated(ctx context.Context, ref domain.EntityRef, maxHops int, layers ...domain.Layer) (*RelatedIter, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("empty reference: %w", domain.ErrInvalidReference)
	}
	if maxHops <= 0 || maxHops > s.budget.MaxHops {
		maxHops = s.budget.MaxHops
	}
	it := &RelatedIter{
		snap:    s,
		ctx:     ctx,
		maxHops: maxHops,
		layers:  layerSet(layers),
	}
	if n := s.resolve(ref); n != nil {
		it.start = n.ID
	}
	it.Reset()
	return it, nil
}

// Reset rewinds the iterator to the start node with a fresh budget.
func (it *RelatedIter) Reset() {
	it.tr = it.snap.track(it.ctx)
	it.hop = 0
	it.level = nil
	it.pos = 0
	it.err = nil
	it.partial = false
	it.visited = make(map[uuid.UUID]bool)
	it.emitted = make(map[edgeKey]bool)
	it.frontier = nil
	if it.start != uuid.Nil {
		it.visited[it.start] = true
		it.frontier = []frontierNode{{id: it.start, conf: 1}}
	}
}

func (it *RelatedIter) Next() bool {
	for it.pos >= len(it.level) {
		if it.err != nil || it.hop >= it.maxHops || len(it.frontier) == 0 {
			return false
		}
		it.expand()
	}
	it.cur = it.level[it.pos]
	it.pos++
	return true
}

func (it *RelatedIter) Item() Related { return it.cur }

// Err returns ErrQueryTimeout when the budget cut the traversal short.
func (it *RelatedIter) Err() error { return it.err }

func (it *RelatedIter) Partial() bool { return it.partial }

// Collect drains the remaining items.
func (it *RelatedIter) Collect() ([]Related, error) {
	var out []Related
	for it.Next() {
		out = append(out, it.Item())
	}
	return out, it.Err()
}

func (it *RelatedIter) expand() {
	it.hop++
	var level []Related
	s := it.snap

	for _, f := range it.frontier {
		for _, keys := range [][]edgeKey{s.out[f.id], s.in[f.id]} {
			for _, k := range keys {
				if err := it.tr.visit(); err != nil {
					it.err = err
					it.partial = true
					it.finish(level)
					return
				}
				if it.emitted[k] {
					continue
				}
				e := s.edges[k]
				if !it.layers[e.Layer] {
					continue
				}
				other := k.dst
				if other == f.id {
					other = k.src
				}
				it.emitted[k] = true
				level = append(level, Related{
					Node:           *s.nodes[other],
					Edge:           *e,
					Hop:            it.hop,
					PathConfidence: f.conf * e.Confidence,
				})
			}
		}
	}
	it.finish(level)
}

func (it *RelatedIter) finish(level []Related) {
	sort.SliceStable(level, func(i, j int) bool {
		a, b := level[i], level[j]
		if a.PathConfidence != b.PathConfidence {
			return a.PathConfidence > b.PathConfidence
		}
		if a.Edge.Seq != b.Edge.Seq {
			return a.Edge.Seq < b.Edge.Seq
		}
		return a.Edge.ID.String() < b.Edge.ID.String()
	})

	var next []frontierNode
	for _, r := range level {
		if it.visited[r.Node.ID] {
			continue
		}
		it.visited[r.Node.ID] = true
		next = append(next, frontierNode{id: r.Node.ID, conf: r.PathConfidence})
	}
	if it.partial {
		next = nil
	}
	it.frontier = next
	it.level = level
	it.pos = 0
}

// RelationMatch is the strongest evidence found for a relation. Path holds
// one edge for a direct match and two for a match through a typing edge.
type RelationMatch struct {
	Confidence float64
	Path       []domain.Edge
}

// QueryRelationExists returns the confidence of the strongest edge of type
// rel from a to b, either direct or through one instance_of / subclass_of
// hop. An empty rel matches any type. Zero means nothing was found.
func (s *Snapshot) QueryRelationExists(ctx context.Context, a, b domain.EntityRef, rel domain.RelationType) (float64, error) {
	m, err := s.FindRelation(ctx, a, b, rel)
	return m.Confidence, err
}

func (s *Snapshot) FindRelation(ctx context.Context, a, b domain.EntityRef, rel domain.RelationType) (RelationMatch, error) {
	if a.IsZero() || b.IsZero() {
		return RelationMatch{}, fmt.Errorf("empty reference: %w", domain.ErrInvalidReference)
	}
	src, dst := s.resolve(a), s.resolve(b)
	if src == nil || dst == nil {
		return RelationMatch{}, nil
	}
	layers := layerSet(nil)
	tr := s.track(ctx)
	var best RelationMatch

	consider := func(conf float64, path ...*domain.Edge) {
		if conf <= best.Confidence {
			return
		}
		best.Confidence = conf
		best.Path = best.Path[:0]
		for _, e := range path {
			best.Path = append(best.Path, *e)
		}
	}
	matches := func(e *domain.Edge) bool {
		return layers[e.Layer] && (rel == "" || e.RelationType == rel)
	}

	for _, k := range s.out[src.ID] {
		if err := tr.visit(); err != nil {
			return best, err
		}
		e := s.edges[k]
		if !layers[e.Layer] {
			continue
		}
		if k.dst == dst.ID && matches(e) {
			consider(e.Confidence, e)
			continue
		}
		if domain.TypingRelations[k.rel] {
			// a is-a x, x rel b: a inherits the relation of its class.
			for _, k2 := range s.out[k.dst] {
				if err := tr.visit(); err != nil {
					return best, err
				}
				e2 := s.edges[k2]
				if k2.dst != dst.ID {
					continue
				}
				if matches(e2) || (domain.TypingRelations[rel] && k2.rel == domain.RelationSubclassOf && layers[e2.Layer]) {
					consider(e.Confidence*e2.Confidence, e, e2)
				}
			}
		}
		if matches(e) {
			// a rel x, x is-a b.
			for _, k2 := range s.out[k.dst] {
				if err := tr.visit(); err != nil {
					return best, err
				}
				e2 := s.edges[k2]
				if k2.dst == dst.ID && domain.TypingRelations[k2.rel] && layers[e2.Layer] {
					consider(e.Confidence*e2.Confidence, e, e2)
				}
			}
		}
	}
	return best, nil
}

// ClassRelationSeen reports whether any other instance or subclass of class
// is the source of an edge of type rel. It tells a relation the class is
// known to take part in from one it has never been seen with.
func (s *Snapshot) ClassRelationSeen(ctx context.Context, class, except uuid.UUID, rel domain.RelationType) (bool, error) {
	layers := layerSet(nil)
	tr := s.track(ctx)
	for _, k := range s.in[class] {
		if err := tr.visit(); err != nil {
			return false, err
		}
		if !domain.TypingRelations[k.rel] || k.src == except {
			continue
		}
		for _, k2 := range s.out[k.src] {
			if err := tr.visit(); err != nil {
				return false, err
			}
			if k2.rel == rel && layers[s.edges[k2].Layer] {
				return true, nil
			}
		}
	}
	return false, nil
}

// Strongest returns the most confident edge of type rel leaving (outgoing)
// or entering a node, skipping edges that touch exclude.
func (s *Snapshot) Strongest(id uuid.UUID, rel domain.RelationType, outgoing bool, exclude uuid.UUID) (domain.Edge, bool) {
	keys := s.in[id]
	if outgoing {
		keys = s.out[id]
	}
	layers := layerSet(nil)
	var best *domain.Edge
	for _, k := range keys {
		e := s.edges[k]
		if k.rel != rel || !layers[e.Layer] || k.src == exclude || k.dst == exclude {
			continue
		}
		if best == nil || e.Confidence > best.Confidence {
			best = e
		}
	}
	if best == nil {
		return domain.Edge{}, false
	}
	return *best, true
}
