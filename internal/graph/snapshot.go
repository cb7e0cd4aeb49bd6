package graph

import (
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/google/uuid"
)

type edgeKey struct {
	src uuid.UUID
	dst uuid.UUID
	rel domain.RelationType
}

// Snapshot is an immutable view of one graph version. Records reachable from
// a published snapshot are never mutated; writers replace them.
type Snapshot struct {
	version   uint64
	seq       uint64
	createdAt time.Time
	budget    QueryBudget

	nodes     map[uuid.UUID]*domain.Node
	names     map[string]uuid.UUID
	edges     map[edgeKey]*domain.Edge
	edgeIDs   map[uuid.UUID]edgeKey
	out       map[uuid.UUID][]edgeKey
	in        map[uuid.UUID][]edgeKey
	relations map[domain.RelationType]int
}

func emptySnapshot(budget QueryBudget) *Snapshot {
	return &Snapshot{
		budget:    budget,
		createdAt: time.Now(),
		nodes:     make(map[uuid.UUID]*domain.Node),
		names:     make(map[string]uuid.UUID),
		edges:     make(map[edgeKey]*domain.Edge),
		edgeIDs:   make(map[uuid.UUID]edgeKey),
		out:       make(map[uuid.UUID][]edgeKey),
		in:        make(map[uuid.UUID][]edgeKey),
		relations: make(map[domain.RelationType]int),
	}
}

// clone copies the index maps only; node and edge records stay shared.
func (s *Snapshot) clone() *Snapshot {
	return &Snapshot{
		version:   s.version,
		seq:       s.seq,
		createdAt: s.createdAt,
		budget:    s.budget,
		nodes:     maps.Clone(s.nodes),
		names:     maps.Clone(s.names),
		edges:     maps.Clone(s.edges),
		edgeIDs:   maps.Clone(s.edgeIDs),
		out:       maps.Clone(s.out),
		in:        maps.Clone(s.in),
		relations: maps.Clone(s.relations),
	}
}

func (s *Snapshot) Version() uint64 { return s.version }

func (s *Snapshot) CreatedAt() time.Time { return s.createdAt }

func (s *Snapshot) Budget() QueryBudget { return s.budget }

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Resolve looks a reference up by id or by case-insensitive name / alias.
func (s *Snapshot) Resolve(ref domain.EntityRef) (domain.Node, bool) {
	n := s.resolve(ref)
	if n == nil {
		return domain.Node{}, false
	}
	return *n, true
}

func (s *Snapshot) resolve(ref domain.EntityRef) *domain.Node {
	if ref.ID != uuid.Nil {
		return s.nodes[ref.ID]
	}
	id, ok := s.names[normalizeName(ref.Name)]
	if !ok {
		return nil
	}
	return s.nodes[id]
}

func (s *Snapshot) Node(id uuid.UUID) (domain.Node, bool) {
	n, ok := s.nodes[id]
	if !ok {
		return domain.Node{}, false
	}
	return *n, true
}

// Edge returns the edge between src and dst with the given relation type.
func (s *Snapshot) Edge(src, dst uuid.UUID, rel domain.RelationType) (domain.Edge, bool) {
	e, ok := s.edges[edgeKey{src: src, dst: dst, rel: rel}]
	if !ok {
		return domain.Edge{}, false
	}
	return *e, true
}

func (s *Snapshot) EdgeByID(id uuid.UUID) (domain.Edge, bool) {
	k, ok := s.edgeIDs[id]
	if !ok {
		return domain.Edge{}, false
	}
	return *s.edges[k], true
}

// OutEdges returns the outgoing edges of a node in insertion order.
func (s *Snapshot) OutEdges(id uuid.UUID) []domain.Edge {
	return s.collect(s.out[id])
}

func (s *Snapshot) InEdges(id uuid.UUID) []domain.Edge {
	return s.collect(s.in[id])
}

func (s *Snapshot) collect(keys []edgeKey) []domain.Edge {
	out := make([]domain.Edge, 0, len(keys))
	for _, k := range keys {
		out = append(out, *s.edges[k])
	}
	return out
}

// KnowsRelation reports whether any edge of the relation type exists.
func (s *Snapshot) KnowsRelation(rel domain.RelationType) bool {
	return s.relations[rel] > 0
}

// Typing returns the node's instance_of / subclass_of edges, strongest first.
func (s *Snapshot) Typing(id uuid.UUID) []domain.Edge {
	var out []domain.Edge
	for _, k := range s.out[id] {
		if domain.TypingRelations[k.rel] {
			out = append(out, *s.edges[k])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

func (s *Snapshot) Stats() domain.GraphStats {
	stats := domain.GraphStats{
		Version: s.version,
		Nodes:   len(s.nodes),
		Edges:   len(s.edges),
		Layers:  make(map[domain.Layer]domain.LayerStats),
	}
	for _, n := range s.nodes {
		ls := stats.Layers[n.Layer]
		ls.Nodes++
		stats.Layers[n.Layer] = ls
	}
	for _, e := range s.edges {
		ls := stats.Layers[e.Layer]
		ls.Edges++
		stats.Layers[e.Layer] = ls
	}
	return stats
}

// Nodes returns every node in insertion order.
func (s *Snapshot) Nodes() []domain.Node {
	out := make([]domain.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Edges returns every edge in insertion order.
func (s *Snapshot) Edges() []domain.Edge {
	out := make([]domain.Edge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func layerSet(layers []domain.Layer) map[domain.Layer]bool {
	if len(layers) == 0 {
		layers = domain.DurableLayers
	}
	set := make(map[domain.Layer]bool, len(layers))
	for _, l := range layers {
		set[l] = true
	}
	return set
}
