package graph

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/google/uuid"
)

// Txn is a batch of writes against a private snapshot copy.
type Txn struct {
	snap  *Snapshot
	now   time.Time
	dirty bool
}

// View exposes the in-progress state for lookups inside the batch.
func (t *Txn) View() *Snapshot { return t.snap }

func resolveLayer(l domain.Layer) (domain.Layer, error) {
	if l == "" {
		return domain.LayerSemantic, nil
	}
	if !domain.ValidLayer(string(l)) {
		return "", fmt.Errorf("layer %q: %w", l, domain.ErrInvalidLayer)
	}
	if !l.Durable() {
		return "", fmt.Errorf("layer %q is session-local: %w", l, domain.ErrInvalidLayer)
	}
	return l, nil
}

// promote keeps the more durable of two layers.
func promote(existing, incoming domain.Layer) domain.Layer {
	if existing == domain.LayerSemantic || incoming == domain.LayerSemantic {
		return domain.LayerSemantic
	}
	return existing
}

func (t *Txn) provenance(p domain.Provenance) domain.Provenance {
	if p.ObservedAt.IsZero() {
		p.ObservedAt = t.now
	}
	return p
}

func (t *Txn) nextSeq() uint64 {
	t.snap.seq++
	return t.snap.seq
}

// UpsertEntity merges spec into the node matching its name or any alias, or
// creates a new node.
func (t *Txn) UpsertEntity(spec domain.EntitySpec) (uuid.UUID, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return uuid.Nil, fmt.Errorf("entity name is empty: %w", domain.ErrInvalidReference)
	}
	layer, err := resolveLayer(spec.Layer)
	if err != nil {
		return uuid.Nil, err
	}
	weight := domain.EvidenceWeight(spec.Weight, spec.Provenance)

	keys := []string{normalizeName(name)}
	for _, a := range spec.Aliases {
		if k := normalizeName(a); k != "" {
			keys = append(keys, k)
		}
	}

	var matched uuid.UUID
	for _, k := range keys {
		id, ok := t.snap.names[k]
		if !ok {
			continue
		}
		if matched != uuid.Nil && matched != id {
			return uuid.Nil, fmt.Errorf("entity %q matches two nodes: %w", name, domain.ErrGraphInconsistency)
		}
		matched = id
	}

	if matched == uuid.Nil {
		n := &domain.Node{
			ID:           uuid.New(),
			Name:         name,
			Category:     spec.Category,
			Confidence:   Reinforce(0, weight),
			Layer:        layer,
			Provenance:   t.provenance(spec.Provenance),
			Seq:          t.nextSeq(),
			Observations: 1,
		}
		seen := map[string]bool{keys[0]: true}
		for _, a := range spec.Aliases {
			k := normalizeName(a)
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			n.Aliases = append(n.Aliases, strings.TrimSpace(a))
		}
		t.snap.nodes[n.ID] = n
		for _, k := range keys {
			t.snap.names[k] = n.ID
		}
		t.dirty = true
		return n.ID, nil
	}

	old := t.snap.nodes[matched]
	n := *old
	n.Aliases = slices.Clone(old.Aliases)
	n.Confidence = Reinforce(old.Confidence, weight)
	n.Layer = promote(old.Layer, layer)
	n.Observations++
	n.Provenance = t.provenance(spec.Provenance)
	if n.Category == "" {
		n.Category = spec.Category
	}
	known := append(lowerAll(n.Aliases), normalizeName(n.Name))
	for _, a := range spec.Aliases {
		k := normalizeName(a)
		if k == "" || slices.Contains(known, k) {
			continue
		}
		n.Aliases = append(n.Aliases, strings.TrimSpace(a))
		known = append(known, k)
		t.snap.names[k] = n.ID
	}
	if k := normalizeName(name); !slices.Contains(known, k) {
		n.Aliases = append(n.Aliases, name)
		t.snap.names[k] = n.ID
	}
	t.snap.nodes[n.ID] = &n
	t.dirty = true
	return n.ID, nil
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = normalizeName(s)
	}
	return out
}

// UpsertRelation merges an observation into the edge keyed by
// (source, target, relation type). Both endpoints must already exist.
func (t *Txn) UpsertRelation(spec domain.RelationSpec) (uuid.UUID, error) {
	if spec.Source.IsZero() || spec.Target.IsZero() {
		return uuid.Nil, fmt.Errorf("relation endpoint missing: %w", domain.ErrInvalidReference)
	}
	rel := domain.NormalizeRelation(string(spec.RelationType))
	if rel == "" {
		return uuid.Nil, domain.ErrInvalidRelation
	}
	layer, err := resolveLayer(spec.Layer)
	if err != nil {
		return uuid.Nil, err
	}
	src := t.snap.resolve(spec.Source)
	if src == nil {
		return uuid.Nil, fmt.Errorf("source %q not found: %w", spec.Source, domain.ErrGraphInconsistency)
	}
	dst := t.snap.resolve(spec.Target)
	if dst == nil {
		return uuid.Nil, fmt.Errorf("target %q not found: %w", spec.Target, domain.ErrGraphInconsistency)
	}
	weight := domain.EvidenceWeight(spec.Weight, spec.Provenance)

	key := edgeKey{src: src.ID, dst: dst.ID, rel: rel}
	if old, ok := t.snap.edges[key]; ok {
		e := *old
		e.Confidence = Reinforce(old.Confidence, weight)
		e.Layer = promote(old.Layer, layer)
		e.Observations++
		e.Provenance = t.provenance(spec.Provenance)
		t.snap.edges[key] = &e
		t.dirty = true
		return e.ID, nil
	}

	e := &domain.Edge{
		ID:           uuid.New(),
		SourceID:     src.ID,
		TargetID:     dst.ID,
		RelationType: rel,
		Confidence:   Reinforce(0, weight),
		Layer:        layer,
		Provenance:   t.provenance(spec.Provenance),
		Seq:          t.nextSeq(),
		Observations: 1,
	}
	t.insertEdge(key, e)
	t.dirty = true
	return e.ID, nil
}

func (t *Txn) insertEdge(key edgeKey, e *domain.Edge) {
	t.snap.edges[key] = e
	t.snap.edgeIDs[e.ID] = key
	// Clip forces a fresh backing array so older snapshots keep their slices.
	t.snap.out[key.src] = append(slices.Clip(t.snap.out[key.src]), key)
	t.snap.in[key.dst] = append(slices.Clip(t.snap.in[key.dst]), key)
	t.snap.relations[key.rel]++
}

func (t *Txn) removeEdge(key edgeKey) {
	e, ok := t.snap.edges[key]
	if !ok {
		return
	}
	delete(t.snap.edges, key)
	delete(t.snap.edgeIDs, e.ID)
	t.snap.out[key.src] = without(t.snap.out[key.src], key)
	t.snap.in[key.dst] = without(t.snap.in[key.dst], key)
	if t.snap.relations[key.rel]--; t.snap.relations[key.rel] <= 0 {
		delete(t.snap.relations, key.rel)
	}
}

func without(keys []edgeKey, drop edgeKey) []edgeKey {
	out := make([]edgeKey, 0, len(keys))
	for _, k := range keys {
		if k != drop {
			out = append(out, k)
		}
	}
	return out
}

// ReinforceEdge applies one observation of weight to an existing edge.
func (t *Txn) ReinforceEdge(id uuid.UUID, weight float64) (float64, error) {
	key, ok := t.snap.edgeIDs[id]
	if !ok {
		return 0, fmt.Errorf("edge %s: %w", id, domain.ErrNotFound)
	}
	old := t.snap.edges[key]
	e := *old
	e.Confidence = Reinforce(old.Confidence, weight)
	e.Observations++
	t.snap.edges[key] = &e
	t.dirty = true
	return e.Confidence, nil
}

// DecayLayer multiplies every node and edge confidence in layer by factor and
// returns the number of records touched.
func (t *Txn) DecayLayer(layer domain.Layer, factor float64) int {
	if factor >= 1 {
		return 0
	}
	touched := 0
	for id, old := range t.snap.nodes {
		if old.Layer != layer {
			continue
		}
		n := *old
		n.Confidence = Decay(old.Confidence, factor)
		t.snap.nodes[id] = &n
		touched++
	}
	for key, old := range t.snap.edges {
		if old.Layer != layer {
			continue
		}
		e := *old
		e.Confidence = Decay(old.Confidence, factor)
		t.snap.edges[key] = &e
		touched++
	}
	if touched > 0 {
		t.dirty = true
	}
	return touched
}

// PruneEpisodic drops episodic edges below threshold, then episodic nodes
// below threshold that no longer have any edges.
func (t *Txn) PruneEpisodic(threshold float64) (edges, nodes int) {
	var dropEdges []edgeKey
	for key, e := range t.snap.edges {
		if e.Layer == domain.LayerEpisodic && e.Confidence < threshold {
			dropEdges = append(dropEdges, key)
		}
	}
	for _, key := range dropEdges {
		t.removeEdge(key)
	}

	var dropNodes []uuid.UUID
	for id, n := range t.snap.nodes {
		if n.Layer != domain.LayerEpisodic || n.Confidence >= threshold {
			continue
		}
		if len(t.snap.out[id]) == 0 && len(t.snap.in[id]) == 0 {
			dropNodes = append(dropNodes, id)
		}
	}
	for _, id := range dropNodes {
		n := t.snap.nodes[id]
		delete(t.snap.nodes, id)
		delete(t.snap.out, id)
		delete(t.snap.in, id)
		for _, k := range append(lowerAll(n.Aliases), normalizeName(n.Name)) {
			if t.snap.names[k] == id {
				delete(t.snap.names, k)
			}
		}
	}

	if len(dropEdges) > 0 || len(dropNodes) > 0 {
		t.dirty = true
	}
	return len(dropEdges), len(dropNodes)
}
