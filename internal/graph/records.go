package graph

import (
	"fmt"
	"slices"

	"github.com/Harshitk-cp/integrity/internal/buildconfig"
	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Records exports the snapshot as versioned node and edge records in
// insertion order.
func (s *Snapshot) Records() *domain.SnapshotRecords {
	return &domain.SnapshotRecords{
		FormatVersion: domain.SnapshotFormatVersion,
		Version:       s.version,
		Producer:      buildconfig.Producer(),
		SavedAt:       s.createdAt,
		Nodes:         s.Nodes(),
		Edges:         s.Edges(),
	}
}

// Load validates rec and publishes it as the current snapshot. An
// inconsistent record set is rejected whole and the store is left unchanged.
func (s *Store) Load(rec *domain.SnapshotRecords) error {
	if rec == nil {
		return fmt.Errorf("nil snapshot: %w", domain.ErrGraphInconsistency)
	}
	if rec.FormatVersion != domain.SnapshotFormatVersion {
		return fmt.Errorf("format version %d: %w", rec.FormatVersion, domain.ErrGraphInconsistency)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.current.Load()
	snap, err := buildSnapshot(rec, base.budget)
	if err != nil {
		return err
	}
	snap.version = max(rec.Version, base.version+1)
	snap.createdAt = s.now()
	s.current.Store(snap)

	s.logger.Info("graph snapshot loaded",
		zap.Uint64("version", snap.version),
		zap.Uint64("record_version", rec.Version),
		zap.Int("nodes", len(snap.nodes)),
		zap.Int("edges", len(snap.edges)))

	for _, fn := range s.onCommit {
		fn(snap)
	}
	return nil
}

func buildSnapshot(rec *domain.SnapshotRecords, budget QueryBudget) (*Snapshot, error) {
	snap := emptySnapshot(budget)

	for i := range rec.Nodes {
		n := rec.Nodes[i]
		n.Aliases = slices.Clone(n.Aliases)
		if n.ID == uuid.Nil {
			return nil, fmt.Errorf("node %q has no id: %w", n.Name, domain.ErrGraphInconsistency)
		}
		if _, dup := snap.nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %s: %w", n.ID, domain.ErrGraphInconsistency)
		}
		if !n.Layer.Durable() {
			return nil, fmt.Errorf("node %s in layer %q: %w", n.ID, n.Layer, domain.ErrGraphInconsistency)
		}
		if !validConfidence(n.Confidence) {
			return nil, fmt.Errorf("node %s confidence %v: %w", n.ID, n.Confidence, domain.ErrGraphInconsistency)
		}
		for _, k := range append(lowerAll(n.Aliases), normalizeName(n.Name)) {
			if owner, taken := snap.names[k]; taken && owner != n.ID {
				return nil, fmt.Errorf("name %q claimed by two nodes: %w", k, domain.ErrGraphInconsistency)
			}
			snap.names[k] = n.ID
		}
		snap.nodes[n.ID] = &n
		snap.seq = max(snap.seq, n.Seq)
	}

	for i := range rec.Edges {
		e := rec.Edges[i]
		if e.ID == uuid.Nil {
			return nil, fmt.Errorf("edge has no id: %w", domain.ErrGraphInconsistency)
		}
		if _, dup := snap.edgeIDs[e.ID]; dup {
			return nil, fmt.Errorf("duplicate edge id %s: %w", e.ID, domain.ErrGraphInconsistency)
		}
		if _, ok := snap.nodes[e.SourceID]; !ok {
			return nil, fmt.Errorf("edge %s dangling source %s: %w", e.ID, e.SourceID, domain.ErrGraphInconsistency)
		}
		if _, ok := snap.nodes[e.TargetID]; !ok {
			return nil, fmt.Errorf("edge %s dangling target %s: %w", e.ID, e.TargetID, domain.ErrGraphInconsistency)
		}
		if !e.Layer.Durable() || !validConfidence(e.Confidence) || e.RelationType == "" {
			return nil, fmt.Errorf("edge %s malformed: %w", e.ID, domain.ErrGraphInconsistency)
		}
		key := edgeKey{src: e.SourceID, dst: e.TargetID, rel: e.RelationType}
		if _, dup := snap.edges[key]; dup {
			return nil, fmt.Errorf("duplicate edge %s -%s-> %s: %w", e.SourceID, e.RelationType, e.TargetID, domain.ErrGraphInconsistency)
		}
		snap.edges[key] = &e
		snap.edgeIDs[e.ID] = key
		snap.relations[key.rel]++
		snap.seq = max(snap.seq, e.Seq)
	}

	// Adjacency follows insertion order regardless of record order.
	for _, e := range snap.Edges() {
		key := edgeKey{src: e.SourceID, dst: e.TargetID, rel: e.RelationType}
		snap.out[key.src] = append(snap.out[key.src], key)
		snap.in[key.dst] = append(snap.in[key.dst], key)
	}
	return snap, nil
}
