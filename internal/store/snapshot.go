package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultSnapshotRetention = 5

type SnapshotStore struct {
	db     *pgxpool.Pool
	retain int
}

func NewSnapshotStore(db *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{db: db, retain: defaultSnapshotRetention}
}

var nodeColumns = []string{
	"snapshot_version", "id", "name", "aliases", "category", "confidence", "layer",
	"source", "source_kind", "observed_at", "seq", "observations",
}

var edgeColumns = []string{
	"snapshot_version", "id", "source_id", "target_id", "relation_type", "confidence", "layer",
	"source", "source_kind", "observed_at", "seq", "observations",
}

// SaveSnapshot writes one graph version in a single transaction and drops
// versions older than the retention window.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, rec *domain.SnapshotRecords) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	savedAt := rec.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	v := int64(rec.Version)

	if _, err := tx.Exec(ctx, `DELETE FROM graph_snapshots WHERE version = $1`, v); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO graph_snapshots (version, format_version, producer, saved_at)
		 VALUES ($1, $2, $3, $4)`,
		v, rec.FormatVersion, rec.Producer, savedAt,
	); err != nil {
		return err
	}

	nodes := make([][]any, 0, len(rec.Nodes))
	for _, n := range rec.Nodes {
		aliases := n.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		nodes = append(nodes, []any{
			v, n.ID, n.Name, aliases, n.Category, n.Confidence, string(n.Layer),
			n.Provenance.Source, string(n.Provenance.Kind), n.Provenance.ObservedAt,
			int64(n.Seq), n.Observations,
		})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"graph_nodes"}, nodeColumns, pgx.CopyFromRows(nodes)); err != nil {
		return fmt.Errorf("copy nodes: %w", err)
	}

	edges := make([][]any, 0, len(rec.Edges))
	for _, e := range rec.Edges {
		edges = append(edges, []any{
			v, e.ID, e.SourceID, e.TargetID, string(e.RelationType), e.Confidence, string(e.Layer),
			e.Provenance.Source, string(e.Provenance.Kind), e.Provenance.ObservedAt,
			int64(e.Seq), e.Observations,
		})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"graph_edges"}, edgeColumns, pgx.CopyFromRows(edges)); err != nil {
		return fmt.Errorf("copy edges: %w", err)
	}

	if s.retain > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM graph_snapshots WHERE version NOT IN (
			   SELECT version FROM graph_snapshots ORDER BY version DESC LIMIT $1)`,
			s.retain,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *SnapshotStore) LoadLatestSnapshot(ctx context.Context) (*domain.SnapshotRecords, error) {
	rec := &domain.SnapshotRecords{}
	var version int64
	err := s.db.QueryRow(ctx,
		`SELECT version, format_version, producer, saved_at
		 FROM graph_snapshots ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &rec.FormatVersion, &rec.Producer, &rec.SavedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.Version = uint64(version)

	if rec.Nodes, err = s.loadNodes(ctx, version); err != nil {
		return nil, err
	}
	if rec.Edges, err = s.loadEdges(ctx, version); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SnapshotStore) loadNodes(ctx context.Context, version int64) ([]domain.Node, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, aliases, category, confidence, layer, source, source_kind, observed_at, seq, observations
		 FROM graph_nodes WHERE snapshot_version = $1 ORDER BY seq`,
		version,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []domain.Node
	for rows.Next() {
		var n domain.Node
		var layer, kind string
		var seq int64
		if err := rows.Scan(&n.ID, &n.Name, &n.Aliases, &n.Category, &n.Confidence, &layer,
			&n.Provenance.Source, &kind, &n.Provenance.ObservedAt, &seq, &n.Observations); err != nil {
			return nil, err
		}
		if len(n.Aliases) == 0 {
			n.Aliases = nil
		}
		n.Layer = domain.Layer(layer)
		n.Provenance.Kind = domain.SourceKind(kind)
		n.Seq = uint64(seq)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *SnapshotStore) loadEdges(ctx context.Context, version int64) ([]domain.Edge, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, source_id, target_id, relation_type, confidence, layer, source, source_kind, observed_at, seq, observations
		 FROM graph_edges WHERE snapshot_version = $1 ORDER BY seq`,
		version,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []domain.Edge
	for rows.Next() {
		var e domain.Edge
		var rel, layer, kind string
		var seq int64
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &rel, &e.Confidence, &layer,
			&e.Provenance.Source, &kind, &e.Provenance.ObservedAt, &seq, &e.Observations); err != nil {
			return nil, err
		}
		e.RelationType = domain.RelationType(rel)
		e.Layer = domain.Layer(layer)
		e.Provenance.Kind = domain.SourceKind(kind)
		e.Seq = uint64(seq)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
