package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Layer string

const (
	LayerSemantic  Layer = "semantic"
	LayerEpisodic  Layer = "episodic"
	LayerSelfModel Layer = "self_model"
)

func ValidLayer(l string) bool {
	switch Layer(l) {
	case LayerSemantic, LayerEpisodic, LayerSelfModel:
		return true
	}
	return false
}

// Durable reports whether facts in the layer may live in the shared store.
// Self-model facts belong to a single session and never leave it.
func (l Layer) Durable() bool {
	return l == LayerSemantic || l == LayerEpisodic
}

// DurableLayers is the default layer filter for lookups against the shared store.
var DurableLayers = []Layer{LayerSemantic, LayerEpisodic}

type RelationType string

const (
	RelationInstanceOf   RelationType = "instance_of"
	RelationSubclassOf   RelationType = "subclass_of"
	RelationCreates      RelationType = "creates"
	RelationCreatedBy    RelationType = "created_by"
	RelationManufactures RelationType = "manufactures"
	RelationPartnerOf    RelationType = "partner_of"
	RelationLocatedIn    RelationType = "located_in"
	RelationPartOf       RelationType = "part_of"
)

const negationPrefix = "not_"

// Negation returns the known-false marker relation for r.
func (r RelationType) Negation() RelationType {
	if r.IsNegation() {
		return r.Base()
	}
	return RelationType(negationPrefix + string(r))
}

func (r RelationType) IsNegation() bool {
	return strings.HasPrefix(string(r), negationPrefix)
}

// Base strips a known-false prefix, if any.
func (r RelationType) Base() RelationType {
	return RelationType(strings.TrimPrefix(string(r), negationPrefix))
}

// NormalizeRelation lowercases a relation and maps spacing and camelCase
// variants ("instanceOf", "instance of") onto the snake_case vocabulary.
func NormalizeRelation(s string) RelationType {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == ' ' || r == '-':
			b.WriteByte('_')
		case r >= 'A' && r <= 'Z':
			if i > 0 && s[i-1] != ' ' && s[i-1] != '_' && s[i-1] != '-' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune(r)
		}
	}
	return RelationType(b.String())
}

// TypingRelations are the instanceOf/subclassOf style edges that lookups may
// traverse transitively for one hop.
var TypingRelations = map[RelationType]bool{
	RelationInstanceOf: true,
	RelationSubclassOf: true,
}

// Exclusion names a relation whose presence between the same pair rules out
// an asserted relation. Reversed means the excluding edge runs object to subject.
type Exclusion struct {
	Relation RelationType
	Reversed bool
}

// ExclusiveRelations maps an asserted relation to the edges that contradict it.
var ExclusiveRelations = map[RelationType][]Exclusion{
	RelationCreates: {
		{Relation: RelationCreatedBy},
		{Relation: RelationCreates, Reversed: true},
	},
	RelationCreatedBy: {
		{Relation: RelationCreates},
		{Relation: RelationCreatedBy, Reversed: true},
	},
	RelationPartOf: {
		{Relation: RelationPartOf, Reversed: true},
	},
	RelationInstanceOf: {
		{Relation: RelationSubclassOf, Reversed: true},
	},
}

// FunctionalRelations hold at most one object per subject: a confident edge
// to one object argues against the same relation to any other.
var FunctionalRelations = map[RelationType]bool{
	RelationCreatedBy: true,
	RelationLocatedIn: true,
}

type SourceKind string

const (
	SourceManual        SourceKind = "manual"
	SourceSeed          SourceKind = "seed"
	SourceCrawler       SourceKind = "crawler"
	SourceConsolidation SourceKind = "consolidation"
)

// SourceEvidenceWeights is the evidence weight used when an ingestion spec
// leaves Weight unset.
var SourceEvidenceWeights = map[SourceKind]float64{
	SourceManual:        0.9,
	SourceSeed:          0.9,
	SourceCrawler:       0.7,
	SourceConsolidation: 0.3,
}

const DefaultEvidenceWeight = 0.5

type Provenance struct {
	Source     string     `json:"source"`
	Kind       SourceKind `json:"kind,omitempty"`
	ObservedAt time.Time  `json:"observed_at"`
}

type Node struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Aliases      []string   `json:"aliases,omitempty"`
	Category     string     `json:"category,omitempty"`
	Confidence   float64    `json:"confidence"`
	Layer        Layer      `json:"layer"`
	Provenance   Provenance `json:"provenance"`
	Seq          uint64     `json:"seq"`
	Observations int        `json:"observations"`
}

type Edge struct {
	ID           uuid.UUID    `json:"id"`
	SourceID     uuid.UUID    `json:"source_id"`
	TargetID     uuid.UUID    `json:"target_id"`
	RelationType RelationType `json:"relation_type"`
	Confidence   float64      `json:"confidence"`
	Layer        Layer        `json:"layer"`
	Provenance   Provenance   `json:"provenance"`
	Seq          uint64       `json:"seq"`
	Observations int          `json:"observations"`
}

// EntityRef addresses a node either by id or by canonical name / alias.
type EntityRef struct {
	ID   uuid.UUID `json:"id,omitempty"`
	Name string    `json:"name,omitempty"`
}

func RefByName(name string) EntityRef { return EntityRef{Name: name} }

func RefByID(id uuid.UUID) EntityRef { return EntityRef{ID: id} }

func (r EntityRef) IsZero() bool {
	return r.ID == uuid.Nil && strings.TrimSpace(r.Name) == ""
}

func (r EntityRef) String() string {
	if r.ID != uuid.Nil {
		return r.ID.String()
	}
	return r.Name
}

type EntitySpec struct {
	Name       string     `json:"name"`
	Aliases    []string   `json:"aliases,omitempty"`
	Category   string     `json:"category,omitempty"`
	Layer      Layer      `json:"layer,omitempty"`
	Weight     float64    `json:"weight,omitempty"`
	Provenance Provenance `json:"provenance"`
}

type RelationSpec struct {
	Source       EntityRef    `json:"source"`
	Target       EntityRef    `json:"target"`
	RelationType RelationType `json:"relation_type"`
	Weight       float64      `json:"weight,omitempty"`
	Layer        Layer        `json:"layer,omitempty"`
	Provenance   Provenance   `json:"provenance"`
}

// EvidenceWeight resolves the weight of an observation from its explicit
// weight or, failing that, its source kind.
func EvidenceWeight(weight float64, p Provenance) float64 {
	if weight > 0 {
		if weight > 1 {
			return 1
		}
		return weight
	}
	if w, ok := SourceEvidenceWeights[p.Kind]; ok {
		return w
	}
	return DefaultEvidenceWeight
}

// SnapshotRecords is the persisted form of one graph version.
type SnapshotRecords struct {
	FormatVersion int       `json:"format_version"`
	Version       uint64    `json:"version"`
	Producer      string    `json:"producer,omitempty"`
	SavedAt       time.Time `json:"saved_at"`
	Nodes         []Node    `json:"nodes"`
	Edges         []Edge    `json:"edges"`
}

const SnapshotFormatVersion = 1

type LayerStats struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

type GraphStats struct {
	Version uint64               `json:"version"`
	Nodes   int                  `json:"nodes"`
	Edges   int                  `json:"edges"`
	Layers  map[Layer]LayerStats `json:"layers"`
}
