package dissonance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/graph"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultSemanticWeight  = 0.85
	DefaultEpistemicWeight = 0.10
	DefaultSelfModelWeight = 0.05

	DefaultUnknownEntityPenalty   = 0.4
	DefaultUnknownEntityCap       = 0.9
	DefaultUnknownRelationPenalty = 0.3
	DefaultDegradedEpistemic      = 0.5

	DefaultClosedWorldWeight = 0.9
	DefaultFunctionalWeight  = 0.75
	DefaultTypingFloor       = 0.5
	DefaultSubstituteFloor   = 0.6
)

type Config struct {
	SemanticWeight  float64
	EpistemicWeight float64
	SelfModelWeight float64

	// UnknownEntityPenalty is added per unresolved entity, up to UnknownEntityCap.
	UnknownEntityPenalty float64
	UnknownEntityCap     float64
	// UnknownRelationPenalty applies when both entities resolve but nothing
	// links them either way.
	UnknownRelationPenalty float64
	DegradedEpistemic      float64

	// ClosedWorldWeight scales the typing confidence of a subject whose kind
	// has never been seen with the asserted relation.
	ClosedWorldWeight float64
	// FunctionalWeight scales a conflicting edge of a functional relation.
	FunctionalWeight float64
	TypingFloor      float64
	SubstituteFloor  float64
}

func DefaultConfig() Config {
	return Config{
		SemanticWeight:         DefaultSemanticWeight,
		EpistemicWeight:        DefaultEpistemicWeight,
		SelfModelWeight:        DefaultSelfModelWeight,
		UnknownEntityPenalty:   DefaultUnknownEntityPenalty,
		UnknownEntityCap:       DefaultUnknownEntityCap,
		UnknownRelationPenalty: DefaultUnknownRelationPenalty,
		DegradedEpistemic:      DefaultDegradedEpistemic,
		ClosedWorldWeight:      DefaultClosedWorldWeight,
		FunctionalWeight:       DefaultFunctionalWeight,
		TypingFloor:            DefaultTypingFloor,
		SubstituteFloor:        DefaultSubstituteFloor,
	}
}

func (c Config) Validate() error {
	for name, w := range map[string]float64{
		"semantic weight":   c.SemanticWeight,
		"epistemic weight":  c.EpistemicWeight,
		"self-model weight": c.SelfModelWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s %v out of range", name, w)
		}
	}
	if c.SemanticWeight+c.EpistemicWeight+c.SelfModelWeight == 0 {
		return errors.New("component weights are all zero")
	}
	return nil
}

// Input is one generation step as seen by the detector.
type Input struct {
	Step       int
	Span       string
	Assertions []domain.Assertion
}

type Detector struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewDetector(cfg Config, logger *zap.Logger) *Detector {
	return &Detector{cfg: cfg, logger: logger, now: time.Now}
}

func (d *Detector) Config() Config { return d.cfg }

type assessment struct {
	components domain.Components
	composite  float64
	assertion  domain.Assertion
	correction *domain.Correction
	unresolved []string
	degraded   bool
}

// Score rates every candidate claim of a step against snap and the session's
// own prior claims. The sample carries the worst-scoring claim as its trigger.
func (d *Detector) Score(ctx context.Context, snap *graph.Snapshot, self *SelfModel, in Input) domain.DissonanceSample {
	sample := domain.DissonanceSample{
		Step:            in.Step,
		Span:            in.Span,
		SnapshotVersion: snap.Version(),
		Timestamp:       d.now(),
	}

	var worst *assessment
	seen := make(map[string]bool)
	for _, a := range in.Assertions {
		as := d.assess(ctx, snap, self, a)
		for _, name := range as.unresolved {
			if !seen[name] {
				seen[name] = true
				sample.Unresolved = append(sample.Unresolved, name)
			}
		}
		sample.Degraded = sample.Degraded || as.degraded
		if worst == nil || as.composite > worst.composite {
			worst = &as
		}
	}
	if worst == nil {
		return sample
	}

	sample.Components = worst.components
	sample.Composite = worst.composite
	if worst.assertion.Subject != "" {
		trigger := worst.assertion
		sample.Trigger = &trigger
	}
	sample.Correction = worst.correction
	return sample
}

func (d *Detector) composite(c domain.Components) float64 {
	return clamp01(d.cfg.SemanticWeight*c.Semantic +
		d.cfg.EpistemicWeight*c.Epistemic +
		d.cfg.SelfModelWeight*c.SelfModel)
}

func (d *Detector) assess(ctx context.Context, snap *graph.Snapshot, self *SelfModel, a domain.Assertion) assessment {
	a = canonical(a)
	as := assessment{assertion: a}

	subj, subjOK := snap.Resolve(domain.RefByName(a.Subject))
	if !subjOK && a.Subject != "" {
		as.unresolved = append(as.unresolved, a.Subject)
	}
	var obj domain.Node
	objOK := false
	if a.IsTriple() {
		obj, objOK = snap.Resolve(domain.RefByName(a.Object))
		if !objOK {
			as.unresolved = append(as.unresolved, a.Object)
		}
	}
	epistemic := math.Min(d.cfg.UnknownEntityCap, d.cfg.UnknownEntityPenalty*float64(len(as.unresolved)))

	if !a.IsTriple() {
		as.components = domain.Components{Epistemic: epistemic}
		as.composite = d.composite(as.components)
		return as
	}

	if self != nil {
		named := a
		if subjOK {
			named.Subject = subj.Name
		}
		if objOK {
			named.Object = obj.Name
		}
		as.components.SelfModel = self.Contradiction(named)
	}

	semantic, ev, err := d.semantic(ctx, snap, a, subj, subjOK, obj, objOK)
	if err != nil {
		// A failed lookup is never evidence either way.
		d.logger.Warn("graph lookup degraded",
			zap.String("assertion", a.String()),
			zap.Uint64("snapshot_version", snap.Version()),
			zap.Error(err))
		as.degraded = true
		as.components.Semantic = 0
		as.components.Epistemic = math.Max(epistemic, d.cfg.DegradedEpistemic)
		as.composite = d.composite(as.components)
		return as
	}

	if subjOK && objOK && ev.support == 0 && ev.explicit == 0 && ev.closedWorld == 0 {
		epistemic = math.Min(d.cfg.UnknownEntityCap, epistemic+d.cfg.UnknownRelationPenalty)
	}
	as.components.Semantic = semantic
	as.components.Epistemic = epistemic
	as.composite = d.composite(as.components)

	if semantic > 0 && ev.support == 0 && !a.Negated && subjOK {
		as.correction = d.substitute(snap, a, subj, obj, objOK)
	}
	return as
}

type evidence struct {
	support     float64
	explicit    float64
	closedWorld float64
}

// semantic combines the evidence against a claim with the evidence for it:
// max(explicit, closedWorld) * (1 - support). Raising any contradicting edge
// can only raise the score.
func (d *Detector) semantic(ctx context.Context, snap *graph.Snapshot, a domain.Assertion, subj domain.Node, subjOK bool, obj domain.Node, objOK bool) (float64, evidence, error) {
	var ev evidence
	if !subjOK {
		return 0, ev, nil
	}
	sref := domain.RefByID(subj.ID)

	if a.Negated {
		// The claim denies rel: a positive edge contradicts it, a known-false
		// marker supports it.
		if !objOK {
			return 0, ev, nil
		}
		oref := domain.RefByID(obj.ID)
		positive, err := snap.QueryRelationExists(ctx, sref, oref, a.Relation)
		if err != nil {
			return 0, ev, err
		}
		marker, err := snap.QueryRelationExists(ctx, sref, oref, a.Relation.Negation())
		if err != nil {
			return 0, ev, err
		}
		ev.explicit, ev.support = positive, marker
		return clamp01(positive * (1 - marker)), ev, nil
	}

	if objOK {
		oref := domain.RefByID(obj.ID)
		support, err := snap.QueryRelationExists(ctx, sref, oref, a.Relation)
		if err != nil {
			return 0, ev, err
		}
		ev.support = support

		marker, err := snap.QueryRelationExists(ctx, sref, oref, a.Relation.Negation())
		if err != nil {
			return 0, ev, err
		}
		ev.explicit = marker

		for _, ex := range domain.ExclusiveRelations[a.Relation] {
			from, to := sref, oref
			if ex.Reversed {
				from, to = oref, sref
			}
			conf, err := snap.QueryRelationExists(ctx, from, to, ex.Relation)
			if err != nil {
				return 0, ev, err
			}
			ev.explicit = math.Max(ev.explicit, conf)
		}
	}

	if domain.FunctionalRelations[a.Relation] && ev.support == 0 {
		exclude := uuid.Nil
		if objOK {
			exclude = obj.ID
		}
		if e, ok := snap.Strongest(subj.ID, a.Relation, true, exclude); ok {
			ev.explicit = math.Max(ev.explicit, e.Confidence*d.cfg.FunctionalWeight)
		}
	}

	if ev.support == 0 {
		cw, err := d.closedWorld(ctx, snap, subj, a.Relation)
		if err != nil {
			return 0, ev, err
		}
		ev.closedWorld = cw
	}

	return clamp01(math.Max(ev.explicit, ev.closedWorld) * (1 - ev.support)), ev, nil
}

// closedWorld is the exclusion implied by what the graph knows about the
// subject's kind. A subject confidently typed as a kind none of whose other
// members was ever seen with rel is taken not to hold rel at all. If the
// subject itself, or any member of any of its kinds, holds rel the relation is
// merely unknown and belongs to the epistemic component.
func (d *Detector) closedWorld(ctx context.Context, snap *graph.Snapshot, subj domain.Node, rel domain.RelationType) (float64, error) {
	if _, ok := snap.Strongest(subj.ID, rel, true, uuid.Nil); ok {
		return 0, nil
	}
	typing := snap.Typing(subj.ID)
	strongest := 0.0
	for _, t := range typing {
		if t.Confidence < d.cfg.TypingFloor {
			continue
		}
		seen, err := snap.ClassRelationSeen(ctx, t.TargetID, subj.ID, rel)
		if err != nil {
			return 0, err
		}
		if seen {
			return 0, nil
		}
		strongest = math.Max(strongest, t.Confidence)
	}
	return strongest * d.cfg.ClosedWorldWeight, nil
}

// substitute looks for a confident edge of the same relation that could stand
// in for the unsupported claim.
func (d *Detector) substitute(snap *graph.Snapshot, a domain.Assertion, subj, obj domain.Node, objOK bool) *domain.Correction {
	exclude := uuid.Nil
	if objOK {
		exclude = obj.ID
	}
	if e, ok := snap.Strongest(subj.ID, a.Relation, true, exclude); ok && e.Confidence >= d.cfg.SubstituteFloor {
		target, _ := snap.Node(e.TargetID)
		return &domain.Correction{Subject: subj.Name, Relation: a.Relation, Object: target.Name, Confidence: e.Confidence}
	}
	if !objOK {
		return nil
	}
	if e, ok := snap.Strongest(obj.ID, a.Relation, false, subj.ID); ok && e.Confidence >= d.cfg.SubstituteFloor {
		source, _ := snap.Node(e.SourceID)
		return &domain.Correction{Subject: source.Name, Relation: a.Relation, Object: obj.Name, Confidence: e.Confidence}
	}
	return nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
