package dissonance

import (
	"strings"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/graph"
)

type selfEntry struct {
	assertion  domain.Assertion
	confidence float64
}

// SelfModel holds the claims a session has already emitted. It lives only as
// long as the session and is never written to the shared store.
type SelfModel struct {
	entries map[string]selfEntry
	order   []string
}

func NewSelfModel() *SelfModel {
	return &SelfModel{entries: make(map[string]selfEntry)}
}

// Record notes that a was emitted with the given confidence. A later record
// of the same triple replaces the earlier one.
func (m *SelfModel) Record(a domain.Assertion, confidence float64) {
	if !a.IsTriple() {
		return
	}
	a = canonical(a)
	k := a.Key()
	if _, ok := m.entries[k]; !ok {
		m.order = append(m.order, k)
	}
	m.entries[k] = selfEntry{assertion: a, confidence: confidence}
}

func (m *SelfModel) Len() int { return len(m.entries) }

// Assertions returns the recorded claims in first-emitted order.
func (m *SelfModel) Assertions() []domain.Assertion {
	out := make([]domain.Assertion, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.entries[k].assertion)
	}
	return out
}

// Contradiction scores how strongly a conflicts with an earlier claim: the
// same triple with opposite polarity, an exclusive relation between the same
// pair, or a second object for a functional relation.
func (m *SelfModel) Contradiction(a domain.Assertion) float64 {
	if !a.IsTriple() || len(m.entries) == 0 {
		return 0
	}
	a = canonical(a)
	best := 0.0
	consider := func(e selfEntry, ok bool) {
		if ok && e.confidence > best {
			best = e.confidence
		}
	}

	if prior, ok := m.entries[a.Key()]; ok && prior.assertion.Negated != a.Negated {
		consider(prior, true)
	}
	if a.Negated {
		return best
	}

	for _, ex := range domain.ExclusiveRelations[a.Relation] {
		probe := domain.Assertion{Subject: a.Subject, Relation: ex.Relation, Object: a.Object}
		if ex.Reversed {
			probe.Subject, probe.Object = a.Object, a.Subject
		}
		prior, ok := m.entries[probe.Key()]
		consider(prior, ok && !prior.assertion.Negated)
	}

	if domain.FunctionalRelations[a.Relation] {
		for _, e := range m.entries {
			p := e.assertion
			if p.Negated || p.Relation != a.Relation {
				continue
			}
			if strings.EqualFold(p.Subject, a.Subject) && !strings.EqualFold(p.Object, a.Object) {
				consider(e, true)
			}
		}
	}
	return best
}

// Resolved replaces the subject and object of a with the canonical names of
// the nodes they resolve to in snap, so aliases of one entity share a key.
// Names the graph does not know are kept as given.
func Resolved(snap *graph.Snapshot, a domain.Assertion) domain.Assertion {
	if n, ok := snap.Resolve(domain.RefByName(a.Subject)); ok {
		a.Subject = n.Name
	}
	if a.Object != "" {
		if n, ok := snap.Resolve(domain.RefByName(a.Object)); ok {
			a.Object = n.Name
		}
	}
	return a
}

// canonical normalizes the relation spelling and folds a not_<rel> relation
// into a negated assertion of <rel>.
func canonical(a domain.Assertion) domain.Assertion {
	a.Relation = domain.NormalizeRelation(string(a.Relation))
	if a.Relation.IsNegation() {
		a.Relation = a.Relation.Base()
		a.Negated = !a.Negated
	}
	return a
}
