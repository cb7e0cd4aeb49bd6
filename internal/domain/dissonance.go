package domain

import (
	"fmt"
	"strings"
	"time"
)

// Assertion is a candidate claim extracted from a generated span. A claim with
// an empty Relation and Object is a bare entity reference.
type Assertion struct {
	Subject  string       `json:"subject"`
	Relation RelationType `json:"relation,omitempty"`
	Object   string       `json:"object,omitempty"`
	Negated  bool         `json:"negated,omitempty"`
}

func (a Assertion) IsTriple() bool {
	return a.Subject != "" && a.Relation != "" && a.Object != ""
}

func (a Assertion) String() string {
	if !a.IsTriple() {
		return a.Subject
	}
	if a.Negated {
		return fmt.Sprintf("%s !%s %s", a.Subject, a.Relation, a.Object)
	}
	return fmt.Sprintf("%s %s %s", a.Subject, a.Relation, a.Object)
}

// Key identifies the triple regardless of polarity or casing.
func (a Assertion) Key() string {
	return strings.ToLower(a.Subject) + "\x00" + string(NormalizeRelation(string(a.Relation))) + "\x00" + strings.ToLower(a.Object)
}

// ParseAssertion reads "subject:relation:object", with a leading "!" on the
// relation for a negated claim. A string without separators is an entity reference.
func ParseAssertion(s string) (Assertion, error) {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 1:
		name := strings.TrimSpace(parts[0])
		if name == "" {
			return Assertion{}, fmt.Errorf("empty assertion: %w", ErrInvalidReference)
		}
		return Assertion{Subject: name}, nil
	case 3:
		rel := strings.TrimSpace(parts[1])
		negated := strings.HasPrefix(rel, "!")
		a := Assertion{
			Subject:  strings.TrimSpace(parts[0]),
			Relation: NormalizeRelation(strings.TrimPrefix(rel, "!")),
			Object:   strings.TrimSpace(parts[2]),
			Negated:  negated,
		}
		if !a.IsTriple() {
			return Assertion{}, fmt.Errorf("incomplete assertion %q: %w", s, ErrInvalidReference)
		}
		return a, nil
	default:
		return Assertion{}, fmt.Errorf("malformed assertion %q: %w", s, ErrInvalidReference)
	}
}

type Components struct {
	Semantic  float64 `json:"semantic"`
	Epistemic float64 `json:"epistemic"`
	SelfModel float64 `json:"self_model"`
}

// Correction is a confident graph edge offered in place of an unsupported claim.
type Correction struct {
	Subject    string       `json:"subject"`
	Relation   RelationType `json:"relation"`
	Object     string       `json:"object"`
	Confidence float64      `json:"confidence"`
}

func (c Correction) Assertion() Assertion {
	return Assertion{Subject: c.Subject, Relation: c.Relation, Object: c.Object}
}

type DissonanceSample struct {
	Step            int         `json:"step"`
	Span            string      `json:"span"`
	SnapshotVersion uint64      `json:"snapshot_version"`
	Components      Components  `json:"components"`
	Composite       float64     `json:"composite"`
	Degraded        bool        `json:"degraded,omitempty"`
	Trigger         *Assertion  `json:"trigger,omitempty"`
	Correction      *Correction `json:"correction,omitempty"`
	Unresolved      []string    `json:"unresolved,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
}
