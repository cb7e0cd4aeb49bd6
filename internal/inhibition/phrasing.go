package inhibition

import (
	"fmt"
	"strings"

	"github.com/Harshitk-cp/integrity/internal/domain"
)

// Phraser renders the text attached to qualify, substitute and halt actions.
type Phraser interface {
	Qualifier(step int) string
	Correction(c domain.Correction) string
	Rejection(sample domain.DissonanceSample) string
}

var qualifiers = []string{
	"Based on my knowledge,",
	"As far as I can verify,",
	"According to my data,",
	"To my understanding,",
	"If I'm not mistaken,",
}

type DefaultPhraser struct{}

// Qualifier rotates through the hedges by step so output is reproducible.
func (DefaultPhraser) Qualifier(step int) string {
	if step < 0 {
		step = -step
	}
	return qualifiers[step%len(qualifiers)]
}

func (DefaultPhraser) Correction(c domain.Correction) string {
	return fmt.Sprintf("%s %s %s.", c.Subject, HumanRelation(c.Relation), c.Object)
}

func (DefaultPhraser) Rejection(sample domain.DissonanceSample) string {
	t := sample.Trigger
	if t == nil || !t.IsTriple() {
		return "I cannot verify this claim in my knowledge graph."
	}
	return fmt.Sprintf("I cannot verify a %s relationship between %s and %s in my knowledge graph.",
		HumanRelation(t.Relation), t.Subject, t.Object)
}

// HumanRelation turns "created_by" into "created by".
func HumanRelation(r domain.RelationType) string {
	return strings.ReplaceAll(string(r), "_", " ")
}
