package dissonance

import (
	"testing"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestSelfModel_Contradiction(t *testing.T) {
	m := NewSelfModel()
	m.Record(claim("Python", domain.RelationCreatedBy, "Guido van Rossum"), 0.9)
	m.Record(domain.Assertion{Subject: "Python"}, 1)

	tests := []struct {
		name string
		a    domain.Assertion
		want float64
	}{
		{"repeat is consistent", claim("python", "createdBy", "guido van rossum"), 0},
		{"denial", domain.Assertion{Subject: "Python", Relation: domain.RelationCreatedBy, Object: "Guido van Rossum", Negated: true}, 0.9},
		{"second creator", claim("Python", domain.RelationCreatedBy, "James Gosling"), 0.9},
		{"reversed direction", claim("Python", domain.RelationCreates, "Guido van Rossum"), 0.9},
		{"unrelated", claim("Java", domain.RelationCreatedBy, "James Gosling"), 0},
		{"entity reference", domain.Assertion{Subject: "Python"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, m.Contradiction(tt.a), 1e-9)
		})
	}
	assert.Equal(t, 1, m.Len())
}

func TestSelfModel_AssertionsInOrder(t *testing.T) {
	m := NewSelfModel()
	m.Record(claim("A", "r", "B"), 0.5)
	m.Record(claim("C", "r", "D"), 0.5)
	m.Record(claim("a", "r", "b"), 0.9)

	got := m.Assertions()
	assert.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Subject)
	assert.Equal(t, "C", got[1].Subject)
}
