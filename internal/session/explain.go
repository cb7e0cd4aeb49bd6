package session

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/graph"
	"github.com/Harshitk-cp/integrity/internal/inhibition"
)

const explainFactsPerEntity = 3

// explain lists what the snapshot can confirm about the entities of a halted
// claim, so an abort tells the reader what is known rather than only what
// is not.
func explain(snap *graph.Snapshot, trigger *domain.Assertion) string {
	if trigger == nil {
		return ""
	}
	var facts []string
	for _, name := range []string{trigger.Subject, trigger.Object} {
		if name == "" {
			continue
		}
		n, ok := snap.Resolve(domain.RefByName(name))
		if !ok {
			continue
		}
		edges := slices.DeleteFunc(snap.OutEdges(n.ID), func(e domain.Edge) bool {
			return e.RelationType.IsNegation() || !e.Layer.Durable()
		})
		slices.SortStableFunc(edges, func(a, b domain.Edge) int {
			return cmp.Compare(b.Confidence, a.Confidence)
		})
		for _, e := range edges[:min(len(edges), explainFactsPerEntity)] {
			target, ok := snap.Node(e.TargetID)
			if !ok {
				continue
			}
			facts = append(facts, fmt.Sprintf("%s %s %s", n.Name, inhibition.HumanRelation(e.RelationType), target.Name))
		}
	}
	if len(facts) == 0 {
		return ""
	}
	return "What I can verify: " + strings.Join(facts, "; ") + "."
}
