// Package adapter defines the contract between a text generator and the
// inhibition pipeline, with a scripted implementation and one backed by an
// LLM client.
package adapter

import (
	"context"

	"github.com/Harshitk-cp/integrity/internal/domain"
)

// Step is one candidate span plus the claims extracted for the current context.
type Step struct {
	Span       string             `json:"span"`
	Tokens     int                `json:"tokens"`
	Assertions []domain.Assertion `json:"assertions"`
	// Done reports that the generator has nothing more to say.
	Done bool `json:"done,omitempty"`
}

// TokenCount is Tokens, or one when the producer left it unset.
func (s Step) TokenCount() int {
	if s.Tokens > 0 {
		return s.Tokens
	}
	return 1
}

// Adapter is called strictly alternately: Next, then Apply with the
// controller's decision for that step.
type Adapter interface {
	Next(ctx context.Context) (Step, error)
	Apply(ctx context.Context, action domain.Action) error
}

// PendingCounter is implemented by adapters that know how many tokens they
// would still have produced. It feeds the tokens-saved statistic.
type PendingCounter interface {
	PendingTokens() int
}
