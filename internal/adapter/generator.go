package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Harshitk-cp/integrity/internal/domain"
)

// Generator asks an LLM client for a full answer on the first step, then
// feeds it to the pipeline one sentence at a time. Each step carries every
// claim made so far, so a contradiction keeps scoring until it is handled.
type Generator struct {
	client   domain.LLMClient
	question string

	once   sync.Once
	err    error
	script *Scripted
}

func NewGenerator(client domain.LLMClient, question string) *Generator {
	return &Generator{client: client, question: question}
}

func (g *Generator) load(ctx context.Context) error {
	g.once.Do(func() {
		ans, err := g.client.Answer(ctx, g.question)
		if err != nil {
			g.err = fmt.Errorf("generate answer: %w", err)
			return
		}
		g.script = NewScripted(StepsFromAnswer(ans)...)
	})
	return g.err
}

func (g *Generator) Next(ctx context.Context) (Step, error) {
	if err := g.load(ctx); err != nil {
		return Step{}, err
	}
	return g.script.Next(ctx)
}

func (g *Generator) Apply(ctx context.Context, action domain.Action) error {
	if g.script == nil {
		return fmt.Errorf("apply before first step: %w", domain.ErrAdapterFault)
	}
	return g.script.Apply(ctx, action)
}

func (g *Generator) PendingTokens() int {
	if g.script == nil {
		return 0
	}
	return g.script.PendingTokens()
}

func (g *Generator) Transcript() string {
	if g.script == nil {
		return ""
	}
	return g.script.Transcript()
}

// StepsFromAnswer turns each sentence into a step whose tokens are its words.
func StepsFromAnswer(ans *domain.GeneratedAnswer) []Step {
	var (
		steps  []Step
		claims []domain.Assertion
	)
	for _, s := range ans.Sentences {
		claims = append(claims, s.Claims...)
		steps = append(steps, Step{
			Span:       s.Text,
			Tokens:     len(strings.Fields(s.Text)),
			Assertions: append([]domain.Assertion(nil), claims...),
		})
	}
	return steps
}
