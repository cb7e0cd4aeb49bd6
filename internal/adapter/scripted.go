package adapter

import (
	"context"
	"strings"
	"sync"

	"github.com/Harshitk-cp/integrity/internal/domain"
)

// Scripted replays a fixed list of steps and assembles the transcript the
// actions produce. Substituted claims are swapped for their correction in
// every later step.
type Scripted struct {
	mu         sync.Mutex
	steps      []Step
	pos        int
	last       Step
	transcript []string
	actions    []domain.Action
	replaced   map[string]domain.Assertion
	halted     bool

	failAt  int
	failErr error
}

func NewScripted(steps ...Step) *Scripted {
	return &Scripted{
		steps:    steps,
		replaced: make(map[string]domain.Assertion),
		failAt:   -1,
	}
}

// FromText splits text into one step per word, each carrying claims as the
// context's mentions.
func FromText(text string, claims ...domain.Assertion) []Step {
	words := strings.Fields(text)
	steps := make([]Step, 0, len(words))
	for _, w := range words {
		steps = append(steps, Step{Span: w, Tokens: 1, Assertions: claims})
	}
	return steps
}

// FailAt makes the i-th call to Next return err.
func (s *Scripted) FailAt(i int, err error) *Scripted {
	s.failAt, s.failErr = i, err
	return s
}

func (s *Scripted) Next(ctx context.Context) (Step, error) {
	if err := ctx.Err(); err != nil {
		return Step{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos == s.failAt {
		s.pos++
		return Step{}, s.failErr
	}
	if s.halted || s.pos >= len(s.steps) {
		return Step{Done: true}, nil
	}
	step := s.steps[s.pos]
	s.pos++

	if len(s.replaced) > 0 {
		claims := make([]domain.Assertion, 0, len(step.Assertions))
		for _, a := range step.Assertions {
			if c, ok := s.replaced[a.Key()]; ok && a.IsTriple() {
				a = c
			}
			claims = append(claims, a)
		}
		step.Assertions = claims
	}
	s.last = step
	return step, nil
}

func (s *Scripted) Apply(ctx context.Context, action domain.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actions = append(s.actions, action)
	switch action.Kind {
	case domain.ActionContinue:
		s.transcript = append(s.transcript, s.last.Span)
	case domain.ActionQualify:
		s.transcript = append(s.transcript, action.Text, s.last.Span)
	case domain.ActionSubstitute:
		s.transcript = append(s.transcript, action.Text)
		if action.Trigger != nil && action.Correction != nil {
			s.replaced[action.Trigger.Key()] = action.Correction.Assertion()
		}
	case domain.ActionHalt:
		s.transcript = append(s.transcript, action.Text)
		s.halted = true
	}
	return nil
}

func (s *Scripted) PendingTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.steps[min(s.pos, len(s.steps)):] {
		n += st.TokenCount()
	}
	return n
}

func (s *Scripted) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.transcript, " ")
}

func (s *Scripted) Actions() []domain.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Action(nil), s.actions...)
}
