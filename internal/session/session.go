package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Harshitk-cp/integrity/internal/adapter"
	"github.com/Harshitk-cp/integrity/internal/dissonance"
	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/graph"
	"github.com/Harshitk-cp/integrity/internal/inhibition"
	"github.com/Harshitk-cp/integrity/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Result struct {
	SessionID       uuid.UUID               `json:"session_id"`
	Outcome         domain.Outcome          `json:"outcome"`
	State           domain.InhibitionState  `json:"state"`
	SnapshotVersion uint64                  `json:"snapshot_version"`
	Steps           int                     `json:"steps"`
	TokensUsed      int                     `json:"tokens_used"`
	TokensSaved     int                     `json:"tokens_saved"`
	Events          []domain.InhibitionEvent `json:"events"`
	Reason          string                  `json:"reason,omitempty"`
}

// Report packages the result with the consumer's verdict for consolidation.
func (r *Result) Report(accepted bool, rejected []domain.Assertion) domain.SessionReport {
	return domain.SessionReport{
		SessionID:       r.SessionID,
		Outcome:         r.Outcome,
		SnapshotVersion: r.SnapshotVersion,
		Events:          r.Events,
		Accepted:        accepted,
		Rejected:        rejected,
	}
}

// Session scores the steps of one generation against the snapshot pinned
// when it was opened. Steps are processed one at a time.
type Session struct {
	mu sync.Mutex

	id      uuid.UUID
	runner  *Runner
	lease   *graph.Lease
	self    *dissonance.SelfModel
	ctrl    *inhibition.Controller
	budget  int
	used    int
	steps   int
	events  []domain.InhibitionEvent
	started time.Time
	touched time.Time
	result  *Result
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) SnapshotVersion() uint64 { return s.lease.Snapshot().Version() }

func (s *Session) State() domain.InhibitionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.State()
}

// Result is nil while the session is open.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// Step scores one candidate span and returns the controller's decision as an
// event. The session closes itself on abort or when the budget is spent.
func (s *Session) Step(ctx context.Context, step adapter.Step) (domain.InhibitionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.result != nil {
		return domain.InhibitionEvent{}, fmt.Errorf("session %s: %w", s.id, domain.ErrSessionClosed)
	}
	if err := ctx.Err(); err != nil {
		s.finish(ctx, domain.OutcomeIncomplete, 0, err.Error())
		return domain.InhibitionEvent{}, err
	}
	s.touched = time.Now()

	snap := s.lease.Snapshot()
	sample := s.runner.detector.Score(ctx, snap, s.self, dissonance.Input{
		Step:       s.steps,
		Span:       step.Span,
		Assertions: step.Assertions,
	})
	decision, err := s.ctrl.Observe(sample)
	if err != nil {
		return domain.InhibitionEvent{}, err
	}
	if decision.Action.Kind == domain.ActionHalt {
		if known := explain(snap, decision.Action.Trigger); known != "" {
			decision.Action.Text += " " + known
		}
	}

	s.steps++
	s.used += step.TokenCount()
	exhausted := decision.After != domain.StateAborted && s.used >= s.budget
	if exhausted {
		decision.After = s.ctrl.Complete().After
	}

	ev := domain.InhibitionEvent{
		SessionID: s.id,
		Sample:    sample,
		Aggregate: decision.Aggregate,
		Action:    decision.Action,
		Before:    decision.Before,
		After:     decision.After,
		Emitted:   emitted(step, decision.Action),
		CreatedAt: time.Now(),
	}
	for _, a := range ev.Emitted {
		s.self.Record(dissonance.Resolved(snap, a), 1-sample.Composite)
	}
	s.events = append(s.events, ev)

	metrics.ObserveSample(sample)
	metrics.ObserveAction(decision.Action.Kind)
	s.logEvent(ev)

	switch {
	case decision.After == domain.StateAborted:
		s.finish(ctx, domain.OutcomeAborted, max(s.budget-s.used, 0), "")
	case exhausted:
		s.finish(ctx, domain.OutcomeCompleted, 0, "token budget exhausted")
	}
	return ev, nil
}

// emitted lists the claims that reach the output under action.
func emitted(step adapter.Step, action domain.Action) []domain.Assertion {
	switch action.Kind {
	case domain.ActionContinue, domain.ActionQualify:
		var out []domain.Assertion
		for _, a := range step.Assertions {
			if a.IsTriple() {
				out = append(out, a)
			}
		}
		return out
	case domain.ActionSubstitute:
		if action.Correction != nil {
			return []domain.Assertion{action.Correction.Assertion()}
		}
	}
	return nil
}

func (s *Session) logEvent(ev domain.InhibitionEvent) {
	fields := []zap.Field{
		zap.String("session_id", s.id.String()),
		zap.Int("step", ev.Sample.Step),
		zap.Uint64("snapshot_version", ev.Sample.SnapshotVersion),
		zap.Float64("composite", ev.Sample.Composite),
		zap.Float64("semantic", ev.Sample.Components.Semantic),
		zap.Float64("epistemic", ev.Sample.Components.Epistemic),
		zap.Float64("self_model", ev.Sample.Components.SelfModel),
		zap.Float64("aggregate", ev.Aggregate),
		zap.String("action", string(ev.Action.Kind)),
		zap.String("state_before", string(ev.Before)),
		zap.String("state_after", string(ev.After)),
	}
	if ev.Sample.Degraded {
		fields = append(fields, zap.Bool("degraded", true))
	}
	if ev.Action.Kind == domain.ActionContinue {
		s.runner.logger.Debug("inhibition event", fields...)
		return
	}
	s.runner.logger.Info("inhibition event", fields...)
}

// Complete closes a session whose generator finished on its own.
func (s *Session) Complete(ctx context.Context) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		s.ctrl.Complete()
		s.finish(ctx, domain.OutcomeCompleted, 0, "generator finished")
	}
	return s.result
}

// Cancel closes the session as INCOMPLETE. Its events are kept for
// observability but it is never consolidated.
func (s *Session) Cancel(ctx context.Context, reason string) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		s.finish(ctx, domain.OutcomeIncomplete, 0, reason)
	}
	return s.result
}

func (s *Session) setSaved(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil && s.result.Outcome == domain.OutcomeAborted {
		s.result.TokensSaved = n
	}
}

// finish must be called with s.mu held.
func (s *Session) finish(ctx context.Context, outcome domain.Outcome, saved int, reason string) {
	s.lease.Release()
	s.result = &Result{
		SessionID:       s.id,
		Outcome:         outcome,
		State:           s.ctrl.State(),
		SnapshotVersion: s.lease.Snapshot().Version(),
		Steps:           s.steps,
		TokensUsed:      s.used,
		TokensSaved:     saved,
		Events:          append([]domain.InhibitionEvent(nil), s.events...),
		Reason:          reason,
	}

	if log := s.runner.events; log != nil && len(s.events) > 0 {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := log.Append(flushCtx, s.events); err != nil {
			s.runner.logger.Warn("failed to persist inhibition events",
				zap.String("session_id", s.id.String()),
				zap.Error(err))
		}
		cancel()
	}

	elapsed := time.Since(s.started)
	metrics.ObserveOutcome(outcome, elapsed, saved)
	s.runner.logger.Info("session finished",
		zap.String("session_id", s.id.String()),
		zap.String("outcome", string(outcome)),
		zap.String("state", string(s.result.State)),
		zap.Int("steps", s.steps),
		zap.Int("tokens_used", s.used),
		zap.Int("tokens_saved", saved),
		zap.Duration("elapsed", elapsed),
		zap.String("reason", reason))
}
