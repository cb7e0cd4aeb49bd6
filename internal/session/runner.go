package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/integrity/internal/adapter"
	"github.com/Harshitk-cp/integrity/internal/dissonance"
	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/graph"
	"github.com/Harshitk-cp/integrity/internal/inhibition"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultTokenBudget = 256

type Config struct {
	TokenBudget int
	Controller  inhibition.Config
}

func DefaultConfig() Config {
	return Config{
		TokenBudget: DefaultTokenBudget,
		Controller:  inhibition.DefaultConfig(),
	}
}

// Runner opens sessions against a shared graph store. It holds no per-session
// state and is safe for concurrent use.
type Runner struct {
	graph    *graph.Store
	detector *dissonance.Detector
	cfg      Config
	phraser  inhibition.Phraser
	events   domain.EventLog
	logger   *zap.Logger
}

func NewRunner(g *graph.Store, det *dissonance.Detector, cfg Config, events domain.EventLog, logger *zap.Logger) (*Runner, error) {
	if err := cfg.Controller.Validate(); err != nil {
		return nil, fmt.Errorf("controller config: %w", err)
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultTokenBudget
	}
	return &Runner{
		graph:    g,
		detector: det,
		cfg:      cfg,
		phraser:  inhibition.DefaultPhraser{},
		events:   events,
		logger:   logger,
	}, nil
}

// Open pins the current snapshot for a new session. A non-positive budget
// uses the configured default.
func (r *Runner) Open(id uuid.UUID, budget int) (*Session, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}
	if budget <= 0 {
		budget = r.cfg.TokenBudget
	}
	ctrl, err := inhibition.New(r.cfg.Controller, r.phraser)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	s := &Session{
		id:      id,
		runner:  r,
		lease:   r.graph.Acquire(),
		self:    dissonance.NewSelfModel(),
		ctrl:    ctrl,
		budget:  budget,
		started: now,
		touched: now,
	}
	r.logger.Debug("session opened",
		zap.String("session_id", id.String()),
		zap.Uint64("snapshot_version", s.SnapshotVersion()),
		zap.Int("token_budget", budget))
	return s, nil
}

// Run drives an adapter to an outcome. Adapter failures end the session as
// INCOMPLETE and are returned wrapped in ErrAdapterFault; cancellation of ctx
// ends it as INCOMPLETE and returns the context error.
func (r *Runner) Run(ctx context.Context, id uuid.UUID, a adapter.Adapter, budget int) (*Result, error) {
	s, err := r.Open(id, budget)
	if err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return s.Cancel(ctx, "cancelled"), err
		}

		step, err := a.Next(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) {
				return s.Cancel(ctx, "cancelled"), err
			}
			res := s.Cancel(ctx, err.Error())
			return res, fmt.Errorf("session %s step %d: %w: %w", s.id, res.Steps, domain.ErrAdapterFault, err)
		}
		if step.Done {
			return s.Complete(ctx), nil
		}

		ev, err := s.Step(ctx, step)
		if err != nil {
			return s.Cancel(ctx, err.Error()), err
		}

		if err := a.Apply(ctx, ev.Action); err != nil {
			res := s.Cancel(ctx, err.Error())
			return res, fmt.Errorf("session %s apply %s: %w: %w", s.id, ev.Action.Kind, domain.ErrAdapterFault, err)
		}

		if res := s.Result(); res != nil {
			if pc, ok := a.(adapter.PendingCounter); ok && res.Outcome == domain.OutcomeAborted {
				s.setSaved(pc.PendingTokens())
			}
			return s.Result(), nil
		}
	}
}
