// Package consolidation turns finished sessions into graph confidence
// updates and ages the episodic layer.
package consolidation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/graph"
	"github.com/Harshitk-cp/integrity/internal/metrics"
	"go.uber.org/zap"
)

const (
	DefaultReinforceWeight   = 0.2
	DefaultKnownFalseWeight  = 0.5
	DefaultObservationWeight = 0.3

	defaultConsolidationInterval = 30 * time.Second
	consolidationSource          = "session"
)

type Config struct {
	// ReinforceWeight is the evidence added to each edge an accepted claim
	// relied on.
	ReinforceWeight float64
	// KnownFalseWeight is the evidence added to a not_<rel> marker for a
	// claim that was halted or rejected.
	KnownFalseWeight float64
	// ObservationWeight seeds episodic edges for accepted claims the graph
	// could not support.
	ObservationWeight float64
}

func DefaultConfig() Config {
	return Config{
		ReinforceWeight:   DefaultReinforceWeight,
		KnownFalseWeight:  DefaultKnownFalseWeight,
		ObservationWeight: DefaultObservationWeight,
	}
}

func (c Config) Validate() error {
	for name, w := range map[string]float64{
		"reinforce weight":   c.ReinforceWeight,
		"known-false weight": c.KnownFalseWeight,
		"observation weight": c.ObservationWeight,
	} {
		if w <= 0 || w > 1 {
			return fmt.Errorf("%s %v outside (0, 1]", name, w)
		}
	}
	return nil
}

// Result counts what one session contributed to the graph.
type Result struct {
	SessionID       string         `json:"session_id"`
	Outcome         domain.Outcome `json:"outcome"`
	Replayed        bool           `json:"replayed,omitempty"`
	Skipped         bool           `json:"skipped,omitempty"`
	EdgesReinforced int            `json:"edges_reinforced"`
	Observations    int            `json:"observations"`
	MarkersRaised   int            `json:"markers_raised"`
	Version         uint64         `json:"version"`
}

// Consolidator applies finished sessions to the graph store. Each session is
// applied at most once; the ledger remembers which ones were.
type Consolidator struct {
	graph  *graph.Store
	ledger domain.SessionLedger
	cfg    Config
	logger *zap.Logger

	// mu serializes the claim-apply sequence within this process.
	mu sync.Mutex

	queueMu sync.Mutex
	queue   []domain.SessionReport

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewConsolidator(g *graph.Store, ledger domain.SessionLedger, cfg Config, logger *zap.Logger) (*Consolidator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Consolidator{
		graph:    g,
		ledger:   ledger,
		cfg:      cfg,
		logger:   logger,
		interval: defaultConsolidationInterval,
		stopCh:   make(chan struct{}),
	}, nil
}

func (c *Consolidator) SetInterval(d time.Duration) {
	c.interval = d
}

// Consolidate applies one session report in a single graph update. An
// INCOMPLETE session is skipped and a session already in the ledger is a
// no-op reported through Result.Replayed.
func (c *Consolidator) Consolidate(ctx context.Context, rep domain.SessionReport) (*Result, error) {
	res := &Result{SessionID: rep.SessionID.String(), Outcome: rep.Outcome}

	switch rep.Outcome {
	case domain.OutcomeCompleted, domain.OutcomeAborted:
	default:
		res.Skipped = true
		res.Version = c.graph.Current().Version()
		metrics.ObserveConsolidation("skipped")
		c.logger.Debug("session not consolidated",
			zap.String("session_id", res.SessionID),
			zap.String("outcome", string(rep.Outcome)))
		return res, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The ledger entry is claimed before the graph changes so that a session
	// is never applied twice, even across processes sharing the ledger.
	fresh, err := c.ledger.MarkProcessed(ctx, rep.SessionID, rep.Outcome)
	if err != nil {
		metrics.ObserveConsolidation("error")
		return nil, fmt.Errorf("claim session %s: %w", rep.SessionID, err)
	}
	if !fresh {
		return c.replayed(res), nil
	}

	err = c.graph.Update(ctx, func(txn *graph.Txn) error {
		return c.apply(ctx, txn, rep, res)
	})
	if err != nil {
		metrics.ObserveConsolidation("error")
		c.release(rep)
		return nil, fmt.Errorf("consolidate session %s: %w", rep.SessionID, err)
	}
	res.Version = c.graph.Current().Version()

	metrics.ObserveConsolidation("applied")
	c.logger.Info("session consolidated",
		zap.String("session_id", res.SessionID),
		zap.String("outcome", string(rep.Outcome)),
		zap.Bool("accepted", rep.Accepted),
		zap.Int("edges_reinforced", res.EdgesReinforced),
		zap.Int("observations", res.Observations),
		zap.Int("markers_raised", res.MarkersRaised),
		zap.Uint64("version", res.Version))
	return res, nil
}

// release drops the claim on a session whose update failed, so a later flush
// can apply it. It runs on a fresh context: the caller's may be the reason
// the update failed.
func (c *Consolidator) release(rep domain.SessionReport) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.ledger.Release(ctx, rep.SessionID); err != nil {
		c.logger.Error("failed to release session claim",
			zap.String("session_id", rep.SessionID.String()),
			zap.Error(err))
	}
}

func (c *Consolidator) replayed(res *Result) *Result {
	res.Replayed = true
	res.Version = c.graph.Current().Version()
	metrics.ObserveConsolidation("replayed")
	c.logger.Info("consolidation replay ignored",
		zap.String("session_id", res.SessionID),
		zap.Error(domain.ErrConsolidationReplay))
	return res
}

func (c *Consolidator) apply(ctx context.Context, txn *graph.Txn, rep domain.SessionReport, res *Result) error {
	rejected := make(map[string]bool, len(rep.Rejected))
	for _, a := range rep.Rejected {
		if a.IsTriple() {
			rejected[a.Key()] = true
		}
	}

	if rep.Outcome == domain.OutcomeCompleted && rep.Accepted {
		reinforced := make(map[string]bool)
		for _, a := range emittedClaims(rep.Events) {
			if rejected[a.Key()] {
				continue
			}
			if err := c.accept(ctx, txn, a, reinforced, res); err != nil {
				return err
			}
		}
	}

	var falsified []domain.Assertion
	if rep.Outcome == domain.OutcomeAborted {
		if t := haltTrigger(rep.Events); t != nil {
			falsified = append(falsified, *t)
		}
	}
	falsified = append(falsified, rep.Rejected...)

	seen := make(map[string]bool)
	for _, a := range falsified {
		if !a.IsTriple() || seen[a.Key()] {
			continue
		}
		seen[a.Key()] = true
		if err := c.markFalse(txn, a, rep); err != nil {
			return err
		}
		res.MarkersRaised++
	}
	return nil
}

// accept reinforces the edges supporting a, or records a as an episodic
// observation when nothing in the graph supports it.
func (c *Consolidator) accept(ctx context.Context, txn *graph.Txn, a domain.Assertion, reinforced map[string]bool, res *Result) error {
	rel := domain.NormalizeRelation(string(a.Relation))
	if a.Negated {
		rel = rel.Negation()
	}
	m, err := txn.View().FindRelation(ctx, domain.RefByName(a.Subject), domain.RefByName(a.Object), rel)
	if err != nil && !errors.Is(err, domain.ErrQueryTimeout) {
		return err
	}
	if m.Confidence > 0 {
		for _, e := range m.Path {
			if reinforced[e.ID.String()] {
				continue
			}
			reinforced[e.ID.String()] = true
			if _, err := txn.ReinforceEdge(e.ID, c.cfg.ReinforceWeight); err != nil {
				return err
			}
			res.EdgesReinforced++
		}
		return nil
	}
	if err != nil {
		// A lookup that ran out of budget proves nothing either way.
		return nil
	}
	if err := c.observe(txn, a.Subject, a.Object, rel, c.cfg.ObservationWeight, "accepted claim"); err != nil {
		return err
	}
	res.Observations++
	return nil
}

// markFalse raises the known-false marker for a. The edge it contradicts is
// left untouched.
func (c *Consolidator) markFalse(txn *graph.Txn, a domain.Assertion, rep domain.SessionReport) error {
	rel := domain.NormalizeRelation(string(a.Relation)).Base()
	if !a.Negated {
		rel = rel.Negation()
	}
	return c.observe(txn, a.Subject, a.Object, rel, c.cfg.KnownFalseWeight, "session "+strings.ToLower(string(rep.Outcome)))
}

func (c *Consolidator) observe(txn *graph.Txn, subject, object string, rel domain.RelationType, weight float64, why string) error {
	prov := domain.Provenance{Source: consolidationSource + ": " + why, Kind: domain.SourceConsolidation}
	for _, name := range []string{subject, object} {
		if _, ok := txn.View().Resolve(domain.RefByName(name)); ok {
			continue
		}
		if _, err := txn.UpsertEntity(domain.EntitySpec{
			Name:       name,
			Layer:      domain.LayerEpisodic,
			Weight:     weight,
			Provenance: prov,
		}); err != nil {
			return err
		}
	}
	_, err := txn.UpsertRelation(domain.RelationSpec{
		Source:       domain.RefByName(subject),
		Target:       domain.RefByName(object),
		RelationType: rel,
		Weight:       weight,
		Layer:        domain.LayerEpisodic,
		Provenance:   prov,
	})
	return err
}

// emittedClaims returns the distinct triples that reached the output.
func emittedClaims(events []domain.InhibitionEvent) []domain.Assertion {
	seen := make(map[string]bool)
	var out []domain.Assertion
	for _, ev := range events {
		for _, a := range ev.Emitted {
			if !a.IsTriple() || seen[a.Key()] {
				continue
			}
			seen[a.Key()] = true
			out = append(out, a)
		}
	}
	return out
}

func haltTrigger(events []domain.InhibitionEvent) *domain.Assertion {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Action.Kind == domain.ActionHalt {
			if t := events[i].Action.Trigger; t != nil {
				return t
			}
			return events[i].Sample.Trigger
		}
	}
	return nil
}

// Enqueue schedules a report for the background worker.
func (c *Consolidator) Enqueue(rep domain.SessionReport) {
	c.queueMu.Lock()
	c.queue = append(c.queue, rep)
	c.queueMu.Unlock()
}

func (c *Consolidator) Pending() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return len(c.queue)
}

// Flush consolidates every queued report. Reports that fail stay queued.
func (c *Consolidator) Flush(ctx context.Context) []*Result {
	c.queueMu.Lock()
	batch := c.queue
	c.queue = nil
	c.queueMu.Unlock()

	var results []*Result
	var failed []domain.SessionReport
	for _, rep := range batch {
		res, err := c.Consolidate(ctx, rep)
		if err != nil {
			c.logger.Error("consolidation failed",
				zap.String("session_id", rep.SessionID.String()),
				zap.Error(err))
			failed = append(failed, rep)
			continue
		}
		results = append(results, res)
	}
	if len(failed) > 0 {
		c.queueMu.Lock()
		c.queue = append(failed, c.queue...)
		c.queueMu.Unlock()
	}
	return results
}

func (c *Consolidator) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.logger.Info("consolidation worker started", zap.Duration("interval", c.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				c.Flush(ctx)
				cancel()
			case <-c.stopCh:
				c.logger.Info("consolidation worker stopped")
				return
			}
		}
	}()
}

// Stop halts the worker and drains what is still queued.
func (c *Consolidator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c.Flush(ctx)
}
