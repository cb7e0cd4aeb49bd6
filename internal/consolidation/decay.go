package consolidation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/graph"
	"go.uber.org/zap"
)

const (
	defaultDecayInterval = 1 * time.Hour

	DefaultEpisodicDecayFactor = 0.9
	DefaultRetentionThreshold  = 0.1
)

type DecayConfig struct {
	// Factor multiplies every episodic confidence on each pass.
	Factor float64
	// RetentionThreshold is the confidence below which episodic records are
	// pruned.
	RetentionThreshold float64
}

func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		Factor:             DefaultEpisodicDecayFactor,
		RetentionThreshold: DefaultRetentionThreshold,
	}
}

func (c DecayConfig) Validate() error {
	if c.Factor <= 0 || c.Factor > 1 {
		return fmt.Errorf("decay factor %v outside (0, 1]", c.Factor)
	}
	if c.RetentionThreshold < 0 || c.RetentionThreshold >= 1 {
		return fmt.Errorf("retention threshold %v outside [0, 1)", c.RetentionThreshold)
	}
	return nil
}

type DecayResult struct {
	RecordsDecayed int    `json:"records_decayed"`
	EdgesPruned    int    `json:"edges_pruned"`
	NodesPruned    int    `json:"nodes_pruned"`
	Version        uint64 `json:"version"`
}

// DecayService ages the episodic layer. The semantic layer is never touched.
type DecayService struct {
	graph  *graph.Store
	cfg    DecayConfig
	logger *zap.Logger

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewDecayService(g *graph.Store, cfg DecayConfig, logger *zap.Logger) (*DecayService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DecayService{
		graph:    g,
		cfg:      cfg,
		logger:   logger,
		interval: defaultDecayInterval,
		stopCh:   make(chan struct{}),
	}, nil
}

func (s *DecayService) SetInterval(d time.Duration) {
	s.interval = d
}

func (s *DecayService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("decay worker started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				if _, err := s.RunDecay(ctx); err != nil {
					s.logger.Error("episodic decay failed", zap.Error(err))
				}
				cancel()
			case <-s.stopCh:
				s.logger.Info("decay worker stopped")
				return
			}
		}
	}()
}

func (s *DecayService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// RunDecay applies one decay pass and prunes what fell below the retention
// threshold, publishing at most one graph version.
func (s *DecayService) RunDecay(ctx context.Context) (*DecayResult, error) {
	return s.run(ctx, s.cfg.Factor, s.cfg.RetentionThreshold)
}

// Prune drops episodic records below threshold without decaying anything.
func (s *DecayService) Prune(ctx context.Context, threshold float64) (*DecayResult, error) {
	return s.run(ctx, 1, threshold)
}

func (s *DecayService) run(ctx context.Context, factor, threshold float64) (*DecayResult, error) {
	result := &DecayResult{}
	err := s.graph.Update(ctx, func(txn *graph.Txn) error {
		result.RecordsDecayed = txn.DecayLayer(domain.LayerEpisodic, factor)
		result.EdgesPruned, result.NodesPruned = txn.PruneEpisodic(threshold)
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Version = s.graph.Current().Version()

	if result.RecordsDecayed > 0 || result.EdgesPruned > 0 || result.NodesPruned > 0 {
		s.logger.Info("episodic decay complete",
			zap.Int("records_decayed", result.RecordsDecayed),
			zap.Int("edges_pruned", result.EdgesPruned),
			zap.Int("nodes_pruned", result.NodesPruned),
			zap.Uint64("version", result.Version))
	}
	return result, nil
}
