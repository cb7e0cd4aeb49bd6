// Package persist restores the graph store at startup and writes new
// versions back to a snapshot repository.
package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/graph"
	"github.com/Harshitk-cp/integrity/internal/seed"
	"go.uber.org/zap"
)

const defaultSaveInterval = 1 * time.Minute

type Persister struct {
	graph  *graph.Store
	repo   domain.SnapshotRepository
	logger *zap.Logger

	mu    sync.Mutex
	saved uint64

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewPersister(g *graph.Store, repo domain.SnapshotRepository, logger *zap.Logger) *Persister {
	return &Persister{
		graph:    g,
		repo:     repo,
		logger:   logger,
		interval: defaultSaveInterval,
		stopCh:   make(chan struct{}),
	}
}

func (p *Persister) SetInterval(d time.Duration) {
	p.interval = d
}

// Restore loads the latest saved snapshot. When nothing was saved yet the
// fallback seed is applied instead and saved immediately.
func (p *Persister) Restore(ctx context.Context, fallback *seed.File) error {
	rec, err := p.repo.LoadLatestSnapshot(ctx)
	switch {
	case err == nil:
		if err := p.graph.Load(rec); err != nil {
			return fmt.Errorf("restore snapshot %d: %w", rec.Version, err)
		}
		p.mu.Lock()
		p.saved = p.graph.Current().Version()
		p.mu.Unlock()
		p.logger.Info("graph restored",
			zap.Uint64("version", rec.Version),
			zap.Int("nodes", len(rec.Nodes)),
			zap.Int("edges", len(rec.Edges)),
			zap.String("producer", rec.Producer))
		return nil
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("load snapshot: %w", err)
	}

	if fallback == nil {
		p.logger.Info("no saved graph, starting empty")
		return nil
	}
	res, err := fallback.Apply(ctx, p.graph)
	if err != nil {
		return fmt.Errorf("apply seed %s: %w", fallback.Source, err)
	}
	p.logger.Info("graph seeded",
		zap.String("source", fallback.Source),
		zap.Int("entities", res.Entities),
		zap.Int("relations", res.Relations))
	_, err = p.Save(ctx)
	return err
}

// Save writes the current snapshot if its version has not been saved yet.
func (p *Persister) Save(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := p.graph.Current()
	if snap.Version() == 0 || snap.Version() == p.saved {
		return false, nil
	}
	rec := snap.Records()
	rec.SavedAt = time.Now()
	if err := p.repo.SaveSnapshot(ctx, rec); err != nil {
		return false, fmt.Errorf("save snapshot %d: %w", rec.Version, err)
	}
	p.saved = rec.Version
	p.logger.Debug("graph snapshot saved", zap.Uint64("version", rec.Version))
	return true, nil
}

func (p *Persister) SavedVersion() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saved
}

func (p *Persister) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.logger.Info("snapshot writer started", zap.Duration("interval", p.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				if _, err := p.Save(ctx); err != nil {
					p.logger.Error("snapshot save failed", zap.Error(err))
				}
				cancel()
			case <-p.stopCh:
				p.logger.Info("snapshot writer stopped")
				return
			}
		}
	}()
}

// Stop halts the writer after a final save.
func (p *Persister) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := p.Save(ctx); err != nil {
		p.logger.Error("final snapshot save failed", zap.Error(err))
	}
}
