package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = 1 * time.Minute
	DefaultIdleTimeout   = 10 * time.Minute
)

// Manager tracks sessions driven step by step over the HTTP API. Sessions
// left idle past the timeout are cancelled as INCOMPLETE by the sweeper.
type Manager struct {
	runner *Runner
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session

	idleTimeout time.Duration
	interval    time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

func NewManager(r *Runner, logger *zap.Logger) *Manager {
	return &Manager{
		runner:      r,
		logger:      logger,
		sessions:    make(map[uuid.UUID]*Session),
		idleTimeout: DefaultIdleTimeout,
		interval:    defaultSweepInterval,
		stopCh:      make(chan struct{}),
	}
}

func (m *Manager) SetIdleTimeout(d time.Duration) {
	m.idleTimeout = d
}

func (m *Manager) SetInterval(d time.Duration) {
	m.interval = d
}

func (m *Manager) Open(budget int) (*Session, error) {
	s, err := m.runner.Open(uuid.New(), budget)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

// Remove forgets a session, cancelling it first if it is still open.
func (m *Manager) Remove(ctx context.Context, id uuid.UUID, reason string) (*Result, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return s.Cancel(ctx, reason), nil
}

func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep cancels and forgets every session idle since before cutoff.
func (m *Manager) Sweep(ctx context.Context, cutoff time.Time) int {
	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.Cancel(ctx, "idle timeout")
	}
	if len(stale) > 0 {
		m.logger.Info("swept idle sessions", zap.Int("count", len(stale)))
	}
	return len(stale)
}

func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.logger.Info("session sweeper started",
			zap.Duration("interval", m.interval),
			zap.Duration("idle_timeout", m.idleTimeout))

		for {
			select {
			case <-ticker.C:
				m.Sweep(context.Background(), time.Now().Add(-m.idleTimeout))
			case <-m.stopCh:
				m.logger.Info("session sweeper stopped")
				return
			}
		}
	}()
}

// Stop halts the sweeper and cancels every session still open.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.Sweep(context.Background(), time.Now().Add(time.Hour))
}
