package graph

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultMaxHops   = 3
	DefaultMaxVisits = 10000
	DefaultTimeout   = 250 * time.Millisecond
)

// QueryBudget bounds a single traversal. Exceeding it yields a partial result
// and ErrQueryTimeout.
type QueryBudget struct {
	MaxHops   int
	MaxVisits int
	Timeout   time.Duration
}

func DefaultQueryBudget() QueryBudget {
	return QueryBudget{
		MaxHops:   DefaultMaxHops,
		MaxVisits: DefaultMaxVisits,
		Timeout:   DefaultTimeout,
	}
}

// Store is a versioned, copy-on-write graph. Readers load the current
// snapshot without locking; writers are serialized and publish a new
// snapshot atomically.
type Store struct {
	mu       sync.Mutex
	current  atomic.Pointer[Snapshot]
	leases   atomic.Int64
	logger   *zap.Logger
	now      func() time.Time
	onCommit []func(*Snapshot)
}

func NewStore(budget QueryBudget, logger *zap.Logger) *Store {
	if budget.MaxHops <= 0 {
		budget.MaxHops = DefaultMaxHops
	}
	if budget.MaxVisits <= 0 {
		budget.MaxVisits = DefaultMaxVisits
	}
	if budget.Timeout <= 0 {
		budget.Timeout = DefaultTimeout
	}
	s := &Store{logger: logger, now: time.Now}
	s.current.Store(emptySnapshot(budget))
	return s
}

// OnCommit registers a hook called with every newly published snapshot.
// Register hooks before the store is shared.
func (s *Store) OnCommit(fn func(*Snapshot)) {
	s.onCommit = append(s.onCommit, fn)
}

// Current returns the latest published snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Lease pins a snapshot for the lifetime of a session.
type Lease struct {
	snap  *Snapshot
	store *Store
	once  sync.Once
}

func (s *Store) Acquire() *Lease {
	s.leases.Add(1)
	return &Lease{snap: s.Current(), store: s}
}

func (l *Lease) Snapshot() *Snapshot { return l.snap }

// Release drops the pin. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.store.leases.Add(-1)
	})
}

func (s *Store) ActiveLeases() int64 {
	return s.leases.Load()
}

// Update runs fn against a private copy of the current snapshot and publishes
// the result as one new version. If fn fails nothing is published.
func (s *Store) Update(ctx context.Context, fn func(*Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.current.Load()
	txn := &Txn{snap: base.clone(), now: s.now()}
	if err := fn(txn); err != nil {
		return err
	}
	if !txn.dirty {
		return nil
	}

	txn.snap.version = base.version + 1
	txn.snap.createdAt = txn.now
	s.current.Store(txn.snap)

	s.logger.Debug("graph version published",
		zap.Uint64("version", txn.snap.version),
		zap.Int("nodes", len(txn.snap.nodes)),
		zap.Int("edges", len(txn.snap.edges)))

	for _, fn := range s.onCommit {
		fn(txn.snap)
	}
	return nil
}

func (s *Store) UpsertEntity(ctx context.Context, spec domain.EntitySpec) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.Update(ctx, func(txn *Txn) error {
		var err error
		id, err = txn.UpsertEntity(spec)
		return err
	})
	return id, err
}

func (s *Store) UpsertRelation(ctx context.Context, spec domain.RelationSpec) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.Update(ctx, func(txn *Txn) error {
		var err error
		id, err = txn.UpsertRelation(spec)
		return err
	})
	return id, err
}
