// Package kv persists snapshots, the session ledger and the event log in an
// embedded badger database, for deployments without Postgres.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	keySnapshot     = []byte("snapshot/latest")
	prefixLedger    = "ledger/"
	prefixEvents    = "event/"
	defaultGCRatio  = 0.5
	defaultGCPeriod = 5 * time.Minute
)

type Config struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	// GCInterval of zero disables value log GC.
	GCInterval time.Duration
}

func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true, GCInterval: defaultGCPeriod}
}

func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type zapLogger struct {
	logger *zap.SugaredLogger
}

func (l zapLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l zapLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l zapLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l zapLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

type Store struct {
	db     *badger.DB
	logger *zap.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(zapLogger{logger: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopCh = make(chan struct{})
		s.doneCh = make(chan struct{})
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

func (s *Store) runGC(interval time.Duration) {
	defer close(s.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(defaultGCRatio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC failed", zap.Error(err))
			}
		}
	}
}

func (s *Store) Close() error {
	if s.stopCh != nil {
		close(s.stopCh)
		<-s.doneCh
	}
	return s.db.Close()
}

func (s *Store) SaveSnapshot(ctx context.Context, rec *domain.SnapshotRecords) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keySnapshot, data)
	})
}

func (s *Store) LoadLatestSnapshot(ctx context.Context) (*domain.SnapshotRecords, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec domain.SnapshotRecords
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keySnapshot)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func ledgerKey(id uuid.UUID) []byte {
	return []byte(prefixLedger + id.String())
}

func (s *Store) IsProcessed(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(ledgerKey(sessionID))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) MarkProcessed(ctx context.Context, sessionID uuid.UUID, outcome domain.Outcome) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fresh := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(ledgerKey(sessionID))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		fresh = true
		return txn.Set(ledgerKey(sessionID), []byte(outcome))
	})
	if err != nil {
		return false, err
	}
	return fresh, nil
}

func (s *Store) Release(ctx context.Context, sessionID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(ledgerKey(sessionID))
	})
}

// eventKey sorts a session's events by creation time, then step.
func eventKey(ev domain.InhibitionEvent) []byte {
	return fmt.Appendf(nil, "%s%s/%020d/%06d", prefixEvents, ev.SessionID, ev.CreatedAt.UnixNano(), ev.Sample.Step)
}

func (s *Store) Append(ctx context.Context, events []domain.InhibitionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		if err := wb.Set(eventKey(ev), data); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (s *Store) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.InhibitionEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var events []domain.InhibitionEvent
	prefix := []byte(prefixEvents + sessionID.String() + "/")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ev domain.InhibitionEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			events = append(events, ev)
		}
		return nil
	})
	return events, err
}
