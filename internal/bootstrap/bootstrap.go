// Package bootstrap builds the service from environment configuration. It is
// shared by the server and the operator CLI.
package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/Harshitk-cp/integrity/internal/api"
	"github.com/Harshitk-cp/integrity/internal/config"
	"github.com/Harshitk-cp/integrity/internal/consolidation"
	"github.com/Harshitk-cp/integrity/internal/dissonance"
	"github.com/Harshitk-cp/integrity/internal/graph"
	"github.com/Harshitk-cp/integrity/internal/inhibition"
	"github.com/Harshitk-cp/integrity/internal/llm"
	"github.com/Harshitk-cp/integrity/internal/metrics"
	"github.com/Harshitk-cp/integrity/internal/seed"
	"github.com/Harshitk-cp/integrity/internal/session"
	"github.com/Harshitk-cp/integrity/internal/store"
	"github.com/Harshitk-cp/integrity/internal/store/kv"
	"github.com/Harshitk-cp/integrity/internal/store/memstore"
	"github.com/Harshitk-cp/integrity/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
	BackendMemory   = "memory"
)

// Logger returns a production logger at the configured level.
func Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(config.LogLevel())
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// Options assembles the tunables of every component from the environment.
func Options(logger *zap.Logger) api.Options {
	opts := api.DefaultOptions()
	opts.QueryBudget = graph.QueryBudget{
		MaxHops:   config.QueryMaxHops(),
		MaxVisits: config.QueryMaxVisits(),
		Timeout:   config.QueryTimeout(),
	}

	det := dissonance.DefaultConfig()
	det.SemanticWeight = config.DetectorSemanticWeight()
	det.EpistemicWeight = config.DetectorEpistemicWeight()
	det.SelfModelWeight = config.DetectorSelfModelWeight()
	det.UnknownEntityPenalty = config.DetectorUnknownEntityPenalty()
	det.UnknownEntityCap = config.DetectorUnknownEntityCap()
	det.UnknownRelationPenalty = config.DetectorUnknownRelationPenalty()
	det.DegradedEpistemic = config.DetectorDegradedEpistemic()
	det.ClosedWorldWeight = config.DetectorClosedWorldWeight()
	det.FunctionalWeight = config.DetectorFunctionalWeight()
	det.TypingFloor = config.DetectorTypingFloor()
	det.SubstituteFloor = config.DetectorSubstituteFloor()
	opts.Detector = det

	ctrl := inhibition.DefaultConfig()
	ctrl.WindowSize = config.InhibitWindow()
	ctrl.Aggregation = inhibition.Aggregation(config.InhibitAggregation())
	ctrl.EWMAAlpha = config.InhibitEWMAAlpha()
	ctrl.QualifyThreshold = config.InhibitQualifyThreshold()
	ctrl.AbortThreshold = config.InhibitAbortThreshold()
	ctrl.AbortDwell = config.InhibitAbortDwell()
	ctrl.HysteresisSteps = config.InhibitHysteresis()
	ctrl.ReframeMargin = config.InhibitReframeMargin()
	opts.Session = session.Config{TokenBudget: config.SessionTokenBudget(), Controller: ctrl}

	cons := consolidation.DefaultConfig()
	cons.ReinforceWeight = config.ReinforceWeight()
	cons.KnownFalseWeight = config.KnownFalseWeight()
	cons.ObservationWeight = config.ObservationWeight()
	opts.Consolidation = cons
	opts.Decay = consolidation.DecayConfig{
		Factor:             config.EpisodicDecayFactor(),
		RetentionThreshold: config.EpisodicRetention(),
	}

	opts.APIKeys = config.APIKeys()
	opts.RateLimit = api.RateLimitOptions{RPS: config.RateLimitRPS(), Burst: config.RateLimitBurst()}

	provider := config.LLMProvider()
	client, err := llm.NewClient(provider, config.LLMAPIKey())
	if err != nil {
		logger.Warn("LLM client initialization failed", zap.String("provider", provider), zap.Error(err))
	} else {
		logger.Info("LLM client initialized", zap.String("provider", provider))
		opts.LLM = client
	}
	return opts
}

// OpenBackend connects the configured storage backend. The returned close
// function releases it.
func OpenBackend(ctx context.Context, logger *zap.Logger) (api.Backend, func(), error) {
	switch backend := config.StorageBackend(); backend {
	case BackendPostgres:
		dbURL := config.DatabaseURL()
		if dbURL == "" {
			return api.Backend{}, nil, fmt.Errorf("DATABASE_URL is required for the %s backend", backend)
		}
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return api.Backend{}, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return api.Backend{}, nil, fmt.Errorf("ping database: %w", err)
		}
		logger.Info("connected to database")
		var schema fs.FS = migrations.FS
		if dir := config.MigrationsPath(); dir != "" {
			schema = os.DirFS(dir)
		}
		if err := store.Migrate(ctx, pool, schema, logger); err != nil {
			pool.Close()
			return api.Backend{}, nil, err
		}
		return api.Backend{
			Snapshots: store.NewSnapshotStore(pool),
			Ledger:    store.NewLedgerStore(pool),
			Events:    store.NewEventStore(pool),
			Ping:      pool.Ping,
		}, pool.Close, nil

	case BackendBadger:
		db, err := kv.Open(kv.DefaultConfig(config.BadgerPath()), logger)
		if err != nil {
			return api.Backend{}, nil, err
		}
		logger.Info("opened badger store", zap.String("path", config.BadgerPath()))
		closeFn := func() {
			if err := db.Close(); err != nil {
				logger.Warn("failed to close badger store", zap.Error(err))
			}
		}
		return api.Backend{Snapshots: db, Ledger: db, Events: db}, closeFn, nil

	case BackendMemory:
		logger.Warn("using in-memory storage; nothing survives a restart")
		mem := memstore.New()
		return api.Backend{Snapshots: mem, Ledger: mem, Events: mem}, func() {}, nil

	default:
		return api.Backend{}, nil, fmt.Errorf("unknown storage backend %q (valid options: postgres, badger, memory)", backend)
	}
}

// SeedFile is the configured seed, or the built-in one.
func SeedFile() (*seed.File, error) {
	if path := config.SeedFile(); path != "" {
		return seed.LoadFile(path)
	}
	return seed.Default(), nil
}

// NewApp wires the application with worker intervals from the environment
// and restores the graph from the backend.
func NewApp(ctx context.Context, backend api.Backend, logger *zap.Logger) (*api.App, error) {
	app, err := api.NewApp(backend, Options(logger), logger)
	if err != nil {
		return nil, err
	}
	app.Graph.OnCommit(func(snap *graph.Snapshot) { metrics.ObserveGraph(snap.Stats()) })
	app.Sessions.SetIdleTimeout(config.SessionIdleTimeout())
	app.Consolidation.SetInterval(config.ConsolidationInterval())
	app.Decay.SetInterval(config.DecayInterval())

	if app.Persister != nil {
		app.Persister.SetInterval(config.SnapshotInterval())
		fallback, err := SeedFile()
		if err != nil {
			return nil, err
		}
		if err := app.Persister.Restore(ctx, fallback); err != nil {
			return nil, fmt.Errorf("restore graph: %w", err)
		}
	}
	metrics.ObserveGraph(app.Graph.Current().Stats())
	return app, nil
}
