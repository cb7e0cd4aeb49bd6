package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/integrity/internal/api/handlers"
	mw "github.com/Harshitk-cp/integrity/internal/api/middleware"
	"github.com/Harshitk-cp/integrity/internal/buildconfig"
	"github.com/Harshitk-cp/integrity/internal/consolidation"
	"github.com/Harshitk-cp/integrity/internal/dissonance"
	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/graph"
	"github.com/Harshitk-cp/integrity/internal/persist"
	"github.com/Harshitk-cp/integrity/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Backend is the durable side of the service. Any of the postgres, badger or
// in-memory stores can fill it.
type Backend struct {
	Snapshots domain.SnapshotRepository
	Ledger    domain.SessionLedger
	Events    domain.EventLog
	// Ping reports backend health; nil means always healthy.
	Ping func(ctx context.Context) error
}

type RateLimitOptions struct {
	RPS   float64
	Burst int
}

type Options struct {
	QueryBudget   graph.QueryBudget
	Detector      dissonance.Config
	Session       session.Config
	Consolidation consolidation.Config
	Decay         consolidation.DecayConfig
	APIKeys       []string
	RateLimit     RateLimitOptions
	// LLM backs /v1/ask; nil disables it.
	LLM domain.LLMClient
}

func DefaultOptions() Options {
	return Options{
		QueryBudget:   graph.DefaultQueryBudget(),
		Detector:      dissonance.DefaultConfig(),
		Session:       session.DefaultConfig(),
		Consolidation: consolidation.DefaultConfig(),
		Decay:         consolidation.DefaultDecayConfig(),
		RateLimit:     RateLimitOptions{RPS: 100, Burst: 200},
	}
}

// App holds the router and background services for lifecycle management.
type App struct {
	Router        *chi.Mux
	Graph         *graph.Store
	Runner        *session.Runner
	Sessions      *session.Manager
	Consolidation *consolidation.Consolidator
	Decay         *consolidation.DecayService
	Persister     *persist.Persister
	RateLimiter   *mw.RateLimiter
	LLM           domain.LLMClient

	backend      Backend
	stopCh       chan struct{}
	wg           sync.WaitGroup
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(backend Backend, opts Options, logger *zap.Logger) (*App, error) {
	if err := opts.Detector.Validate(); err != nil {
		return nil, fmt.Errorf("detector config: %w", err)
	}

	g := graph.NewStore(opts.QueryBudget, logger)
	detector := dissonance.NewDetector(opts.Detector, logger)

	runner, err := session.NewRunner(g, detector, opts.Session, backend.Events, logger)
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	consolidator, err := consolidation.NewConsolidator(g, backend.Ledger, opts.Consolidation, logger)
	if err != nil {
		return nil, fmt.Errorf("consolidation config: %w", err)
	}
	decaySvc, err := consolidation.NewDecayService(g, opts.Decay, logger)
	if err != nil {
		return nil, fmt.Errorf("decay config: %w", err)
	}
	sessions := session.NewManager(runner, logger)

	var persister *persist.Persister
	if backend.Snapshots != nil {
		persister = persist.NewPersister(g, backend.Snapshots, logger)
	}

	// Handlers
	graphHandler := handlers.NewGraphHandler(g)
	sessionHandler := handlers.NewSessionHandler(sessions, runner, consolidator, backend.Events, logger)
	if opts.LLM != nil {
		sessionHandler.SetLLMClient(opts.LLM)
	}
	cognitiveHandler := handlers.NewCognitiveHandler(decaySvc, consolidator)

	r := chi.NewRouter()

	app := &App{
		Router:        r,
		Graph:         g,
		Runner:        runner,
		Sessions:      sessions,
		Consolidation: consolidator,
		Decay:         decaySvc,
		Persister:     persister,
		RateLimiter:   mw.NewRateLimiter(opts.RateLimit.RPS, opts.RateLimit.Burst),
		LLM:           opts.LLM,
		backend:       backend,
		stopCh:        make(chan struct{}),
		startTime:     time.Now(),
	}

	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(app.RateLimiter))

	// Health and metrics (no auth)
	r.Get("/health", app.healthHandler())
	r.Get("/stats", app.statsHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(opts.APIKeys))

		// Graph
		r.Post("/entities", graphHandler.CreateEntity)
		r.Get("/entities/{name}", graphHandler.GetEntity)
		r.Get("/entities/{name}/related", graphHandler.Related)
		r.Post("/relations", graphHandler.CreateRelation)
		r.Get("/relations/exists", graphHandler.RelationExists)
		r.Get("/graph/stats", graphHandler.Stats)
		r.Get("/graph/snapshot", graphHandler.Snapshot)

		// Sessions
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Open)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/steps", sessionHandler.Step)
				r.Post("/end", sessionHandler.End)
				r.Get("/events", sessionHandler.Events)
			})
		})
		r.Post("/ask", sessionHandler.Ask)

		// Maintenance
		r.Route("/cognitive", func(r chi.Router) {
			r.Post("/decay", cognitiveHandler.TriggerDecay)
			r.Post("/prune", cognitiveHandler.Prune)
			r.Post("/consolidate", cognitiveHandler.TriggerConsolidation)
		})
	})

	return app, nil
}

const limiterIdle = 10 * time.Minute

// Start launches the background workers.
func (app *App) Start() {
	app.Sessions.Start()
	app.Consolidation.Start()
	app.Decay.Start()
	if app.Persister != nil {
		app.Persister.Start()
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		ticker := time.NewTicker(limiterIdle)
		defer ticker.Stop()
		for {
			select {
			case <-app.stopCh:
				return
			case <-ticker.C:
				app.RateLimiter.Cleanup(limiterIdle)
			}
		}
	}()
}

// Stop halts the workers. Open sessions are cancelled, queued reports are
// consolidated, and the graph is saved last.
func (app *App) Stop() {
	close(app.stopCh)
	app.wg.Wait()
	app.Sessions.Stop()
	app.Consolidation.Stop()
	app.Decay.Stop()
	if app.Persister != nil {
		app.Persister.Stop()
	}
}

func (app *App) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ping := app.backend.Ping; ping != nil {
			if err := ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
				return
			}
		}

		resp := map[string]any{
			"status":        "ok",
			"build":         buildconfig.VersionInfo(),
			"graph_version": app.Graph.Current().Version(),
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (app *App) statsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)
		stats := app.Graph.Current().Stats()

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"graph": stats,
			"sessions": map[string]any{
				"open":                  app.Sessions.Active(),
				"leases":                app.Graph.ActiveLeases(),
				"consolidation_pending": app.Consolidation.Pending(),
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}
