// Command orchestrator is the long-running process that fans coding tasks
// out to ephemeral agent workers: HTTP boundary, scheduler tick, deadline
// and TTL durability, all wired from environment configuration the way the
// teacher's cmd/api/main.go wires DATABASE_URL/PORT/JWT_SECRET.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/inaiurai/orchestrator/internal/api"
	"github.com/inaiurai/orchestrator/internal/auth"
	"github.com/inaiurai/orchestrator/internal/budget"
	"github.com/inaiurai/orchestrator/internal/conflict"
	"github.com/inaiurai/orchestrator/internal/config"
	"github.com/inaiurai/orchestrator/internal/graph"
	"github.com/inaiurai/orchestrator/internal/jobqueue"
	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/notify"
	"github.com/inaiurai/orchestrator/internal/provider"
	"github.com/inaiurai/orchestrator/internal/provider/cloudjobs"
	"github.com/inaiurai/orchestrator/internal/provider/cloudmachines"
	"github.com/inaiurai/orchestrator/internal/provider/simulate"
	"github.com/inaiurai/orchestrator/internal/scheduler"
	"github.com/inaiurai/orchestrator/internal/schema"
	"github.com/inaiurai/orchestrator/internal/store"
	"github.com/inaiurai/orchestrator/internal/store/memory"
	"github.com/inaiurai/orchestrator/internal/store/pgstore"
	"github.com/inaiurai/orchestrator/internal/topology"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if os.Getenv("JWT_SECRET") == "" {
		logger.Error("JWT_SECRET is not set")
		os.Exit(1)
	}
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		st          store.Store
		pool        *pgxpool.Pool
		riverClient *river.Client[pgx.Tx]
	)

	switch cfg.StoreBackend {
	case "postgres":
		var err error
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("unable to create database pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Error("cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to PostgreSQL database successfully")
		pg := pgstore.New(pool)
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("failed to apply store schema", "error", err)
			os.Exit(1)
		}
		st = pg
	default:
		logger.Info("using in-memory store", "backend", cfg.StoreBackend)
		st = memory.New()
	}

	var prov provider.Provider
	switch cfg.ProviderMode {
	case "cloud-machines":
		baseURL := os.Getenv("CLOUD_MACHINES_BASE_URL")
		apiKey := os.Getenv("CLOUD_MACHINES_API_KEY")
		prov = cloudmachines.New(baseURL, apiKey)
	case "cloud-jobs":
		baseURL := os.Getenv("CLOUD_JOBS_BASE_URL")
		apiKey := os.Getenv("CLOUD_JOBS_API_KEY")
		template := os.Getenv("CLOUD_JOBS_TEMPLATE")
		prov = cloudjobs.New(baseURL, apiKey, template)
	default:
		logger.Info("using simulate provider", "mode", cfg.ProviderMode)
		prov = simulate.New()
	}

	g := graph.New(st)
	sched := scheduler.New(st, g, st.GetPerformance, logger)

	topologyKind := os.Getenv("TOPOLOGY")
	var topo topology.Handler
	switch topologyKind {
	case "hierarchical":
		topo = topology.NewHierarchical(st, sched)
	case "mesh":
		topo = topology.NewMesh(st, sched)
	default:
		topo = topology.NewHubSpoke(st, sched)
	}

	if err := seedBudgetConfig(ctx, st, cfg.Budget); err != nil {
		logger.Error("seed budget config", "error", err)
		os.Exit(1)
	}

	hub := notify.NewHub(logger)
	guard := budget.New(st, func(ctx context.Context, state *models.BudgetState) {
		hub.Publish(notify.Event{Type: notify.EventBudgetWarning, Data: map[string]interface{}{
			"daily_used_cents": state.DailyUsed,
			"daily_cap_cents":  cfg.Budget.DailyCapCents,
			"is_paused":        state.IsPaused,
		}})
	})

	validator, err := schema.NewValidator()
	if err != nil {
		logger.Error("schema validator init failed", "error", err)
		os.Exit(1)
	}

	authValidator := auth.New([]byte(cfg.JWTSecret), auth.StoreKeyLookup{Store: st})

	srv := api.NewServer()
	srv.Store = st
	srv.Graph = g
	srv.Scheduler = sched
	srv.Topology = topo
	srv.Budget = guard
	srv.Conflict = conflict.New()
	srv.Notify = hub
	srv.Provider = prov
	srv.Validator = validator
	srv.Auth = authValidator
	srv.Logger = logger
	srv.Mode = cfg.ProviderMode
	srv.StartedAt = time.Now()
	srv.CORSOrigins = cfg.CORSOrigins

	// Durable deadline/TTL jobs need River, which needs postgres; the
	// memory backend gets only the TTL sweep, from an in-process ticker,
	// and has no deadline job.
	if cfg.StoreBackend == "postgres" {
		workers := river.NewWorkers()
		river.AddWorker(workers, &jobqueue.DeadlineWorker{Store: st, Scheduler: sched})
		if sweeper, ok := st.(jobqueue.Sweeper); ok {
			river.AddWorker(workers, &jobqueue.TTLSweepWorker{Store: sweeper})
		}

		riverClient, err = river.NewClient(riverpgxv5.New(pool), &river.Config{
			Queues: map[string]river.QueueConfig{
				river.QueueDefault: {MaxWorkers: 5},
			},
			Workers: workers,
			PeriodicJobs: []*river.PeriodicJob{
				jobqueue.TTLSweepPeriodicJob(),
			},
		})
		if err != nil {
			logger.Error("failed to create river client", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := riverClient.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("river client stopped", "error", err)
			}
		}()
	} else {
		if ms, ok := st.(*memory.Store); ok {
			go runMemorySweep(ctx, ms, logger)
		}
	}

	go runSchedulerLoop(ctx, srv, cfg.SchedulerTickInterval, logger)

	httpServer := &http.Server{
		Addr:    "0.0.0.0:" + cfg.Port,
		Handler: srv.NewMux(),
	}

	go func() {
		logger.Info("starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if riverClient != nil {
		if err := riverClient.Stop(shutdownCtx); err != nil {
			logger.Error("river shutdown", "error", err)
		}
	}
}

// seedBudgetConfig writes the env-configured caps into the store's budget
// row at startup, preserving whatever spend counters already accumulated
// there. Without this the guard's thresholds stay at their zero-value
// default forever (every cap check reads "no cap set") since neither
// backend's default BudgetState carries a non-zero Config.
func seedBudgetConfig(ctx context.Context, st store.Store, cfg models.BudgetConfig) error {
	state, err := st.GetBudget(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		state = &models.BudgetState{}
	}
	state.Config = cfg
	return st.SetBudget(ctx, state)
}

// runSchedulerLoop re-evaluates ready tasks against idle agent capacity on
// a fixed tick, dispatching whatever the scheduler assigns (spec.md §4.5
// step 1). Force-dispatch via POST /execute bypasses this loop entirely;
// this is the background assignment path for everything else.
func runSchedulerLoop(ctx context.Context, srv *api.Server, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := srv.RunSchedulerTick(ctx); err != nil {
				logger.Error("scheduler tick", "error", err)
			}
		}
	}
}

// runMemorySweep drives the memory store's in-process TTL sweep, the
// single-process analogue of jobqueue.TTLSweepWorker.
func runMemorySweep(ctx context.Context, st *memory.Store, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Sweep(time.Now())
			logger.Info("memory store swept expired rows")
		}
	}
}
