package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/halcyon-labs/entitycore/internal/entities"
	"github.com/halcyon-labs/entitycore/internal/infrastructure/config"
	"github.com/halcyon-labs/entitycore/internal/infrastructure/database"
	"github.com/halcyon-labs/entitycore/internal/infrastructure/metrics"
	"github.com/halcyon-labs/entitycore/internal/jobs"
	"github.com/halcyon-labs/entitycore/internal/pubsub"
	"github.com/halcyon-labs/entitycore/internal/repositories/postgres"
	"github.com/halcyon-labs/entitycore/internal/services"
	"github.com/halcyon-labs/entitycore/internal/services/entity"
	"github.com/halcyon-labs/entitycore/internal/services/query"
	"github.com/halcyon-labs/entitycore/pkg/cache/memorycache"
)

const defaultEnv = "dev"

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	env := os.Getenv("ENV")
	if env == "" {
		env = defaultEnv
	}

	if err := config.InitConfig(env); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize config")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pg.Close()

	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("database", cfg.Database.Database).
		Msg("connected to database")

	// Shared cache backing the schema cache and the moved-entity memo
	memCache, err := memorycache.New(&memorycache.Config{
		MaxSizeBytes:  cfg.Cache.MaxMemoryBytes,
		DefaultTTL:    time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
		EnableMetrics: cfg.Cache.Metrics,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create cache")
	}
	defer memCache.Close()

	collector := metrics.NewCollector()
	collector.SetCache(memCache)
	exporter := metrics.NewPrometheusExporter(collector)

	// Repositories
	defRepo := postgres.NewPostgresDefinitionRepository(pg.DB)
	entityRepo := postgres.NewPostgresEntityRepository(pg.DB)
	commitRepo := postgres.NewPostgresCommitRepository(pg.DB)
	groupingRepo := postgres.NewPostgresGroupingRepository(pg.DB)
	recurrenceRepo := postgres.NewPostgresRecurrenceRepository(pg.DB)

	// Services
	cacheTTL := time.Duration(cfg.Cache.TTLMinutes) * time.Minute
	defService := services.NewDefinitionService(defRepo, memCache, cacheTTL)
	factory := entities.NewFactory()
	index := query.NewIndex(pg.DB, defService, factory, cfg.Fulltext.TsConfig, collector)

	queue := jobs.NewQueue(cfg.Worker.MaxAttempts, log)
	bus := pubsub.NewBus(log)

	engine := entity.NewService(entity.Deps{
		Definitions: defService,
		Repo:        entityRepo,
		Commits:     commitRepo,
		Groupings:   groupingRepo,
		Recurrence:  recurrenceRepo,
		Index:       index,
		Jobs:        queue,
		Bus:         bus,
		Metrics:     collector,
		MovedCache:  memCache,
		Logger:      log,
	})

	// Background job handlers
	queue.Register(entity.JobMarkCommitStale, func(ctx context.Context, job jobs.Job) error {
		accountID, _ := job.Payload["account_id"].(string)
		objType, _ := job.Payload["obj_type"].(string)
		commitID, _ := job.Payload["commit_id"].(int64)
		if err := commitRepo.MarkStale(ctx, accountID, objType, commitID); err != nil {
			return err
		}
		collector.IncJobsProcessed(job.Name)
		return nil
	})
	queue.Register(entity.JobEntityChanged, func(ctx context.Context, job jobs.Job) error {
		accountID, _ := job.Payload["account_id"].(string)
		objType, _ := job.Payload["obj_type"].(string)
		entityID, _ := job.Payload["entity_id"].(string)
		kind, _ := job.Payload["kind"].(string)
		evt := log.Info().
			Str("account_id", accountID).
			Str("obj_type", objType).
			Str("entity_id", entityID).
			Str("kind", kind)
		if kind != entity.EventDelete {
			if ent, err := engine.GetByID(ctx, accountID, objType, entityID); err == nil {
				evt = evt.Str("uname", ent.UniqueName()).Int64("revision", ent.Revision())
			}
		}
		evt.Msg("entity changed")
		collector.IncJobsProcessed(job.Name)
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Worker loops. They run on their own context so a shutdown signal
	// does not kill them mid-backlog; Close below stops them once the
	// queue is empty.
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		var wg sync.WaitGroup
		for i := 0; i < cfg.Worker.Concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := queue.Run(context.Background()); err != nil {
					log.Error().Err(err).Msg("job queue stopped")
				}
			}()
		}
		wg.Wait()
	}()

	// Periodic metrics export
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				exporter.Update()
			}
		}
	}()

	// Metrics and health endpoints
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pg.HealthCheck(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: metricsMux,
	}
	go func() {
		log.Info().Str("addr", metricsServer.Addr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server shutdown error")
	}

	// Let the queue drain its backlog before exiting
	queue.Close()
	select {
	case <-workerDone:
		log.Info().Msg("job queue drained")
	case <-shutdownCtx.Done():
		log.Warn().Msg("shutdown timeout exceeded before queue drained")
	}

	bus.Close()
	log.Info().Msg("shutdown complete")
}
