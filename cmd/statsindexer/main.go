package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"LedgerStats/internal/config"
	"LedgerStats/internal/core"
	"LedgerStats/internal/ingestion"
	"LedgerStats/internal/observability"
	"LedgerStats/internal/persistence"
	"LedgerStats/internal/projection"
	"LedgerStats/internal/query"
	"LedgerStats/internal/server"
	"LedgerStats/migrations"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", os.Getenv("STATS_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	level := observability.ParseLogLevel(cfg.Logging.Level)
	logger := observability.NewLoggerWithLevel("statsindexer", level)

	if err := run(cfg, level, logger); err != nil {
		logger.Fatal().Err(err).Msg("ledger stats stopped with error")
	}
	logger.Info().Msg("ledger stats shutdown complete")
}

func run(cfg *config.Config, level zerolog.Level, logger zerolog.Logger) error {
	componentLogger := func(name string) zerolog.Logger {
		return observability.NewLoggerWithLevel(name, level)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database ---
	db, err := persistence.Open(sigCtx, cfg.Store.Driver, cfg.Store.DSN, cfg.PoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info().Str("driver", db.Dialect.String()).Msg("database connected")

	applied, err := persistence.NewMigrator(db, migrations.FS, componentLogger("migrate")).Up(sigCtx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Engine ---
	persistCh := make(chan core.Output, cfg.Engine.PersistChanSize)
	projectionCh := make(chan core.Output, cfg.Engine.ProjectionChanSize)
	var publishCh chan core.Output
	if cfg.Feed.Enabled && cfg.Feed.Publish {
		publishCh = make(chan core.Output, cfg.Engine.PublishChanSize)
	}
	outputs := core.Outputs{Persist: persistCh, Projection: projectionCh}
	if publishCh != nil {
		outputs.Publish = publishCh
	}
	engine := core.NewEngine(cfg.CoreConfig(), outputs,
		persistence.NewSQLIdempotencyChecker(db), metrics, componentLogger("engine"))
	defer engine.Close()

	// --- Recovery ---
	checkpoints := persistence.NewCheckpointStore(db, componentLogger("checkpoint"))
	if _, err := persistence.Recover(sigCtx, engine, checkpoints, persistence.NewEventLog(db),
		cfg.Engine.WarmIDs, metrics, componentLogger("recovery")); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	view := projection.NewView()
	cp, err := engine.Checkpoint()
	if err != nil {
		return fmt.Errorf("initial view: %w", err)
	}
	if err := view.Load(cp); err != nil {
		return fmt.Errorf("initial view: %w", err)
	}

	// --- Workers ---
	// engineCtx outlives ingestion so the final checkpoint can be taken
	// after the feed stops.
	engineCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()
	ingestCtx, stopIngest := context.WithCancel(sigCtx)
	defer stopIngest()

	errChan := make(chan error, 8)
	var engineWG, sinkWG, ingestWG sync.WaitGroup
	goWith := func(wg *sync.WaitGroup, name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	persistWorker := persistence.NewPersistenceWorker(db, persistCh,
		cfg.Persist.BatchSize, cfg.Persist.FlushTimeout, metrics, componentLogger("persistence"))
	goWith(&sinkWG, "persistence worker", func() error { return persistWorker.Run(context.Background()) })

	// Resyncs go through the engine goroutine, so the projection stops
	// with the engine.
	projWorker := projection.NewProjectionWorker(view, projectionCh, engine.RequestCheckpoint, componentLogger("projection"))
	goWith(&engineWG, "projection worker", func() error { return projWorker.Run(engineCtx) })

	subs := make(chan core.Submission, 256)
	goWith(&engineWG, "engine", func() error { return engine.Run(engineCtx, subs) })

	// --- Feed ---
	var subscriber *ingestion.NATSSubscriber
	if cfg.Feed.Enabled {
		natsLogger := componentLogger("ingestion")
		nc, js, err := ingestion.ConnectNATS(cfg.Feed.URL, natsLogger)
		if err != nil {
			return err
		}
		defer nc.Close()
		if err := ingestion.EnsureStreams(sigCtx, js, natsLogger); err != nil {
			return err
		}

		rawCh := make(chan ingestion.RawEvent, 1024)
		subscriber = ingestion.NewNATSSubscriber(js, rawCh, cfg.SubscriberConfig(), natsLogger)
		if err := subscriber.Subscribe(ingestCtx); err != nil {
			return err
		}
		feeder := ingestion.NewFeeder(rawCh, subs, metrics, natsLogger)
		goWith(&ingestWG, "feeder", func() error { return feeder.Run(ingestCtx) })

		if publishCh != nil {
			publisher := ingestion.NewOutboundPublisher(js, publishCh, componentLogger("publisher"))
			goWith(&sinkWG, "publisher", func() error { return publisher.Run(context.Background()) })
		}
	}

	// --- API ---
	deps := &server.ServerDeps{
		Query:         query.NewService(view),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		InjectTimeout: cfg.Server.InjectTimeout,
		Logger:        componentLogger("server"),
	}
	if cfg.Server.InjectEnabled {
		deps.Injector = ingestion.NewInjector(subs)
	}
	srv, err := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, deps)
	if err != nil {
		return err
	}
	goWith(&ingestWG, "grpc server", func() error { return srv.StartGRPC(ingestCtx) })
	goWith(&ingestWG, "http gateway", func() error { return srv.StartHTTPGateway(ingestCtx) })

	// --- Checkpoints ---
	job := persistence.NewCheckpointJob(engine, checkpoints, cfg.Checkpoint.Keep, metrics, componentLogger("checkpoint"))
	scheduler, err := job.Schedule(cfg.Checkpoint.Schedule)
	if err != nil {
		return err
	}
	scheduler.Start()

	healthChecker.SetProgress(view.Sequence)
	healthChecker.SetReady(true)
	logger.Info().
		Int64("sequence", engine.Sequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Bool("feed", cfg.Feed.Enabled).
		Msg("ledger stats ready")

	var runErr error
	select {
	case <-sigCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("worker failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake, checkpoint the quiesced engine, then drain the sinks.
	healthChecker.SetReady(false)
	<-scheduler.Stop().Done()
	if subscriber != nil {
		subscriber.Stop()
	}
	stopIngest()
	ingestWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if cfg.Checkpoint.OnShutdown {
		if err := job.Take(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("final checkpoint failed")
		}
	}

	stopEngine()
	engineWG.Wait()
	close(persistCh)
	close(projectionCh)
	if publishCh != nil {
		close(publishCh)
	}
	sinkWG.Wait()

	// The final checkpoint is verifiable once its events are flushed
	if err := job.Maintain(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("checkpoint maintenance failed")
	}
	return runErr
}
