// Package app assembles the service from configuration and owns the
// component lifecycle: persistence, staging, notification, progress fan-out,
// the acquisition pipeline, and the ops HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/openparl/parlingest/internal/api"
	"github.com/openparl/parlingest/internal/clock/system"
	"github.com/openparl/parlingest/internal/config"
	"github.com/openparl/parlingest/internal/discover"
	"github.com/openparl/parlingest/internal/hash/sha256"
	"github.com/openparl/parlingest/internal/httpclient"
	"github.com/openparl/parlingest/internal/id/uuid"
	"github.com/openparl/parlingest/internal/importer"
	"github.com/openparl/parlingest/internal/ingest"
	"github.com/openparl/parlingest/internal/ledger"
	"github.com/openparl/parlingest/internal/logging"
	"github.com/openparl/parlingest/internal/metrics"
	"github.com/openparl/parlingest/internal/notify"
	memorynotify "github.com/openparl/parlingest/internal/notify/memory"
	pubsubnotify "github.com/openparl/parlingest/internal/notify/pubsub"
	"github.com/openparl/parlingest/internal/pipeline"
	"github.com/openparl/parlingest/internal/progress"
	progresssinks "github.com/openparl/parlingest/internal/progress/sinks"
	"github.com/openparl/parlingest/internal/ratelimit"
	gcsstorage "github.com/openparl/parlingest/internal/storage/gcs"
	localstorage "github.com/openparl/parlingest/internal/storage/local"
	memorystorage "github.com/openparl/parlingest/internal/storage/memory"
	pgstore "github.com/openparl/parlingest/internal/storage/postgres"
	"github.com/openparl/parlingest/internal/store"
)

// App holds every long-lived component of the service.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	pool         *pgxpool.Pool
	gcsClient    *storage.Client
	pubsubClient *pubsub.Client

	runs      store.RunRepository
	rows      ledger.Repository
	entities  store.EntityWriter
	blobs     ingest.BlobStore
	notifier  ingest.Notifier
	hub       *progress.Hub
	pipe      *pipeline.Pipeline
	apiServer *api.Server
}

// Build creates the application's dependencies from a validated config.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies")

	if err := setupDatabase(ctx, a); err != nil {
		return nil, err
	}
	if err := setupStaging(ctx, a); err != nil {
		return nil, err
	}
	if err := setupNotifier(ctx, a); err != nil {
		return nil, err
	}
	setupProgress(ctx, a)

	limiter := ratelimit.New(ratelimit.Config{
		RatePerHost: cfg.Portal.RatePerHost,
		Burst:       cfg.Portal.Burst,
	})
	fetcher := httpclient.New(httpclient.Options{
		MaxRetries:        cfg.HTTP.MaxRetries,
		InitialBackoff:    cfg.HTTP.InitialBackoff(),
		MaxBackoff:        cfg.HTTP.MaxBackoff(),
		BackoffMultiplier: cfg.HTTP.BackoffMultiplier,
		Timeout:           cfg.HTTPTimeout(),
		UserAgent:         cfg.Portal.UserAgent,
		MaxBodyBytes:      cfg.HTTP.MaxBodyBytes(),
	}, limiter, logging.Component(logger, "http"))

	disc := discover.New(fetcher, discover.Config{
		Roots:       cfg.Portal.Roots,
		SeriesRoots: cfg.Portal.SeriesRoots,
		MaxDepth:    cfg.Portal.MaxDepth,
	}, logging.Component(logger, "discover"))

	clk := system.New()
	imp := importer.New(
		fetcher,
		a.blobs,
		a.rows,
		a.entities,
		sha256.New(),
		a.notifier,
		clk,
		a.hub,
		logging.Component(logger, "importer"),
	)
	a.pipe = pipeline.New(
		disc,
		imp,
		a.rows,
		uuid.New(),
		clk,
		a.hub,
		logging.Component(logger, "pipeline"),
		pipeline.OptionsFromConfig(cfg.Pipeline),
	)

	// A typed-nil pool must not reach the readiness probe as a non-nil
	// interface.
	var pinger api.Pinger
	if a.pool != nil {
		pinger = a.pool
	}
	a.apiServer = api.NewServer(a.runs, a.rows, pinger, logging.Component(logger, "api"))

	return a, nil
}

// Run executes one acquisition run. While the run is active the ops server,
// when enabled, reports its progress; SIGINT and SIGTERM cancel the run so
// claimed files are released through the usual cancellation path.
func (a *App) Run(ctx context.Context, mode pipeline.Mode) (pipeline.Summary, error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := a.httpServer()
	if srv != nil {
		go func() {
			a.logger.Info("ops server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				// A run is still useful without the ops server.
				a.logger.Error("ops server error", zap.Error(err))
			}
		}()
	}

	summary, err := a.pipe.Run(ctx, mode)

	if srv != nil {
		a.shutdownHTTP(srv)
	}
	return summary, err
}

// Serve runs the ops server alone until the context is canceled or a
// termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	srv := a.httpServer()
	if srv == nil {
		return fmt.Errorf("ops server disabled: server.port is 0")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("ops server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("ops server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	a.shutdownHTTP(srv)
	return nil
}

// Close releases every component. Call once, after Run or Serve returns.
func (a *App) Close(ctx context.Context) error {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		if dropped := a.hub.Dropped(); dropped > 0 {
			a.logger.Warn("progress events dropped", zap.Int64("count", dropped))
		}
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Warn("notifier close failed", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return nil
}

// Logger returns the root application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Pipeline returns the acquisition pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipe }

// Handler returns the ops HTTP handler, mounted whether or not the listener
// is enabled.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

func (a *App) httpServer() *http.Server {
	if a.cfg.Server.Port <= 0 {
		return nil
	}
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (a *App) shutdownHTTP(srv *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
}

func setupDatabase(ctx context.Context, a *App) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database configured, using in-memory stores")
		a.runs = memorystorage.NewRunStore()
		a.rows = memorystorage.NewLedgerStore()
		a.entities = memorystorage.NewEntityStore()
		return nil
	}

	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:      a.cfg.Database.DSN,
		MaxConns: int32(a.cfg.Database.MaxConns),
		MinConns: int32(a.cfg.Database.MinConns),
	})
	if err != nil {
		return fmt.Errorf("postgres pool init failed: %w", err)
	}
	a.pool = pool
	if err := pgstore.Bootstrap(ctx, pool); err != nil {
		return fmt.Errorf("schema bootstrap failed: %w", err)
	}

	runs, err := pgstore.NewRunStore(pool)
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	rows, err := pgstore.NewLedgerStore(pool)
	if err != nil {
		return fmt.Errorf("ledger store init failed: %w", err)
	}
	entities, err := pgstore.NewEntityStore(pool)
	if err != nil {
		return fmt.Errorf("entity store init failed: %w", err)
	}
	a.runs, a.rows, a.entities = runs, rows, entities
	a.logger.Info("postgres stores initialized")
	return nil
}

func setupStaging(ctx context.Context, a *App) error {
	switch a.cfg.Staging.Provider {
	case "gcs":
		a.logger.Info("using GCS staging provider")
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Staging.GCS.Bucket,
			Prefix: a.cfg.Staging.GCS.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Debug("GCS staging", zap.String("bucket", a.cfg.Staging.GCS.Bucket))
	case "local":
		a.logger.Info("using local staging provider")
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Staging.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Debug("local staging", zap.String("base_dir", a.cfg.Staging.Local.BaseDir))
	case "memory":
		a.logger.Info("using in-memory staging provider")
		a.blobs = memorystorage.NewBlobStore()
	default:
		return fmt.Errorf("unknown staging provider: %s", a.cfg.Staging.Provider)
	}
	return nil
}

func setupNotifier(ctx context.Context, a *App) error {
	switch a.cfg.Notify.Provider {
	case "", "none":
		a.notifier = notify.Nop{}
	case "memory":
		a.notifier = memorynotify.New()
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.Notify.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.notifier = pubsubnotify.New(client.Topic(a.cfg.Notify.Topic))
		a.logger.Info("pubsub notifier initialized",
			zap.String("project", a.cfg.Notify.ProjectID),
			zap.String("topic", a.cfg.Notify.Topic),
		)
	default:
		return fmt.Errorf("unknown notify provider: %s", a.cfg.Notify.Provider)
	}
	return nil
}

func setupProgress(ctx context.Context, a *App) {
	sinks := []progress.Sink{
		progresssinks.NewLogSink(logging.Component(a.logger, "progress_log")),
		progresssinks.NewStoreSink(a.runs, logging.Component(a.logger, "progress_store")),
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		// Rebuilding inside one process re-registers the collectors; the run
		// still works without the Prometheus view.
		a.logger.Warn("prometheus progress sink init failed", zap.Error(err))
	} else {
		sinks = append(sinks, promSink)
	}
	a.hub = progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      logging.Component(a.logger, "progress_hub"),
	}, sinks...)
}
