// Package server provides the composition root and process lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/class-reports/internal/api"
	"github.com/JakeFAU/class-reports/internal/clock/system"
	"github.com/JakeFAU/class-reports/internal/config"
	"github.com/JakeFAU/class-reports/internal/dispatcher"
	"github.com/JakeFAU/class-reports/internal/download"
	"github.com/JakeFAU/class-reports/internal/id/uuid"
	"github.com/JakeFAU/class-reports/internal/intake"
	"github.com/JakeFAU/class-reports/internal/lease"
	"github.com/JakeFAU/class-reports/internal/logging"
	"github.com/JakeFAU/class-reports/internal/metrics"
	asynqqueue "github.com/JakeFAU/class-reports/internal/queue/asynq"
	memqueue "github.com/JakeFAU/class-reports/internal/queue/memory"
	pubsubqueue "github.com/JakeFAU/class-reports/internal/queue/pubsub"
	"github.com/JakeFAU/class-reports/internal/ratelimit"
	"github.com/JakeFAU/class-reports/internal/reaper"
	"github.com/JakeFAU/class-reports/internal/render"
	"github.com/JakeFAU/class-reports/internal/report"
	gcsstorage "github.com/JakeFAU/class-reports/internal/storage/gcs"
	localstorage "github.com/JakeFAU/class-reports/internal/storage/local"
	memorystorage "github.com/JakeFAU/class-reports/internal/storage/memory"
	pgstore "github.com/JakeFAU/class-reports/internal/storage/postgres"
	s3storage "github.com/JakeFAU/class-reports/internal/storage/s3"
	"github.com/JakeFAU/class-reports/internal/telemetry"
	"github.com/JakeFAU/class-reports/internal/worker"
)

// Components selects which long-running parts Run starts.
type Components struct {
	API     bool
	Workers bool
	Reaper  bool
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  report.Clock

	pool           *pgxpool.Pool
	store          report.RequestStore
	participations render.ParticipationSource
	queue          report.Queue
	artifacts      report.ArtifactStore
	localArtifacts *localstorage.BlobStore
	lease          report.Lease

	pubsubClient *pubsub.Client
	gcsClient    *storage.Client
	redisClient  *redis.Client
	telemetry    *telemetry.Providers

	Intake    *intake.Service
	Downloads *download.Issuer
	Reaper    *reaper.Reaper
}

// Build creates the application's dependencies. On error everything built so
// far is closed.
func Build(ctx context.Context, cfg config.Config) (app *App, err error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	logger.Info("building application dependencies", zap.Any("config", cfg.Sanitized()))

	app = &App{cfg: cfg, logger: logger, clock: system.New()}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
		}
	}()

	metrics.Init()
	if app.telemetry, err = telemetry.Init(ctx, cfg.Telemetry, nil); err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	if err = setupStorage(ctx, app); err != nil {
		return nil, err
	}
	if err = setupQueue(ctx, app); err != nil {
		return nil, err
	}
	if err = setupLease(ctx, app); err != nil {
		return nil, err
	}

	app.Intake = intake.New(app.store, app.queue, uuid.New(), app.clock, logger.Named("intake"))
	app.Downloads = download.NewIssuer(app.store, app.artifacts, app.clock, download.DefaultTTL, logger.Named("download"))
	app.Reaper = reaper.New(app.store, app.clock, cfg.Reaper.Schedule, cfg.Reaper.MaxAge, logger.Named("reaper"))
	return app, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run starts the selected components and blocks until SIGINT/SIGTERM, ctx
// cancellation, or the first component failure.
func (a *App) Run(ctx context.Context, c Components) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	if c.Workers {
		dispatch := a.newDispatcher()
		g.Go(func() error {
			dispatch.Run(gctx)
			return nil
		})
	}
	if c.Reaper && a.cfg.Reaper.Enabled {
		g.Go(func() error {
			return a.Reaper.Run(gctx)
		})
	}
	if c.API {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.APIHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown error", zap.Error(err))
			}
			return nil
		})
	}

	<-gctx.Done()
	a.logger.Info("shutdown initiated")
	return g.Wait() //nolint:wrapcheck // component errors are already wrapped
}

// APIHandler builds the HTTP handler.
func (a *App) APIHandler() http.Handler {
	opts := api.Options{RequestTimeout: a.cfg.Server.RequestTimeout}
	if rl := a.cfg.Server.RateLimit; rl.RPS > 0 {
		opts.Limiter = ratelimit.New(ratelimit.Config{RPS: rl.RPS, Burst: rl.Burst})
	}
	if a.localArtifacts != nil {
		opts.Artifacts = a.localArtifacts.Handler()
	}
	return api.NewServer(a.Intake, a.Downloads, a.store, opts, a.logger.Named("api")).Handler()
}

func (a *App) newDispatcher() *dispatcher.Dispatcher {
	formats := render.NewRegistry(a.participations, a.clock.Now)
	workerCfg := worker.Config{
		StoragePrefix: a.cfg.Storage.Prefix,
		LeaseTTL:      a.cfg.Lease.TTL,
		JobTimeout:    a.cfg.Worker.JobTimeout,
	}
	a.logger.Info("worker config",
		zap.Int("concurrency", a.cfg.Worker.Concurrency),
		zap.String("storage_prefix", workerCfg.StoragePrefix),
		zap.Duration("lease_ttl", workerCfg.LeaseTTL),
		zap.Duration("job_timeout", workerCfg.JobTimeout),
	)
	runners := make([]dispatcher.Runner, 0, a.cfg.Worker.Concurrency)
	for i := range a.cfg.Worker.Concurrency {
		runners = append(runners, worker.New(
			a.queue,
			a.store,
			a.artifacts,
			formats,
			a.lease,
			a.clock,
			workerCfg,
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(runners, a.cfg.Worker.ShutdownGrace, a.logger.Named("dispatcher"))
}

// Close releases every dependency. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis client: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	if err != nil {
		a.logger.Warn("shutdown finished with errors", zap.Error(err))
	} else {
		a.logger.Info("shutdown complete")
	}
	_ = a.logger.Sync()
	return err
}

func setupDatabase(ctx context.Context, app *App) error {
	cfg := app.cfg.Database
	if cfg.DSN == "" {
		app.logger.Warn("no DSN specified for database, using in-memory request store with demo data")
		store := memorystorage.NewRequestStore()
		seedDemo(store)
		app.store = store
		app.participations = store
		return nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres pool init failed: %w", err)
	}
	app.pool = pool
	if cfg.AutoMigrate {
		if err := pgstore.Migrate(ctx, pool, "up"); err != nil {
			return fmt.Errorf("auto migrate failed: %w", err)
		}
		app.logger.Info("database migrations applied")
	}
	if app.store, err = pgstore.NewRequestStore(pool); err != nil {
		return fmt.Errorf("request store init failed: %w", err)
	}
	if app.participations, err = pgstore.NewParticipationStore(pool); err != nil {
		return fmt.Errorf("participation store init failed: %w", err)
	}
	app.logger.Info("postgres request store initialized", zap.Int32("max_conns", pool.Config().MaxConns))
	return nil
}

func setupStorage(ctx context.Context, app *App) error {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case "gcs":
		var key []byte
		if cfg.GCS.PrivateKeyPath != "" {
			var err error
			key, err = os.ReadFile(cfg.GCS.PrivateKeyPath)
			if err != nil {
				return fmt.Errorf("read gcs signing key: %w", err)
			}
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		app.artifacts, err = gcsstorage.New(client, gcsstorage.Config{
			Bucket:      cfg.GCS.Bucket,
			SignerEmail: cfg.GCS.SignerEmail,
			PrivateKey:  key,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS storage backend", zap.String("bucket", cfg.GCS.Bucket))
	case "s3":
		s3cfg := s3storage.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PartSizeMB:      cfg.S3.PartSizeMB,
		}
		client, err := s3storage.NewClient(ctx, s3cfg)
		if err != nil {
			return fmt.Errorf("s3 client init failed: %w", err)
		}
		if app.artifacts, err = s3storage.New(client, s3cfg); err != nil {
			return fmt.Errorf("s3 blob store init failed: %w", err)
		}
		app.logger.Info("using S3 storage backend", zap.String("bucket", cfg.S3.Bucket), zap.String("endpoint", cfg.S3.Endpoint))
	case "local":
		store, err := localstorage.New(localstorage.Config{
			BaseDir:       cfg.Local.BaseDir,
			PublicBaseURL: cfg.Local.PublicBaseURL,
			SigningKey:    []byte(cfg.Local.SigningKey),
		})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		app.artifacts = store
		app.localArtifacts = store
		app.logger.Info("using local storage backend", zap.String("path", cfg.Local.BaseDir))
	default:
		app.logger.Info("using in-memory storage backend")
		app.artifacts = memorystorage.NewBlobStore()
	}
	return nil
}

func setupQueue(ctx context.Context, app *App) error {
	cfg := app.cfg.Queue
	switch cfg.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubClient = client
		app.queue, err = pubsubqueue.New(
			client.Publisher(cfg.PubSub.Topic),
			client.Subscriber(cfg.PubSub.Subscription),
			app.cfg.Worker.Concurrency,
			app.logger.Named("pubsub"),
		)
		if err != nil {
			return fmt.Errorf("pubsub queue init failed: %w", err)
		}
		app.logger.Info("using Pub/Sub queue",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.Topic),
			zap.String("subscription", cfg.PubSub.Subscription),
		)
	case "asynq":
		q, err := asynqqueue.New(asynqqueue.Config{
			RedisURL:    cfg.Asynq.RedisURL,
			Queue:       cfg.Asynq.Queue,
			MaxRetry:    cfg.Asynq.MaxRetry,
			Concurrency: app.cfg.Worker.Concurrency,
		}, app.logger.Named("asynq"))
		if err != nil {
			return fmt.Errorf("asynq queue init failed: %w", err)
		}
		app.queue = q
		app.logger.Info("using asynq queue", zap.String("queue", cfg.Asynq.Queue))
	default:
		if app.cfg.Database.DSN != "" {
			app.logger.Warn("in-memory queue with a durable store: jobs are lost on restart")
		}
		app.queue = memqueue.NewQueue(cfg.Memory.Depth, cfg.Memory.NackDelay)
		app.logger.Info("using in-memory queue", zap.Int("depth", cfg.Memory.Depth))
	}
	return nil
}

func setupLease(ctx context.Context, app *App) error {
	if app.cfg.Lease.RedisURL == "" {
		app.lease = lease.NewMemory()
		return nil
	}
	client, err := lease.NewRedisClient(ctx, app.cfg.Lease.RedisURL)
	if err != nil {
		return fmt.Errorf("lease redis init failed: %w", err)
	}
	app.redisClient = client
	app.lease = lease.NewRedis(client)
	app.logger.Info("using redis processing lease", zap.Duration("ttl", app.cfg.Lease.TTL))
	return nil
}

// seedDemo gives the in-memory store one class to report on.
func seedDemo(store *memorystorage.RequestStore) {
	present, absent := true, false
	hours := 2.0
	g1, g2, g3 := 9.0, 7.5, 5.0
	store.SeedParticipations("DEMO",
		report.Participation{StudentID: "s1", StudentName: "Ana Souza", Email: "ana@example.com", Activity: "Aula 1", ActivityType: "lecture", Present: &present, Hours: &hours, Grade: &g1, Concept: "A", Assessment: "approved", WorkloadReal: 2, WorkloadSimul: 1},
		report.Participation{StudentID: "s2", StudentName: "Bruno Lima", Email: "bruno@example.com", Activity: "Aula 1", ActivityType: "lecture", Present: &present, Hours: &hours, Grade: &g2, Concept: "B", Assessment: "approved", WorkloadReal: 2},
		report.Participation{StudentID: "s3", StudentName: "Carla Dias", Email: "carla@example.com", Activity: "Aula 1", ActivityType: "lecture", Present: &absent, Grade: &g3, Concept: "D", Assessment: "pending", WorkloadSimul: 1},
	)
}
