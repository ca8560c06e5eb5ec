// Package app is the composition root: it wires config, the database,
// queues, the scheduler, update processor, planner, reaper, and HTTP
// surface into one runnable process, mirroring the teacher's
// internal/app.App.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"github.com/nasa/harmony-workflow-core/internal/callback"
	"github.com/nasa/harmony-workflow-core/internal/config"
	"github.com/nasa/harmony-workflow-core/internal/dbx"
	"github.com/nasa/harmony-workflow-core/internal/failurepolicy"
	"github.com/nasa/harmony-workflow-core/internal/httpapi"
	httpH "github.com/nasa/harmony-workflow-core/internal/httpapi/handlers"
	"github.com/nasa/harmony-workflow-core/internal/lifecycle"
	"github.com/nasa/harmony-workflow-core/internal/logger"
	"github.com/nasa/harmony-workflow-core/internal/objectstorage"
	"github.com/nasa/harmony-workflow-core/internal/observability"
	"github.com/nasa/harmony-workflow-core/internal/planner"
	"github.com/nasa/harmony-workflow-core/internal/queue"
	"github.com/nasa/harmony-workflow-core/internal/queue/memqueue"
	"github.com/nasa/harmony-workflow-core/internal/queue/pgwakeup"
	"github.com/nasa/harmony-workflow-core/internal/queue/redisqueue"
	"github.com/nasa/harmony-workflow-core/internal/reaper"
	"github.com/nasa/harmony-workflow-core/internal/scheduler"
	"github.com/nasa/harmony-workflow-core/internal/stac"
	"github.com/nasa/harmony-workflow-core/internal/store"
	"github.com/nasa/harmony-workflow-core/internal/updateprocessor"
)

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Cfg    config.Config
	Server *httpapi.Server

	proc         *updateprocessor.Processor
	updQ         queue.UpdateQueue
	reap         *reaper.Reaper
	cancel       context.CancelFunc
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("loading configuration")
	cfg := config.Load(log)

	otelShutdown := observability.Init(context.Background(), log, observability.Config{
		ServiceName: "harmony-workflow-core",
		Environment: config.GetEnv("ENVIRONMENT", "development"),
		Version:     config.GetEnv("SERVICE_VERSION", "dev"),
	})

	dsn := config.GetEnv("DATABASE_URL", "")
	if dsn == "" {
		log.Sync()
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := dbx.Open(dsn)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}

	jobs := store.NewJobRepo(db, log)
	steps := store.NewWorkflowStepRepo(db, log)
	items := store.NewWorkItemRepo(db, log)
	links := store.NewJobLinkRepo(db, log)
	messages := store.NewJobMessageRepo(db, log)
	userWork := store.NewUserWorkRepo(db, log)

	updQ, wakeQ, err := wireQueues(cfg, dsn, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init queues: %w", err)
	}

	var (
		stacReader  stac.Reader
		stacWriter  stac.Writer
		stacSizer   stac.SizeResolver
		objForStore objectstorage.Store
	)
	bucketName := config.GetEnv("OBJECT_STORAGE_BUCKET", "")
	if bucketName != "" {
		gcsClient, err := storage.NewClient(context.Background())
		if err != nil {
			log.Warn("gcs client init failed, object storage disabled", "error", err)
		} else {
			bucket := objectstorage.New(gcsClient, bucketName, log)
			stacReader, stacWriter, stacSizer, objForStore = bucket, bucket, bucket, bucket
		}
	}

	pl := planner.New(steps, items, userWork, wakeQ, stacReader, stacWriter, cfg, log)
	policy := failurepolicy.New(messages, cfg)
	lc := lifecycle.New(jobs, steps, links, messages, userWork)

	proc := updateprocessor.New(db, jobs, steps, items, links, userWork, pl, policy, lc, stacReader, stacSizer, cfg, log)

	sched := scheduler.New(db, jobs, steps, items, userWork, wakeQ, cfg, log)
	rp := reaper.New(items, proc, cfg, log)

	cbIngress := callback.New(jobs, items, updQ, objForStore, log)

	workHandler := httpH.NewWorkHandler(sched, updQ, log)
	jobHandler := httpH.NewJobHandler(jobs, steps, links, messages, log)
	callbackHandler := httpH.NewCallbackHandler(cbIngress, log)
	healthHandler := httpH.NewHealthHandler()

	server := httpapi.NewServer(httpapi.RouterConfig{
		WorkHandler:     workHandler,
		JobHandler:      jobHandler,
		CallbackHandler: callbackHandler,
		HealthHandler:   healthHandler,
		AllowOrigins:    []string{"*"},
		Log:             log,
	})

	return &App{
		Log: log, DB: db, Cfg: cfg, Server: server,
		proc: proc, updQ: updQ, reap: rp,
		otelShutdown: otelShutdown,
	}, nil
}

// wireQueues chooses the managed (Redis + Postgres LISTEN/NOTIFY) backends
// when cfg.UseServiceQueues is set, else the single-process in-memory FIFO
// (§4.2).
func wireQueues(cfg config.Config, dsn string, log *logger.Logger) (queue.UpdateQueue, queue.WakeupQueue, error) {
	if !cfg.UseServiceQueues {
		return memqueue.NewUpdateQueue(), memqueue.NewWakeupQueue(), nil
	}

	redisAddr := config.GetEnv("REDIS_ADDR", "")
	if redisAddr == "" {
		return nil, nil, fmt.Errorf("REDIS_ADDR is required when USE_SERVICE_QUEUES is set")
	}
	rdb, err := redisqueue.NewClient(redisAddr)
	if err != nil {
		return nil, nil, err
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}

	return redisqueue.NewUpdateQueue(rdb, log), pgwakeup.New(pool, log), nil
}

// Start launches the background polling loops: the update-queue drain loop
// and the reaper sweep.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go updateprocessor.DrainLoop(ctx, a.updQ, a.proc, a.Cfg, a.Log)
	go a.reap.Run(ctx)
}

func (a *App) Run(addr string) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Server.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil && a.Log != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
