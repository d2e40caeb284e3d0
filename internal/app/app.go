package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/inkwell-ai/inkwell-backend/internal/agents"
	"github.com/inkwell-ai/inkwell-backend/internal/chain"
	"github.com/inkwell-ai/inkwell-backend/internal/dispatch"
	"github.com/inkwell-ai/inkwell-backend/internal/genloop"
	"github.com/inkwell-ai/inkwell-backend/internal/handlers"
	"github.com/inkwell-ai/inkwell-backend/internal/observability"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/llm"
	"github.com/inkwell-ai/inkwell-backend/internal/platform/logger"
	"github.com/inkwell-ai/inkwell-backend/internal/queue"
	"github.com/inkwell-ai/inkwell-backend/internal/server"
	"github.com/inkwell-ai/inkwell-backend/internal/services"
	"github.com/inkwell-ai/inkwell-backend/internal/store"
)

// queueRunner is what both queue backends expose beyond Enqueue.
type queueRunner interface {
	queue.Queue
	Start(ctx context.Context, deliver queue.DeliverFunc)
}

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Router *gin.Engine
	Cfg    Config

	queue           queueRunner
	deliver         queue.DeliverFunc
	shutdownTracing func(context.Context) error
	cancel          context.CancelFunc
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

	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	shutdownTracing, err := observability.InitTracing(context.Background(), "inkwell-backend", cfg.TracingEnabled)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	db, err := newPostgres(cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}
	if err := store.Migrate(db); err != nil {
		log.Sync()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	jobStore := store.New(db, log, cfg.LockTimeout)

	rdb, err := newRedis(cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	var q queueRunner
	var notify dispatch.Notifier
	if rdb != nil {
		q = queue.NewRedis(log, rdb, cfg.QueueMaxAttempts)
		notify = services.NewRedisNotifier(rdb, log)
	} else {
		log.Warn("REDIS_ADDR not set, using in-process queue")
		q = queue.NewMemory(log, cfg.QueueMaxAttempts)
		notify = services.NopNotifier{}
	}

	llmClient, err := llm.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init llm client: %w", err)
	}

	registry, err := agents.BuildRegistry(llmClient, log, agents.Config{
		Bounds: genloop.Bounds{
			DraftCycles:  cfg.DraftCycles,
			RepairRounds: cfg.RepairRounds,
		},
		MaxRefinementSteps: cfg.MaxRefinementSteps,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("build pipelines: %w", err)
	}

	chainer := chain.New(q, jobStore, cfg.StepEndpoint(), log)
	dispatcher := dispatch.New(jobStore, registry, chainer, notify, log, cfg.StepTimeout)
	jobService := services.NewJobService(jobStore, registry, chainer, log)

	router := server.NewRouter(server.RouterConfig{
		JobsHandler:      handlers.NewJobsHandler(jobService),
		QueueStepHandler: handlers.NewQueueStepHandler(dispatcher, log),
		QueueSecret:      cfg.QueueSecret,
		AllowOrigins:     cfg.AllowOrigins,
	})

	return &App{
		Log:             log,
		DB:              db,
		Router:          router,
		Cfg:             cfg,
		queue:           q,
		deliver:         queue.NewHTTPDeliverer(log, cfg.QueueSecret).Deliver,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Start launches the queue consumer. Call before Run.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.queue.Start(ctx, a.deliver)
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("http server listening", "addr", a.Cfg.HTTPAddr)
	return a.Router.Run(a.Cfg.HTTPAddr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.shutdownTracing != nil {
		_ = a.shutdownTracing(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
