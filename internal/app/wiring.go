package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailtriage/internal/config"
	"mailtriage/internal/llm"
	"mailtriage/internal/repository"
	"mailtriage/internal/service"
	"mailtriage/pkg/db"
	"mailtriage/pkg/logger"
	"mailtriage/pkg/otel"
	"mailtriage/pkg/outbox"
	pkgredis "mailtriage/pkg/redis"
	"mailtriage/pkg/util"
)

const batchLockKey = "mailtriage:batch:lock"

// runtime is everything a command needs once config is loaded.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client

	outboxRepo *outbox.Repository
	emails     *repository.EmailRepository
	analyses   *repository.AnalysisRepository
	prompts    *repository.PromptRepository
	triage     *service.TriageService

	shutdownTracing func()
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.env, opts.configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logger.NewLogger(cfg.Log.Level), nil
}

// newRuntime connects to Postgres (and Redis when configured) and builds the
// triage service. Close releases the connections.
func newRuntime() (*runtime, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	shutdownTracing, err := otel.Init(cfg.OTel, log)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		shutdownTracing()
		return nil, err
	}

	rt := &runtime{
		cfg:             cfg,
		logger:          log,
		pool:            pool,
		redis:           pkgredis.NewRedisClient(cfg.Redis),
		shutdownTracing: shutdownTracing,
	}

	// 没有 MQ 时不写 outbox，避免事件无限堆积
	if cfg.MQ.URL != "" {
		rt.outboxRepo = outbox.NewRepository(pool)
	}
	rt.emails = repository.NewEmailRepository(pool)
	rt.analyses = repository.NewAnalysisRepository(pool, rt.outboxRepo)
	rt.prompts = repository.NewPromptRepository(pool, rt.outboxRepo)

	var lock util.RunLock = util.NewLocalLock()
	if rt.redis != nil {
		lock = util.NewRedisLock(rt.redis, batchLockKey, cfg.Analysis.LockTTL, log)
	}

	if cfg.LLM.APIKey == "" {
		log.Warn("No LLM API key configured; analysis calls will fail")
	}

	rt.triage = service.NewTriageService(rt.emails, rt.analyses, rt.prompts, llm.NewClient(cfg.LLM, log), service.Options{
		BatchSize:   cfg.Analysis.BatchSize,
		Retry:       cfg.RetryPolicy(),
		PacingDelay: cfg.Analysis.PacingDelay,
		Lock:        lock,
		Logger:      log,
	})
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	rt.pool.Close()
	rt.shutdownTracing()
	_ = rt.logger.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
