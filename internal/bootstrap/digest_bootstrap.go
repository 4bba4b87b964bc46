package bootstrap

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"digest_server/adapter/in/worker"
	"digest_server/adapter/out/messaging"
	"digest_server/config"
	"digest_server/core/domain"
	"digest_server/infra/database"
	"digest_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

type Worker struct {
	pool          *worker.Pool
	consumer      *messaging.Consumer
	deps          *Dependencies
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	zlog          zerolog.Logger
	tickScheduler *worker.TickScheduler
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	return buildWorker(cfg, deps), cleanup, nil
}

// NewServer wires the ops API and the worker onto one shared dependency set,
// so the stats endpoint reads the same service instance the scheduler drives.
// This is the combined-mode entrypoint; api and worker modes use NewAPI and
// NewWorker with their own dependencies.
func NewServer(cfg *config.Config) (*fiber.App, *Worker, func(), error) {
	initLogger(cfg, "digest")

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, nil, err
	}

	w := buildWorker(cfg, deps)
	app := buildAPI(cfg, deps, w.RuntimeStats)

	return app, w, cleanup, nil
}

func buildWorker(cfg *config.Config, deps *Dependencies) *Worker {
	// Logger
	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	// Create processor and handler
	processor := worker.NewDigestProcessor(deps.DigestService, deps.Prefs)
	handler := worker.NewHandler(processor)

	// Pool config (use DefaultPoolConfig as base)
	defaultConfig := worker.DefaultPoolConfig()
	poolConfig := &worker.PoolConfig{
		MaxWorkers:       cfg.WorkerMax,
		QueueSize:        cfg.WorkerQueueSize,
		JobTimeout:       defaultConfig.JobTimeout,
		JobTimeoutByType: defaultConfig.JobTimeoutByType,
		BatchSize:        defaultConfig.BatchSize,
		WorkerChanSize:   defaultConfig.WorkerChanSize,
	}

	// Fallback defaults
	if poolConfig.MaxWorkers <= 0 {
		poolConfig.MaxWorkers = defaultConfig.MaxWorkers
	}
	if poolConfig.QueueSize <= 0 {
		poolConfig.QueueSize = defaultConfig.QueueSize
	}

	pool := worker.NewPool(handler, poolConfig, zlog)

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	// Hourly tick scheduler
	if cfg.SchedulerEnabled {
		w.tickScheduler = worker.NewTickScheduler(deps.DigestService, pool)
		if cfg.TickInterval > 0 {
			w.tickScheduler.SetTickInterval(cfg.TickInterval)
		}
	} else {
		logger.Warn("Scheduler disabled, digests run on manual triggers only")
	}

	// Redis Stream Consumer 설정 (Redis가 있을 때만)
	if deps.Redis != nil {
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:      cfg.ConsumerGroup,
			Consumer:   cfg.WorkerID,
			Stream:     messaging.StreamTriggers,
			Handler:    &triggerHandler{worker: w},
			Logger:     zlog,
			MaxRetries: cfg.ConsumerMaxRetries,
		})
		logger.Info("Redis Stream Consumer configured for %s", messaging.StreamTriggers)
	} else {
		logger.Warn("Redis not available, manual triggers from the ops API will not reach this worker")
	}

	return w
}

// triggerHandler adapts stream triggers to worker pool jobs. Manual triggers
// jump the queue ahead of scheduled fan-out.
type triggerHandler struct {
	worker *Worker
}

func (h *triggerHandler) Handle(ctx context.Context, data []byte) error {
	var trigger domain.RunTrigger
	if err := json.Unmarshal(data, &trigger); err != nil {
		logger.Error("[TriggerHandler] Failed to parse trigger: %v", err)
		return err
	}

	var msg *worker.Message
	if trigger.Identity != nil {
		msg = worker.NewPriorityMessage(worker.JobDigestUser, map[string]any{
			"identity":   *trigger.Identity,
			"manual":     true,
			"force":      trigger.Force,
			"request_id": trigger.RequestID,
		}, worker.PriorityHigh)
	} else {
		msg = worker.NewPriorityMessage(worker.JobDigestTick, map[string]any{
			"tick_time":  trigger.RequestedAt,
			"request_id": trigger.RequestID,
		}, worker.PriorityHigh)
	}

	// 실패를 돌려주면 ack가 생략되고 pending 재처리가 다시 시도한다
	if !h.worker.pool.SubmitPriority(msg) {
		return fmt.Errorf("priority queue full, trigger %s not submitted", trigger.RequestID)
	}

	logger.Info("[TriggerHandler] Trigger submitted: type=%s request_id=%s", msg.Type, trigger.RequestID)
	return nil
}

func (w *Worker) Start() {
	// Worker Pool 시작
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pool.Start()
	}()

	// Redis Stream Consumer 시작 (있을 경우)
	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.zlog.Info().Msg("Starting Redis Stream Consumer...")
			if err := w.consumer.Run(w.ctx); err != nil && err != context.Canceled {
				w.zlog.Error().Err(err).Msg("Redis Stream Consumer error")
			}
		}()
	}

	// Tick Scheduler 시작
	if w.tickScheduler != nil {
		w.tickScheduler.Start()
		w.zlog.Info().Msg("Started Tick Scheduler")
	}

	// Block until context is cancelled
	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()

	if w.tickScheduler != nil {
		w.tickScheduler.Stop()
	}

	w.pool.Stop()
	w.wg.Wait()
}

func (w *Worker) Submit(msg *worker.Message) bool {
	if msg.IsPriority() {
		return w.pool.SubmitPriority(msg)
	}
	return w.pool.Submit(msg)
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}

// RuntimeStats collects the worker-side numbers the stats endpoint exposes in
// combined mode: pool throughput, inference gate pressure, model token usage,
// Gmail breaker state and the trigger backlog.
func (w *Worker) RuntimeStats() map[string]any {
	stats := map[string]any{
		"pool":          w.pool.GetMetrics(),
		"gate":          w.deps.Gate.Stats(),
		"llm_usage":     w.deps.LLMClient.Usage(),
		"gmail_breaker": w.deps.GmailAPI.State(),
		"db_pool":       database.GetPoolStats(w.deps.DB),
	}

	if w.deps.Redis != nil {
		stats["redis_pool"] = database.GetRedisStats(w.deps.Redis)
	}

	if w.consumer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if pending, err := w.consumer.Pending(ctx); err == nil {
			stats["trigger_backlog"] = pending
		}
	}

	return stats
}
