package service

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/smallbiznis/clientflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RedisConnOpt returns the asynq connection for cfg, or nil without redis.
func RedisConnOpt(cfg config.Config) asynq.RedisConnOpt {
	if !cfg.Redis.Enabled() {
		return nil
	}
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// NewScheduler enqueues delayed runs on asynq when redis is configured and
// otherwise leaves them for ProcessDue.
func NewScheduler(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Scheduler {
	opt := RedisConnOpt(cfg)
	if opt == nil {
		log.Named("workflow.scheduler").Info("redis not configured, delayed runs wait for process-workflows")
		return StoredScheduler{}
	}
	client := asynq.NewClient(opt)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewAsynqScheduler(client)
}

// NewWorkerServer builds the asynq server consuming delayed runs.
func NewWorkerServer(cfg config.Config, log *zap.Logger, processor *Processor) (*asynq.Server, *asynq.ServeMux) {
	opt := RedisConnOpt(cfg)
	if opt == nil {
		return nil, nil
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Dispatcher.MaxConcurrency,
		Queues:      map[string]int{"default": 1},
		Logger:      log.Named("workflow.worker").Sugar(),
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeWorkflowRun, processor.HandleRunTask)
	return srv, mux
}
