package main

import (
	"context"
	"time"

	"github.com/smallbiznis/clientflow/internal/app"
	"github.com/smallbiznis/clientflow/internal/config"
	"github.com/smallbiznis/clientflow/internal/migration"
	workflowservice "github.com/smallbiznis/clientflow/internal/workflow/service"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func workerCmd() *cobra.Command {
	var (
		pollInterval time.Duration
		batchSize    int
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Execute delayed workflow runs",
		Long: `Consumes delayed workflow runs from the asynq queue when REDIS_ADDR is set.
Runs stored without a queue are picked up by a polling loop in either case.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(
				app.Infrastructure,
				migration.Module,
				app.Domains,
				fx.Supply(pollSettings{interval: pollInterval, batch: batchSize}),
				fx.Invoke(startWorker),
			).Run()
			return nil
		},
	}
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Minute, "how often to scan for due runs")
	cmd.Flags().IntVar(&batchSize, "batch", 100, "maximum runs claimed per scan")
	return cmd
}

type pollSettings struct {
	interval time.Duration
	batch    int
}

func startWorker(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, processor *workflowservice.Processor, poll pollSettings) {
	log = log.Named("worker")
	srv, mux := workflowservice.NewWorkerServer(cfg, log, processor)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if srv != nil {
				if err := srv.Start(mux); err != nil {
					return err
				}
				log.Info("asynq worker started")
			}
			go func() {
				defer close(done)
				pollDue(ctx, log, processor, poll)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if srv != nil {
				srv.Shutdown()
			}
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func pollDue(ctx context.Context, log *zap.Logger, processor *workflowservice.Processor, poll pollSettings) {
	interval := poll.interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := processor.ProcessDue(ctx, poll.batch)
		if err != nil {
			log.Warn("process due workflow runs", zap.Error(err))
		} else if n > 0 {
			log.Info("processed due workflow runs", zap.Int("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
