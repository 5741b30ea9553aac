package workflow

import (
	"context"

	"github.com/smallbiznis/clientflow/internal/workflow/domain"
	"github.com/smallbiznis/clientflow/internal/workflow/repository"
	"github.com/smallbiznis/clientflow/internal/workflow/service"
	"go.uber.org/fx"
)

var Module = fx.Module("workflow.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewExecutor),
	fx.Provide(service.NewScheduler),
	fx.Provide(service.NewProcessor),
	fx.Provide(service.NewDispatcher),
	fx.Provide(func(d *service.Dispatcher) domain.Dispatcher { return d }),
	fx.Invoke(registerDrain),
)

// registerDrain lets in-flight workflow tasks finish on shutdown.
func registerDrain(lc fx.Lifecycle, d *service.Dispatcher) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				d.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
