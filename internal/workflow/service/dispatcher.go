package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clientflow/internal/clock"
	"github.com/smallbiznis/clientflow/internal/config"
	"github.com/smallbiznis/clientflow/internal/observability/logger"
	workflowdomain "github.com/smallbiznis/clientflow/internal/workflow/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// dispatchCapacity is the fixed semaphore size. Each task acquires an equal
// share of it so the concurrency limit can change while tasks are in flight.
const dispatchCapacity = 1 << 16

type DispatcherParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      workflowdomain.Repository
	Executor  *Executor
	Scheduler Scheduler
	Tuning    *config.DispatcherConfigHolder
}

// Dispatcher fans domain events out to tenant automations in the background.
type Dispatcher struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      workflowdomain.Repository
	executor  *Executor
	scheduler Scheduler
	tuning    *config.DispatcherConfigHolder
	sem       *semaphore.Weighted
	wg        sync.WaitGroup
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		db:        p.DB,
		log:       p.Log.Named("workflow.dispatcher"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		executor:  p.Executor,
		scheduler: p.Scheduler,
		tuning:    p.Tuning,
		sem:       semaphore.NewWeighted(dispatchCapacity),
	}
}

// Dispatch returns immediately. Workflows subscribed to event run on their
// own goroutines, detached from ctx cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, event workflowdomain.EventName, ec workflowdomain.EventContext) {
	if ec.TenantID == 0 {
		logger.WithContext(ctx, d.log).Warn("dispatch without tenant ignored", zap.String("event", string(event)))
		return
	}
	ctx = context.WithoutCancel(ctx)
	d.goSafe(ctx, func() { d.trigger(ctx, event, ec) })
}

// Wait blocks until every dispatched task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) trigger(ctx context.Context, event workflowdomain.EventName, ec workflowdomain.EventContext) {
	log := logger.WithContext(ctx, d.log).With(
		zap.String("event", string(event)),
		zap.String("tenant_id", ec.TenantID.String()),
	)
	workflows, err := d.repo.ListActive(ctx, d.db, ec.TenantID, event)
	if err != nil {
		log.Warn("failed to load workflows", zap.Error(err))
		return
	}
	if len(workflows) == 0 {
		return
	}

	for i := range workflows {
		wf := workflows[i]
		if wf.DelayMinutes > 0 {
			if err := d.schedule(ctx, &wf, ec); err != nil {
				log.Warn("failed to schedule workflow", zap.String("workflow_id", wf.ID.String()), zap.Error(err))
			}
			continue
		}

		weight := d.taskWeight()
		if err := d.sem.Acquire(ctx, weight); err != nil {
			log.Warn("dispatcher stopped acquiring slots", zap.Error(err))
			return
		}
		d.goSafe(ctx, func() {
			defer d.sem.Release(weight)
			d.runNow(ctx, &wf, ec)
		})
	}
}

func (d *Dispatcher) runNow(ctx context.Context, wf *workflowdomain.Workflow, ec workflowdomain.EventContext) {
	log := logger.WithContext(ctx, d.log).With(zap.String("workflow_id", wf.ID.String()))

	now := d.clock.Now().UTC()
	run := newRun(d.genID.Generate(), wf, ec, now)
	run.Status = workflowdomain.RunStatusRunning
	run.StartedAt = &now
	if err := d.repo.InsertRun(ctx, d.db, run); err != nil {
		log.Warn("failed to create workflow run", zap.Error(err))
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, d.tuning.Get().TaskTimeout)
	defer cancel()
	if err := d.executor.Run(taskCtx, run, wf); err != nil {
		log.Warn("workflow run failed", zap.String("run_id", run.ID.String()), zap.Error(err))
		return
	}
	log.Debug("workflow run completed", zap.String("run_id", run.ID.String()))
}

func (d *Dispatcher) schedule(ctx context.Context, wf *workflowdomain.Workflow, ec workflowdomain.EventContext) error {
	now := d.clock.Now().UTC()
	due := now.Add(time.Duration(wf.DelayMinutes) * time.Minute)
	run := newRun(d.genID.Generate(), wf, ec, now)
	run.ScheduledFor = &due
	if err := d.repo.InsertRun(ctx, d.db, run); err != nil {
		return err
	}
	// The stored run is still picked up by ProcessDue if enqueueing fails.
	if err := d.scheduler.Schedule(ctx, run); err != nil {
		return fmt.Errorf("enqueue run %s: %w", run.ID, err)
	}
	return nil
}

func (d *Dispatcher) taskWeight() int64 {
	limit := int64(d.tuning.Get().MaxConcurrency)
	if limit <= 0 {
		limit = 1
	}
	if limit > dispatchCapacity {
		limit = dispatchCapacity
	}
	return dispatchCapacity / limit
}

func (d *Dispatcher) goSafe(ctx context.Context, fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.WithContext(ctx, d.log).Error("workflow dispatch panicked", zap.Any("panic", r))
			}
		}()
		fn()
	}()
}

func newRun(id snowflake.ID, wf *workflowdomain.Workflow, ec workflowdomain.EventContext, now time.Time) *workflowdomain.WorkflowRun {
	run := &workflowdomain.WorkflowRun{
		ID:          id,
		WorkflowID:  wf.ID,
		TenantID:    wf.TenantID,
		Status:      workflowdomain.RunStatusPending,
		TriggerData: datatypes.NewJSONType(ec),
		CreatedAt:   now,
	}
	if ec.ContactID != 0 {
		contactID := ec.ContactID
		run.ContactID = &contactID
	}
	return run
}
