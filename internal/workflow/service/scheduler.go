package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/smallbiznis/clientflow/internal/clock"
	"github.com/smallbiznis/clientflow/internal/observability/logger"
	workflowdomain "github.com/smallbiznis/clientflow/internal/workflow/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TypeWorkflowRun is the asynq task type for delayed workflow runs.
const TypeWorkflowRun = "workflow:run"

// Scheduler hands a pending run with a due time to a delayed queue.
type Scheduler interface {
	Schedule(ctx context.Context, run *workflowdomain.WorkflowRun) error
}

type runPayload struct {
	RunID snowflake.ID `json:"run_id"`
}

// NewRunTask builds the asynq task that fires run at its due time.
func NewRunTask(run *workflowdomain.WorkflowRun) (*asynq.Task, []asynq.Option, error) {
	if run.ScheduledFor == nil {
		return nil, nil, fmt.Errorf("run %s has no due time", run.ID)
	}
	b, err := json.Marshal(runPayload{RunID: run.ID})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeWorkflowRun, b)
	opts := []asynq.Option{
		asynq.ProcessAt(*run.ScheduledFor),
		asynq.TaskID(run.ID.String()),
		asynq.MaxRetry(3),
	}
	return task, opts, nil
}

// AsynqScheduler enqueues delayed runs on redis.
type AsynqScheduler struct {
	client *asynq.Client
}

func NewAsynqScheduler(client *asynq.Client) *AsynqScheduler {
	return &AsynqScheduler{client: client}
}

func (s *AsynqScheduler) Schedule(ctx context.Context, run *workflowdomain.WorkflowRun) error {
	task, opts, err := NewRunTask(run)
	if err != nil {
		return err
	}
	_, err = s.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// StoredScheduler leaves delayed runs in the database for ProcessDue.
type StoredScheduler struct{}

func (StoredScheduler) Schedule(context.Context, *workflowdomain.WorkflowRun) error {
	return nil
}

type ProcessorParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     workflowdomain.Repository
	Executor *Executor
}

// Processor executes delayed runs once they are due.
type Processor struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     workflowdomain.Repository
	executor *Executor
}

func NewProcessor(p ProcessorParams) *Processor {
	return &Processor{
		db:       p.DB,
		log:      p.Log.Named("workflow.processor"),
		clock:    p.Clock,
		repo:     p.Repo,
		executor: p.Executor,
	}
}

// ProcessDue runs up to limit pending runs whose due time has passed and
// returns how many it claimed.
func (p *Processor) ProcessDue(ctx context.Context, limit int) (int, error) {
	runs, err := p.repo.DueRuns(ctx, p.db, p.clock.Now(), limit)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, run := range runs {
		err := p.ProcessRun(ctx, run.ID)
		if errors.Is(err, workflowdomain.ErrRunNotClaimable) {
			continue
		}
		processed++
		if err != nil {
			logger.WithContext(ctx, p.log).Warn("delayed workflow run failed",
				zap.String("run_id", run.ID.String()),
				zap.Error(err),
			)
		}
	}
	return processed, nil
}

// ProcessRun claims and executes one pending run. A run already claimed
// elsewhere yields ErrRunNotClaimable.
func (p *Processor) ProcessRun(ctx context.Context, runID snowflake.ID) error {
	run, err := p.repo.ClaimRun(ctx, p.db, runID, p.clock.Now().UTC())
	if err != nil {
		return err
	}
	wf, err := p.repo.FindWorkflow(ctx, p.db, run.WorkflowID)
	if err != nil {
		return p.fail(ctx, run, err)
	}
	if !wf.IsActive {
		return p.fail(ctx, run, errors.New("workflow is inactive"))
	}
	return p.executor.Run(ctx, run, wf)
}

func (p *Processor) fail(ctx context.Context, run *workflowdomain.WorkflowRun, cause error) error {
	now := p.clock.Now().UTC()
	run.Status = workflowdomain.RunStatusFailed
	run.Error = cause.Error()
	run.CompletedAt = &now
	if err := p.repo.UpdateRun(ctx, p.db, run); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// HandleRunTask is the asynq handler for TypeWorkflowRun. Runs that were
// already claimed are acknowledged without retry.
func (p *Processor) HandleRunTask(ctx context.Context, task *asynq.Task) error {
	var payload runPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode workflow run task: %v: %w", err, asynq.SkipRetry)
	}
	err := p.ProcessRun(ctx, payload.RunID)
	if errors.Is(err, workflowdomain.ErrRunNotClaimable) {
		return nil
	}
	if err != nil {
		// The run row carries the failure; retrying would re-run actions.
		logger.WithContext(ctx, p.log).Warn("workflow task failed",
			zap.String("run_id", payload.RunID.String()),
			zap.Error(err),
		)
	}
	return nil
}
