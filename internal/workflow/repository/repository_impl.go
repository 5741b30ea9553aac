package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	workflowdomain "github.com/smallbiznis/clientflow/internal/workflow/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() workflowdomain.Repository {
	return &repo{}
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, trigger workflowdomain.EventName) ([]workflowdomain.Workflow, error) {
	var items []workflowdomain.Workflow
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND trigger_type = ? AND is_active = ?", tenantID, trigger, true).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

func (r *repo) FindWorkflow(ctx context.Context, db *gorm.DB, id snowflake.ID) (*workflowdomain.Workflow, error) {
	var wf workflowdomain.Workflow
	err := db.WithContext(ctx).Where("id = ?", id).Take(&wf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflowdomain.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func (r *repo) InsertRun(ctx context.Context, db *gorm.DB, run *workflowdomain.WorkflowRun) error {
	return db.WithContext(ctx).Create(run).Error
}

func (r *repo) UpdateRun(ctx context.Context, db *gorm.DB, run *workflowdomain.WorkflowRun) error {
	return db.WithContext(ctx).
		Model(&workflowdomain.WorkflowRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"status":       run.Status,
			"result":       run.Result,
			"error":        run.Error,
			"started_at":   run.StartedAt,
			"completed_at": run.CompletedAt,
		}).Error
}

// ClaimRun moves a pending run to running. Only one caller wins the claim.
func (r *repo) ClaimRun(ctx context.Context, db *gorm.DB, id snowflake.ID, startedAt time.Time) (*workflowdomain.WorkflowRun, error) {
	res := db.WithContext(ctx).
		Model(&workflowdomain.WorkflowRun{}).
		Where("id = ? AND status = ?", id, workflowdomain.RunStatusPending).
		Updates(map[string]any{
			"status":     workflowdomain.RunStatusRunning,
			"started_at": startedAt,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, workflowdomain.ErrRunNotClaimable
	}

	var run workflowdomain.WorkflowRun
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repo) DueRuns(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]workflowdomain.WorkflowRun, error) {
	if limit <= 0 {
		limit = 100
	}
	var runs []workflowdomain.WorkflowRun
	err := db.WithContext(ctx).
		Where("status = ? AND scheduled_for IS NOT NULL AND scheduled_for <= ?", workflowdomain.RunStatusPending, now.UTC()).
		Order("scheduled_for ASC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

func (r *repo) FindTemplate(ctx context.Context, db *gorm.DB, tenantID, templateID snowflake.ID) (*workflowdomain.EmailTemplate, error) {
	var tpl workflowdomain.EmailTemplate
	err := db.WithContext(ctx).Where("id = ? AND tenant_id = ?", templateID, tenantID).Take(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflowdomain.ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}
