package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventName is the trigger type an automation subscribes to.
type EventName string

const (
	EventPaymentReceived    EventName = "payment_received"
	EventInvoicePaid        EventName = "invoice_paid"
	EventInvoiceDepositPaid EventName = "invoice_deposit_paid"
	EventBookingScheduled   EventName = "booking_scheduled"
	EventBookingCreated     EventName = "booking_created"
	EventLeadCreated        EventName = "lead_created"
	EventPaymentRefunded    EventName = "payment_refunded"
)

// EventContext carries the entities relevant to an event. Zero ids are absent.
type EventContext struct {
	TenantID  snowflake.ID   `json:"tenant_id"`
	ContactID snowflake.ID   `json:"contact_id,omitempty"`
	InvoiceID snowflake.ID   `json:"invoice_id,omitempty"`
	BookingID snowflake.ID   `json:"booking_id,omitempty"`
	PaymentID snowflake.ID   `json:"payment_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Dispatcher triggers automations without blocking the caller. Dispatch
// never reports errors; failures are logged by the implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, event EventName, ec EventContext)
}

type ActionType string

const (
	ActionSendEmail        ActionType = "send_email"
	ActionSendNotification ActionType = "send_notification"
	ActionAddTag           ActionType = "add_tag"
	ActionRemoveTag        ActionType = "remove_tag"
	ActionUpdateStatus     ActionType = "update_status"
	ActionSendWebhook      ActionType = "send_webhook"
	ActionWait             ActionType = "wait"
)

// Action is one step of a workflow. Config keys depend on Type.
type Action struct {
	Type   ActionType     `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

type Workflow struct {
	ID           snowflake.ID                `json:"id" gorm:"primaryKey"`
	TenantID     snowflake.ID                `json:"tenant_id" gorm:"not null;index:ix_workflows_trigger,priority:1"`
	Name         string                      `json:"name" gorm:"type:text;not null"`
	TriggerType  EventName                   `json:"trigger_type" gorm:"type:text;not null;index:ix_workflows_trigger,priority:2"`
	IsActive     bool                        `json:"is_active" gorm:"not null;default:true"`
	DelayMinutes int                         `json:"delay_minutes" gorm:"not null;default:0"`
	Actions      datatypes.JSONSlice[Action] `json:"actions" gorm:"type:jsonb;not null"`
	CreatedAt    time.Time                   `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time                   `json:"updated_at" gorm:"not null"`
}

func (Workflow) TableName() string { return "workflows" }

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ActionResult records the outcome of one executed action.
type ActionResult struct {
	Type    ActionType `json:"type"`
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
}

type WorkflowRun struct {
	ID           snowflake.ID                      `json:"id" gorm:"primaryKey"`
	WorkflowID   snowflake.ID                      `json:"workflow_id" gorm:"not null;index"`
	TenantID     snowflake.ID                      `json:"tenant_id" gorm:"not null;index"`
	ContactID    *snowflake.ID                     `json:"contact_id,omitempty"`
	Status       RunStatus                         `json:"status" gorm:"type:text;not null;index:ix_workflow_runs_due,priority:1"`
	TriggerData  datatypes.JSONType[EventContext]  `json:"trigger_data" gorm:"type:jsonb"`
	Result       datatypes.JSONSlice[ActionResult] `json:"result" gorm:"type:jsonb"`
	Error        string                            `json:"error,omitempty" gorm:"type:text"`
	ScheduledFor *time.Time                        `json:"scheduled_for,omitempty" gorm:"index:ix_workflow_runs_due,priority:2"`
	StartedAt    *time.Time                        `json:"started_at,omitempty"`
	CompletedAt  *time.Time                        `json:"completed_at,omitempty"`
	CreatedAt    time.Time                         `json:"created_at" gorm:"not null"`
}

func (WorkflowRun) TableName() string { return "workflow_runs" }

type EmailTemplate struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID  snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	Subject   string       `json:"subject" gorm:"type:text;not null"`
	Body      string       `json:"body" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (EmailTemplate) TableName() string { return "email_templates" }

type Repository interface {
	ListActive(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, trigger EventName) ([]Workflow, error)
	FindWorkflow(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Workflow, error)
	InsertRun(ctx context.Context, db *gorm.DB, run *WorkflowRun) error
	UpdateRun(ctx context.Context, db *gorm.DB, run *WorkflowRun) error
	ClaimRun(ctx context.Context, db *gorm.DB, id snowflake.ID, startedAt time.Time) (*WorkflowRun, error)
	DueRuns(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]WorkflowRun, error)
	FindTemplate(ctx context.Context, db *gorm.DB, tenantID, templateID snowflake.ID) (*EmailTemplate, error)
}

var (
	ErrWorkflowNotFound = errors.New("workflow_not_found")
	ErrRunNotClaimable  = errors.New("workflow_run_not_claimable")
	ErrTemplateNotFound = errors.New("email_template_not_found")
	ErrUnknownAction    = errors.New("unknown_workflow_action")
	ErrInvalidAction    = errors.New("invalid_workflow_action")
)
