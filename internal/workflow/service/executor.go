package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/clientflow/internal/booking/domain"
	"github.com/smallbiznis/clientflow/internal/clock"
	contactdomain "github.com/smallbiznis/clientflow/internal/contact/domain"
	invoicedomain "github.com/smallbiznis/clientflow/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/clientflow/internal/ledger/domain"
	"github.com/smallbiznis/clientflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/clientflow/internal/observability/metrics"
	"github.com/smallbiznis/clientflow/internal/providers/email"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	tenantdomain "github.com/smallbiznis/clientflow/internal/tenant/domain"
	webhookdomain "github.com/smallbiznis/clientflow/internal/webhook/domain"
	workflowdomain "github.com/smallbiznis/clientflow/internal/workflow/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultNotificationSubject = "Notification from ClientFlow"

type ExecutorParams struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Repo        workflowdomain.Repository
	TenantRepo  tenantdomain.Repository
	ContactRepo contactdomain.Repository
	BookingRepo bookingdomain.Repository
	InvoiceRepo invoicedomain.Repository
	TagSvc      tagdomain.Service
	Email       email.Provider
	Webhooks    webhookdomain.Sender
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

// Executor runs the actions of a workflow and records the run outcome.
type Executor struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	repo        workflowdomain.Repository
	tenantRepo  tenantdomain.Repository
	contactRepo contactdomain.Repository
	bookingRepo bookingdomain.Repository
	invoiceRepo invoicedomain.Repository
	tagSvc      tagdomain.Service
	email       email.Provider
	webhooks    webhookdomain.Sender
	obsMetrics  *obsmetrics.Metrics
}

func NewExecutor(p ExecutorParams) *Executor {
	return &Executor{
		db:          p.DB,
		log:         p.Log.Named("workflow.executor"),
		clock:       p.Clock,
		repo:        p.Repo,
		tenantRepo:  p.TenantRepo,
		contactRepo: p.ContactRepo,
		bookingRepo: p.BookingRepo,
		invoiceRepo: p.InvoiceRepo,
		tagSvc:      p.TagSvc,
		email:       p.Email,
		webhooks:    p.Webhooks,
		obsMetrics:  p.ObsMetrics,
	}
}

// subject is the entity graph an event refers to, loaded once per run.
type subject struct {
	tenant  *tenantdomain.Tenant
	contact *contactdomain.Contact
	booking *bookingdomain.Booking
	invoice *invoicedomain.Invoice
	event   workflowdomain.EventContext
}

// Run executes wf for a claimed run and persists the final status. Failed
// actions are recorded in the run result without failing the run; the run
// fails only when its subject cannot be loaded or an action panics.
func (e *Executor) Run(ctx context.Context, run *workflowdomain.WorkflowRun, wf *workflowdomain.Workflow) error {
	ec := run.TriggerData.Data()
	results, err := e.safeExecute(ctx, wf, ec)

	completedAt := e.clock.Now().UTC()
	run.CompletedAt = &completedAt
	run.Result = datatypes.JSONSlice[workflowdomain.ActionResult](results)
	run.Status = workflowdomain.RunStatusCompleted
	if err != nil {
		run.Status = workflowdomain.RunStatusFailed
		run.Error = err.Error()
	}

	// The run row outlives a timed-out task context.
	if updErr := e.repo.UpdateRun(context.WithoutCancel(ctx), e.db, run); updErr != nil {
		logger.WithContext(ctx, e.log).Warn("failed to persist workflow run",
			zap.String("run_id", run.ID.String()),
			zap.Error(updErr),
		)
	}
	e.obsMetrics.RecordWorkflowRun(ctx, string(wf.TriggerType), string(run.Status))
	return err
}

func (e *Executor) safeExecute(ctx context.Context, wf *workflowdomain.Workflow, ec workflowdomain.EventContext) (results []workflowdomain.ActionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow panicked: %v", r)
		}
	}()
	return e.Execute(ctx, wf, ec)
}

// Execute runs every action of wf in order.
func (e *Executor) Execute(ctx context.Context, wf *workflowdomain.Workflow, ec workflowdomain.EventContext) ([]workflowdomain.ActionResult, error) {
	subj, err := e.loadSubject(ctx, ec)
	if err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx, e.log).With(
		zap.String("workflow_id", wf.ID.String()),
		zap.String("trigger", string(wf.TriggerType)),
	)
	results := make([]workflowdomain.ActionResult, 0, len(wf.Actions))
	for _, action := range wf.Actions {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result := workflowdomain.ActionResult{Type: action.Type, Success: true}
		if err := e.executeAction(ctx, wf, action, subj); err != nil {
			result.Success = false
			result.Error = err.Error()
			log.Warn("workflow action failed", zap.String("action", string(action.Type)), zap.Error(err))
		}
		results = append(results, result)
	}
	return results, nil
}

func (e *Executor) loadSubject(ctx context.Context, ec workflowdomain.EventContext) (*subject, error) {
	tenant, err := e.tenantRepo.FindByID(ctx, e.db, ec.TenantID)
	if err != nil {
		return nil, err
	}
	subj := &subject{tenant: tenant, event: ec}

	if ec.ContactID != 0 {
		contact, err := e.contactRepo.FindByID(ctx, e.db, ec.TenantID, ec.ContactID)
		if err != nil && !errors.Is(err, contactdomain.ErrContactNotFound) {
			return nil, err
		}
		subj.contact = contact
	}
	if ec.BookingID != 0 {
		booking, err := e.bookingRepo.FindByID(ctx, e.db, ec.TenantID, ec.BookingID)
		if err != nil && !errors.Is(err, bookingdomain.ErrBookingNotFound) {
			return nil, err
		}
		subj.booking = booking
	}
	if ec.InvoiceID != 0 {
		invoices, err := e.invoiceRepo.FindByIDs(ctx, e.db, ec.TenantID, []snowflake.ID{ec.InvoiceID})
		if err != nil {
			return nil, err
		}
		if len(invoices) > 0 {
			subj.invoice = &invoices[0]
		}
	}
	return subj, nil
}

func (e *Executor) executeAction(ctx context.Context, wf *workflowdomain.Workflow, action workflowdomain.Action, subj *subject) error {
	switch action.Type {
	case workflowdomain.ActionSendEmail:
		return e.sendEmail(ctx, action, subj)
	case workflowdomain.ActionSendNotification:
		return e.sendNotification(ctx, action, subj)
	case workflowdomain.ActionAddTag, workflowdomain.ActionRemoveTag:
		return e.changeTag(ctx, action, subj)
	case workflowdomain.ActionUpdateStatus:
		return e.updateStatus(ctx, action, subj)
	case workflowdomain.ActionSendWebhook:
		return e.sendWebhook(ctx, wf, action, subj)
	case workflowdomain.ActionWait:
		// Delays are applied when the run is scheduled.
		return nil
	default:
		return fmt.Errorf("%w: %s", workflowdomain.ErrUnknownAction, action.Type)
	}
}

func (e *Executor) sendEmail(ctx context.Context, action workflowdomain.Action, subj *subject) error {
	templateID, ok := configID(action.Config, "template_id")
	if !ok || subj.contact == nil || subj.contact.Email == "" {
		return fmt.Errorf("%w: missing template or client email", workflowdomain.ErrInvalidAction)
	}
	tpl, err := e.repo.FindTemplate(ctx, e.db, subj.tenant.ID, templateID)
	if err != nil {
		return err
	}
	vars := templateVariables(subj)
	return e.email.Send(ctx, []string{subj.contact.Email}, Render(tpl.Subject, vars), Render(tpl.Body, vars))
}

func (e *Executor) sendNotification(ctx context.Context, action workflowdomain.Action, subj *subject) error {
	if strings.TrimSpace(subj.tenant.Email) == "" {
		return fmt.Errorf("%w: missing tenant email", workflowdomain.ErrInvalidAction)
	}
	subjectLine := configString(action.Config, "subject")
	if subjectLine == "" {
		subjectLine = defaultNotificationSubject
	}
	message := configString(action.Config, "message")
	if message == "" {
		message = "You have a new notification"
	}
	vars := templateVariables(subj)
	body := "<p>" + Render(message, vars) + "</p>"
	return e.email.Send(ctx, []string{subj.tenant.Email}, Render(subjectLine, vars), body)
}

func (e *Executor) changeTag(ctx context.Context, action workflowdomain.Action, subj *subject) error {
	tagID, ok := configID(action.Config, "tag_id")
	if !ok || subj.contact == nil {
		return fmt.Errorf("%w: missing tag or client", workflowdomain.ErrInvalidAction)
	}
	if action.Type == workflowdomain.ActionRemoveTag {
		return e.tagSvc.RemoveTag(ctx, nil, tagdomain.EntityContact, subj.contact.ID, tagID, subj.tenant.ID)
	}
	return e.tagSvc.AddTag(ctx, nil, tagdomain.EntityContact, subj.contact.ID, tagID, subj.tenant.ID)
}

// updateStatus moves the booking (default) or the contact to a new status.
func (e *Executor) updateStatus(ctx context.Context, action workflowdomain.Action, subj *subject) error {
	status := configString(action.Config, "status")
	if status == "" {
		return fmt.Errorf("%w: missing status", workflowdomain.ErrInvalidAction)
	}

	if strings.EqualFold(configString(action.Config, "entity"), string(tagdomain.EntityContact)) {
		if subj.contact == nil {
			return fmt.Errorf("%w: missing client", workflowdomain.ErrInvalidAction)
		}
		_, err := e.tagSvc.SetStatusTag(ctx, nil, tagdomain.EntityContact, subj.contact.ID, status, subj.tenant.ID)
		return err
	}

	if subj.booking == nil {
		return fmt.Errorf("%w: missing booking", workflowdomain.ErrInvalidAction)
	}
	next := bookingdomain.BookingStatus(strings.ToLower(status))
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		booking, err := e.bookingRepo.FindForUpdate(ctx, tx, subj.tenant.ID, subj.booking.ID)
		if err != nil {
			return err
		}
		booking.Status = next
		booking.UpdatedAt = e.clock.Now().UTC()
		if err := e.bookingRepo.UpdateLedger(ctx, tx, booking); err != nil {
			return err
		}
		if name, ok := next.StatusTag(); ok {
			if _, err := e.tagSvc.SetStatusTag(ctx, tx, tagdomain.EntityBooking, booking.ID, name, subj.tenant.ID); err != nil {
				return err
			}
		}
		subj.booking = booking
		return nil
	})
}

func (e *Executor) sendWebhook(ctx context.Context, wf *workflowdomain.Workflow, action workflowdomain.Action, subj *subject) error {
	event := configString(action.Config, "event")
	if event == "" {
		event = webhookdomain.EventWorkflowTriggered
	}
	payload := map[string]any{
		"workflow_id":   wf.ID.String(),
		"workflow_name": wf.Name,
		"trigger":       string(wf.TriggerType),
		"context":       subj.event,
	}
	return e.webhooks.Send(ctx, subj.tenant.ID, event, payload)
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Render substitutes {{path}} placeholders from vars. Unknown placeholders
// render empty.
func Render(tpl string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tpl, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		return vars[key]
	})
}

func templateVariables(subj *subject) map[string]string {
	vars := map[string]string{}
	if t := subj.tenant; t != nil {
		vars["business.name"] = t.Name
		vars["business.email"] = t.Email
	}
	if c := subj.contact; c != nil {
		first, last, _ := strings.Cut(strings.TrimSpace(c.Name), " ")
		vars["client.name"] = c.Name
		vars["client.firstName"] = first
		vars["client.lastName"] = strings.TrimSpace(last)
		vars["client.email"] = c.Email
		vars["client.phone"] = c.Phone
	}
	if b := subj.booking; b != nil {
		vars["booking.date"] = b.ScheduledAt.Format("Monday, January 2, 2006")
		vars["booking.time"] = b.ScheduledAt.Format("3:04 PM")
		vars["booking.duration"] = fmt.Sprintf("%d minutes", b.DurationMinutes)
		vars["booking.price"] = ledgerdomain.FormatCents(b.TotalPrice)
		vars["booking.status"] = string(b.Status)
		vars["booking.notes"] = b.Notes
		vars["booking.confirmationNumber"] = confirmationNumber(b.ID)
	}
	if inv := subj.invoice; inv != nil {
		vars["invoice.number"] = inv.InvoiceNumber
		vars["invoice.amount"] = ledgerdomain.FormatCents(inv.Total)
		vars["invoice.balance"] = ledgerdomain.FormatCents(inv.BalanceDue)
		vars["invoice.paidDate"] = formatDate(inv.PaidAt)
		vars["invoice.dueDate"] = formatDate(inv.DueDate)
	}
	return vars
}

func confirmationNumber(id snowflake.ID) string {
	s := strings.ToUpper(id.String())
	if len(s) > 8 {
		s = s[len(s)-8:]
	}
	return s
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("January 2, 2006")
}

func configString(cfg map[string]any, key string) string {
	switch v := cfg[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func configID(cfg map[string]any, key string) (snowflake.ID, bool) {
	raw := configString(cfg, key)
	if raw == "" {
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
