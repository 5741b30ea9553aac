package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/clientflow/internal/clock"
	"github.com/smallbiznis/clientflow/internal/config"
	"github.com/smallbiznis/clientflow/internal/observability/logger"
	"github.com/smallbiznis/clientflow/internal/observability/tracing"
	webhookdomain "github.com/smallbiznis/clientflow/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	headerEvent     = "X-Webhook-Event"
	headerSignature = "X-Webhook-Signature"
	headerTimestamp = "X-Webhook-Timestamp"
	headerID        = "X-Webhook-ID"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config
	Repo  webhookdomain.Repository
}

type Sender struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        webhookdomain.Repository
	client      *http.Client
	maxAttempts int
	backoff     time.Duration
}

func NewSender(p Params) *Sender {
	attempts := p.Cfg.Webhook.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	timeout := p.Cfg.Webhook.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		db:          p.DB,
		log:         p.Log.Named("webhook.sender"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		client:      tracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
		maxAttempts: attempts,
		backoff:     p.Cfg.Webhook.Backoff,
	}
}

// envelope is the JSON body posted to endpoints.
type envelope struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// Send delivers event to each subscribed endpoint in turn. Failures of one
// endpoint do not stop the others; all failures are returned joined.
func (s *Sender) Send(ctx context.Context, tenantID snowflake.ID, event string, data any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return webhookdomain.ErrInvalidEvent
	}
	hooks, err := s.repo.ListActive(ctx, s.db, tenantID)
	if err != nil {
		return err
	}

	var errs []error
	for _, hook := range hooks {
		if !hook.Subscribed(event) {
			continue
		}
		if err := s.deliver(ctx, hook, event, data); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", hook.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sender) deliver(ctx context.Context, hook webhookdomain.Webhook, event string, data any) error {
	now := s.clock.Now().UTC()
	deliveryID := uuid.NewString()
	body, err := json.Marshal(envelope{
		ID:        deliveryID,
		Event:     event,
		Timestamp: now.Unix(),
		Data:      data,
	})
	if err != nil {
		return err
	}
	timestamp := strconv.FormatInt(now.Unix(), 10)
	signature := Sign(hook.Secret, timestamp, body)

	log := logger.WithContext(ctx, s.log).With(
		zap.String("webhook_id", hook.ID.String()),
		zap.String("event", event),
	)

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 && s.backoff > 0 {
			timer := time.NewTimer(time.Duration(attempt-1) * s.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		status, err := s.post(ctx, hook.URL, event, deliveryID, timestamp, signature, body)
		delivery := webhookdomain.Delivery{
			ID:         s.genID.Generate(),
			WebhookID:  hook.ID,
			Event:      event,
			Payload:    datatypes.JSON(body),
			StatusCode: status,
			Success:    err == nil,
			Attempts:   attempt,
			CreatedAt:  s.clock.Now().UTC(),
		}
		if err != nil {
			delivery.Error = err.Error()
		}
		if recErr := s.repo.InsertDelivery(ctx, s.db, &delivery); recErr != nil {
			log.Warn("failed to record webhook delivery", zap.Error(recErr))
		}
		if err == nil {
			log.Debug("webhook delivered", zap.Int("attempt", attempt), zap.Int("status_code", status))
			return nil
		}
		lastErr = err
		log.Warn("webhook attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	return fmt.Errorf("%w: %v", webhookdomain.ErrDeliveryFailed, lastErr)
}

func (s *Sender) post(ctx context.Context, url, event, deliveryID, timestamp, signature string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerEvent, event)
	req.Header.Set(headerSignature, "sha256="+signature)
	req.Header.Set(headerTimestamp, timestamp)
	req.Header.Set(headerID, deliveryID)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return resp.StatusCode, nil
}

// Sign returns the hex HMAC-SHA256 of "{timestamp}.{body}".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
