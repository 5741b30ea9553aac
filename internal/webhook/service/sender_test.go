package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/clientflow/internal/clock"
	"github.com/smallbiznis/clientflow/internal/config"
	webhookdomain "github.com/smallbiznis/clientflow/internal/webhook/domain"
	"github.com/smallbiznis/clientflow/internal/webhook/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testTenant = snowflake.ID(42)

func setupSender(t *testing.T) (*Sender, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:webhooks_%d?mode=memory&cache=shared", time.Now().UnixNano())), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&webhookdomain.Webhook{}, &webhookdomain.Delivery{}))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	cfg := config.Config{}
	cfg.Webhook.MaxAttempts = 3
	cfg.Webhook.Timeout = time.Second
	cfg.Webhook.Backoff = time.Millisecond

	return NewSender(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Cfg:   cfg,
		Repo:  repository.Provide(),
	}), db
}

func addHook(t *testing.T, db *gorm.DB, id snowflake.ID, url string, events ...string) {
	t.Helper()
	require.NoError(t, db.Create(&webhookdomain.Webhook{
		ID:        id,
		TenantID:  testTenant,
		URL:       url,
		Secret:    "s3cret",
		Events:    datatypes.JSONSlice[string](events),
		IsActive:  true,
		CreatedAt: time.Now(),
	}).Error)
}

func TestSendSignsAndDelivers(t *testing.T) {
	sender, db := setupSender(t)

	type received struct {
		header http.Header
		body   []byte
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	addHook(t, db, 1, srv.URL, webhookdomain.EventBookingCreated)
	addHook(t, db, 2, srv.URL+"/other", webhookdomain.EventClientCreated)

	err := sender.Send(context.Background(), testTenant, webhookdomain.EventBookingCreated, map[string]any{"booking_id": "123"})
	require.NoError(t, err)

	r := <-got
	assert.Equal(t, webhookdomain.EventBookingCreated, r.header.Get(headerEvent))
	ts := r.header.Get(headerTimestamp)
	assert.Equal(t, "sha256="+Sign("s3cret", ts, r.body), r.header.Get(headerSignature))
	assert.NotEmpty(t, r.header.Get(headerID))

	var env map[string]any
	require.NoError(t, json.Unmarshal(r.body, &env))
	assert.Equal(t, webhookdomain.EventBookingCreated, env["event"])

	var deliveries []webhookdomain.Delivery
	require.NoError(t, db.Find(&deliveries).Error)
	require.Len(t, deliveries, 1)
	assert.True(t, deliveries[0].Success)
	assert.Equal(t, http.StatusNoContent, deliveries[0].StatusCode)
}

func TestSendRetriesAndRecordsEachAttempt(t *testing.T) {
	sender, db := setupSender(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	addHook(t, db, 1, srv.URL, webhookdomain.EventWildcard)

	require.NoError(t, sender.Send(context.Background(), testTenant, webhookdomain.EventClientCreated, nil))
	assert.Equal(t, int32(3), calls.Load())

	var deliveries []webhookdomain.Delivery
	require.NoError(t, db.Order("attempts ASC").Find(&deliveries).Error)
	require.Len(t, deliveries, 3)
	assert.False(t, deliveries[0].Success)
	assert.Equal(t, http.StatusBadGateway, deliveries[0].StatusCode)
	assert.True(t, deliveries[2].Success)
}

func TestSendReportsExhaustedRetries(t *testing.T) {
	sender, db := setupSender(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	addHook(t, db, 1, srv.URL, webhookdomain.EventBookingCreated)

	err := sender.Send(context.Background(), testTenant, webhookdomain.EventBookingCreated, nil)
	assert.ErrorIs(t, err, webhookdomain.ErrDeliveryFailed)
}

func TestSendSkipsUnsubscribedAndEmptyEvent(t *testing.T) {
	sender, db := setupSender(t)
	addHook(t, db, 1, "http://127.0.0.1:1", webhookdomain.EventClientCreated)

	require.NoError(t, sender.Send(context.Background(), testTenant, webhookdomain.EventBookingCreated, nil))
	assert.ErrorIs(t, sender.Send(context.Background(), testTenant, " ", nil), webhookdomain.ErrInvalidEvent)

	var count int64
	db.Model(&webhookdomain.Delivery{}).Count(&count)
	assert.Zero(t, count)
}
