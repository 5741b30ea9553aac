package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	obscontext "github.com/smallbiznis/clientflow/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsOnlyPresentIDs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithTenantID(context.Background(), "42")
	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "42", fields["tenant_id"])
	assert.NotContains(t, fields, "request_id")
	assert.NotContains(t, fields, "trace_id")
}

func TestWithContextNilSafe(t *testing.T) {
	assert.Nil(t, WithContext(context.Background(), nil))
}

func TestBuildConfigRejectsUnknownLevel(t *testing.T) {
	_, err := buildConfig(Config{Level: "loud"})
	require.Error(t, err)

	cfg, err := buildConfig(Config{Level: "warn", Format: "CONSOLE"})
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.Encoding)
	assert.Equal(t, zapcore.WarnLevel, cfg.Level.Level())
}

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql   string
		op    string
		table string
	}{
		{`SELECT * FROM "bookings" WHERE tenant_id = $1`, "SELECT", "bookings"},
		{`INSERT INTO "payments" ("id") VALUES ($1)`, "INSERT", "payments"},
		{`UPDATE "invoices" SET "status"=$1`, "UPDATE", "invoices"},
		{`DELETE FROM entity_tags WHERE tag_id = ?`, "DELETE", "entity_tags"},
		{`VACUUM`, "UNKNOWN", ""},
	}
	for _, tc := range cases {
		op, table := describeSQL(tc.sql)
		assert.Equal(t, tc.op, op, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func TestGormTraceLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	gl := NewGormLogger(50*time.Millisecond, false)
	stmt := func() (string, int64) { return `SELECT * FROM "tags"`, 3 }
	ctx := context.Background()

	gl.Trace(ctx, time.Now(), stmt, nil)
	gl.Trace(ctx, time.Now(), stmt, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len())

	gl.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	gl.Trace(ctx, time.Now(), stmt, errors.New("boom"))
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[1].Level)
	assert.Equal(t, "tags", logs.All()[1].ContextMap()["table"])

	gl.LogMode(gormlogger.Info).Trace(ctx, time.Now(), stmt, nil)
	assert.Equal(t, 3, logs.Len())
}
