package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger routes gorm output through the context logger. Record-not-found
// is a normal lookup outcome here and is never logged.
type GormLogger struct {
	level gormlogger.LogLevel
	slow  time.Duration
}

// NewGormLogger logs warnings and slower-than-slow statements. Debug mode
// logs every statement.
func NewGormLogger(slow time.Duration, debug bool) *GormLogger {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return &GormLogger{level: level, slow: slow}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	out := *l
	out.level = level
	return &out
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.write(ctx, gormlogger.Info, zap.InfoLevel, msg, zap.Any("data", data))
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.write(ctx, gormlogger.Warn, zap.WarnLevel, msg, zap.Any("data", data))
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.write(ctx, gormlogger.Error, zap.ErrorLevel, msg, zap.Any("data", data))
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	if errors.Is(err, gormlogger.ErrRecordNotFound) {
		err = nil
	}

	threshold, level := gormlogger.Info, zapcore.DebugLevel
	switch {
	case err != nil:
		threshold, level = gormlogger.Error, zapcore.ErrorLevel
	case l.slow > 0 && elapsed > l.slow:
		threshold, level = gormlogger.Warn, zapcore.WarnLevel
	}
	if l.level < threshold {
		return
	}

	sql, rows := fc()
	op, table := describeSQL(sql)
	fields := []zap.Field{
		zap.String("sql", strings.TrimSpace(sql)),
		zap.String("operation", op),
		zap.String("table", table),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.write(ctx, threshold, level, "gorm.query", fields...)
}

// ParamsFilter drops bound values; they carry contact emails and phones.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) write(ctx context.Context, threshold gormlogger.LogLevel, level zapcore.Level, msg string, fields ...zap.Field) {
	if l.level < threshold {
		return
	}
	if ce := FromContext(ctx).Check(level, msg); ce != nil {
		ce.Write(append(fields, zap.String("component", "gorm"))...)
	}
}

// describeSQL returns the statement verb and the first table it names.
func describeSQL(sql string) (op, table string) {
	op, table = "UNKNOWN", ""
	tokens := strings.Fields(sql)
	for i, token := range tokens {
		word := strings.ToUpper(strings.Trim(token, "();"))
		switch word {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			if op == "UNKNOWN" {
				op = word
			}
			if word == "UPDATE" && table == "" && i+1 < len(tokens) {
				table = strings.Trim(tokens[i+1], "\"`")
			}
		case "FROM", "INTO":
			if table == "" && i+1 < len(tokens) {
				table = strings.Trim(tokens[i+1], "\"`(")
			}
		}
		if op != "UNKNOWN" && table != "" {
			break
		}
	}
	return op, table
}

var _ gormlogger.Interface = (*GormLogger)(nil)
