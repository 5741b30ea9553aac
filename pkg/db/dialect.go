package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/clientflow/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Dialect picks the gorm driver for DB_TYPE. Postgres is the production
// target; sqlite backs local runs and tests.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	switch Kind(cfg.DBType) {
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return postgres.Open(dsn), nil
	}
}

// DSN renders the connection string for the configured database type.
func DSN(cfg config.Config) (string, error) {
	switch Kind(cfg.DBType) {
	case "postgres":
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode,
		), nil
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName,
		), nil
	case "sqlite":
		name := strings.TrimSpace(cfg.DBName)
		switch name {
		case "":
			return "clientflow.db?_pragma=foreign_keys(1)", nil
		case ":memory:":
			return "file::memory:?cache=shared&_pragma=foreign_keys(1)", nil
		}
		return name + "?_pragma=foreign_keys(1)", nil
	}
	return "", fmt.Errorf("unsupported database type %q", cfg.DBType)
}

// Kind folds driver aliases onto postgres, mysql or sqlite.
func Kind(t string) string {
	switch t = strings.ToLower(strings.TrimSpace(t)); t {
	case "postgresql", "pgx":
		return "postgres"
	case "sqlite3":
		return "sqlite"
	}
	return t
}
