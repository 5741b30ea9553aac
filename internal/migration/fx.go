package migration

import (
	"github.com/smallbiznis/clientflow/internal/config"
	"github.com/smallbiznis/clientflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply brings the schema up to date for the configured database.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if kind := db.Kind(cfg.DBType); kind != "postgres" {
		log.Info("auto migrating schema", zap.String("type", kind))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}
