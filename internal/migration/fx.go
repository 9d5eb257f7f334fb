package migration

import (
	"github.com/fstopclub/fstop/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func runOnStart(cfg config.Config, gdb *gorm.DB, log *zap.Logger) error {
	// Embedded migrations are written for postgres. Other dialects are
	// expected to bring their own schema (tests create it inline).
	if cfg.DBType != "postgres" {
		log.Warn("skipping embedded migrations", zap.String("db_type", cfg.DBType))
		return nil
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("database migrations applied")
	return nil
}

var Module = fx.Module("migration",
	fx.Invoke(runOnStart),
)
