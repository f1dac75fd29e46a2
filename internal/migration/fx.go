package migration

import (
	"github.com/smallbiznis/referrals/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply runs the embedded migrations on postgres. Other dialects are
// provisioned out of band.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migrations")
	if cfg.DBType != "" && cfg.DBType != "postgres" {
		log.Warn("embedded migrations target postgres; schema must be provisioned externally",
			zap.String("db_type", cfg.DBType))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	state, err := RunMigrations(sqlDB)
	if err != nil {
		return err
	}
	log.Info("schema up to date", zap.Uint("version", state.Version), zap.Bool("dirty", state.Dirty))
	return nil
}
