package migration

import (
	"github.com/smallbiznis/aimeter/internal/config"
	snapshotdomain "github.com/smallbiznis/aimeter/internal/snapshot/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}
		// sqlite and mysql are local-dev conveniences; gorm's migrator is
		// enough to bootstrap the snapshot store there.
		return conn.AutoMigrate(&snapshotdomain.Row{})
	}),
)
