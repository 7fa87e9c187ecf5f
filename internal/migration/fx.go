package migration

import (
	"strings"

	"github.com/repairlane/repairlane/internal/config"
	identitydomain "github.com/repairlane/repairlane/internal/identity/domain"
	profiledomain "github.com/repairlane/repairlane/internal/profile/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// The SQL migrations target postgres; other dialects (sqlite for
		// local dev, mysql) fall back to schema auto-migration.
		if strings.EqualFold(cfg.DBType, "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		return conn.AutoMigrate(
			&identitydomain.User{},
			&identitydomain.Session{},
			&profiledomain.Profile{},
			&profiledomain.CustomerProfile{},
			&profiledomain.TechnicianProfile{},
		)
	}),
)
