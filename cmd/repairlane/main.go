package main

import (
	"hash/fnv"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/repairlane/repairlane/internal/authorization"
	"github.com/repairlane/repairlane/internal/clock"
	"github.com/repairlane/repairlane/internal/config"
	"github.com/repairlane/repairlane/internal/identity"
	"github.com/repairlane/repairlane/internal/logger"
	"github.com/repairlane/repairlane/internal/migration"
	"github.com/repairlane/repairlane/internal/observability"
	"github.com/repairlane/repairlane/internal/profile"
	"github.com/repairlane/repairlane/internal/profilecache"
	"github.com/repairlane/repairlane/internal/realtime"
	"github.com/repairlane/repairlane/internal/seed"
	"github.com/repairlane/repairlane/internal/server"
	"github.com/repairlane/repairlane/internal/session"
	"github.com/repairlane/repairlane/pkg/db"
	"github.com/repairlane/repairlane/pkg/telemetry"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		config.Module,
		logger.Module,
		clock.Module,
		db.Module,
		observability.Module,
		telemetry.Module,
		migration.Module,
		fx.Provide(registerSnowflake),
		identity.Module,
		profile.Module,
		profilecache.Module,
		realtime.Module,
		session.Module,
		authorization.Module,
		seed.Module,
		server.Module,
	).Run()
}

// registerSnowflake derives a stable node ID from the hostname so replicas
// generate non-colliding IDs.
func registerSnowflake() (*snowflake.Node, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "repairlane"
	}

	h := fnv.New32a()
	h.Write([]byte(hostname))
	return snowflake.NewNode(int64(h.Sum32() % 1024))
}
