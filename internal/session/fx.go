package session

import (
	"context"

	"github.com/repairlane/repairlane/internal/clock"
	"github.com/repairlane/repairlane/internal/config"
	"github.com/repairlane/repairlane/internal/identity/provider"
	obsmetrics "github.com/repairlane/repairlane/internal/observability/metrics"
	profiledomain "github.com/repairlane/repairlane/internal/profile/domain"
	"github.com/repairlane/repairlane/internal/profilecache"
	"github.com/repairlane/repairlane/internal/realtime"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Identity *provider.Provider
	Profiles profiledomain.Service
	Cache    profilecache.Cache
	Hub      *realtime.Hub
	Clock    clock.Clock
	Metrics  *obsmetrics.SessionMetrics
	Config   config.Config
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		FreshnessWindow: cfg.ProfileFreshnessWindow,
		FetchTimeout:    cfg.ProfileFetchTimeout,
	}.withDefaults()
}

func New(p Params) *Manager {
	return NewManager(p.Log, p.Identity, p.Profiles, p.Cache, p.Hub, p.Clock, p.Metrics, OptionsFromConfig(p.Config))
}

func registerHooks(lc fx.Lifecycle, m *Manager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			m.Initialize(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			m.Teardown()
			return nil
		},
	})
}

var Module = fx.Module("session.manager",
	fx.Provide(New),
	fx.Invoke(registerHooks),
)
