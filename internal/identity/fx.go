package identity

import (
	"github.com/repairlane/repairlane/internal/identity/provider"
	"github.com/repairlane/repairlane/internal/identity/repository"
	"github.com/repairlane/repairlane/internal/identity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("identity.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
	fx.Provide(func() provider.Config { return provider.Config{} }),
	fx.Provide(provider.New),
)
