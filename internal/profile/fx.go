package profile

import (
	"github.com/repairlane/repairlane/internal/profile/repository"
	"github.com/repairlane/repairlane/internal/profile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("profile.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
