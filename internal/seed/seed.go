// Package seed provisions the bootstrap admin account. Admin accounts are
// never self-registered, so a fresh deployment gets its first operator here.
package seed

import (
	"context"
	"errors"
	"strings"

	"github.com/repairlane/repairlane/internal/config"
	identitydomain "github.com/repairlane/repairlane/internal/identity/domain"
	profiledomain "github.com/repairlane/repairlane/internal/profile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Config     config.Config
	Identity   identitydomain.Service
	Repo       identitydomain.Repository
	ProfileSvc profiledomain.Service
}

// EnsureAdmin creates the configured bootstrap admin if it does not exist.
// Without BOOTSTRAP_ADMIN_EMAIL set this is a no-op, except that a first run
// against an empty database gets a warning since nobody could sign in.
func EnsureAdmin(p Params) error {
	log := p.Log.Named("seed")
	ctx := context.Background()

	accounts, err := p.Repo.Count(ctx)
	if err != nil {
		return err
	}

	email := strings.ToLower(strings.TrimSpace(p.Config.BootstrapAdminEmail))
	if email == "" {
		if accounts == 0 {
			log.Warn("database has no accounts and no bootstrap admin is configured")
		}
		return nil
	}
	if p.Config.BootstrapAdminPassword == "" {
		log.Warn("bootstrap admin email set without a password, skipping seed",
			zap.String("email", email))
		return nil
	}

	user, err := p.Identity.CreateUser(ctx, identitydomain.CreateUserRequest{
		Email:       email,
		Password:    p.Config.BootstrapAdminPassword,
		DisplayName: "Administrator",
		Role:        identitydomain.RoleAdmin,
	})
	if err != nil {
		if errors.Is(err, identitydomain.ErrUserExists) {
			log.Debug("bootstrap admin already exists", zap.String("email", email))
			return nil
		}
		return err
	}

	if _, err := p.ProfileSvc.CreateProfile(ctx, profiledomain.CreateProfileRequest{
		ID:          user.ID.String(),
		Role:        identitydomain.RoleAdmin,
		DisplayName: user.DisplayName,
		Email:       user.Email,
	}); err != nil {
		log.Warn("failed to create bootstrap admin profile", zap.Error(err))
	}

	log.Info("bootstrap admin created",
		zap.String("email", email),
		zap.String("user_id", user.ID.String()))
	return nil
}

var Module = fx.Module("seed",
	fx.Invoke(EnsureAdmin),
)
