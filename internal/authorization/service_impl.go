// Package authorization enforces role-based access on the HTTP surface.
// Policies live in the database through the casbin gorm adapter and are
// seeded with the marketplace defaults on startup.
package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	identitydomain "github.com/repairlane/repairlane/internal/identity/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectProfile      = "profile"
	ObjectTechnician   = "technician"
	ObjectUser         = "user"
	ObjectRefundPolicy = "refund_policy"
)

const (
	ActionView   = "view"
	ActionUpdate = "update"
	ActionList   = "list"
	ActionManage = "manage"
)

var (
	ErrForbidden   = errors.New("forbidden")
	ErrInvalidRole = errors.New("invalid_role")
)

type Service interface {
	Authorize(ctx context.Context, role identitydomain.Role, object, action string) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:admin", "*", "*"},
		{"role:technician", ObjectProfile, ActionView},
		{"role:technician", ObjectProfile, ActionUpdate},
		{"role:technician", ObjectTechnician, ActionView},
		{"role:technician", ObjectTechnician, ActionUpdate},
		{"role:technician", ObjectTechnician, ActionList},
		{"role:technician", ObjectRefundPolicy, ActionView},
		{"role:customer", ObjectProfile, ActionView},
		{"role:customer", ObjectProfile, ActionUpdate},
		{"role:customer", ObjectTechnician, ActionView},
		{"role:customer", ObjectTechnician, ActionList},
		{"role:customer", ObjectRefundPolicy, ActionView},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy[0], policy[1], policy[2]); err != nil {
			return err
		}
	}
	return nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(_ context.Context, role identitydomain.Role, object, action string) error {
	if role == identitydomain.RoleUnknown {
		return ErrInvalidRole
	}
	object = strings.TrimSpace(object)
	action = strings.TrimSpace(action)
	if object == "" || action == "" {
		return ErrForbidden
	}

	subject := fmt.Sprintf("role:%s", strings.ToLower(role.String()))
	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("access denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

var Module = fx.Module("authorization",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)
