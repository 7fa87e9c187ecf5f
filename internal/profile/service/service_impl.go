package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	identitydomain "github.com/repairlane/repairlane/internal/identity/domain"
	"github.com/repairlane/repairlane/internal/profile/domain"
	"github.com/repairlane/repairlane/pkg/db"
	"github.com/repairlane/repairlane/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("profile.service"),
		repo: p.Repo,
	}
}

func (s *Service) CreateProfile(ctx context.Context, req domain.CreateProfileRequest) (*domain.Profile, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidEmail
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}

	role := req.Role
	if role == identitydomain.RoleUnknown {
		role = identitydomain.RoleCustomer
	}

	now := time.Now().UTC()
	profile := &domain.Profile{
		ID:          id,
		Role:        role.String(),
		DisplayName: name,
		Email:       email,
		Metadata:    datatypes.JSONMap{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertProfile(ctx, s.db, profile); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrProfileExists
		}
		return nil, err
	}

	switch role {
	case identitydomain.RoleTechnician:
		tech := &domain.TechnicianProfile{
			ID:        id,
			Handle:    s.technicianHandle(name, id),
			Services:  datatypes.JSONSlice[string]{},
			Available: true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.InsertTechnicianProfile(ctx, s.db, tech); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return nil, domain.ErrProfileExists
			}
			return nil, err
		}
	case identitydomain.RoleCustomer:
		customer := &domain.CustomerProfile{
			ID:                    id,
			FavoriteTechnicianIDs: datatypes.JSONSlice[string]{},
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := s.repo.InsertCustomerProfile(ctx, s.db, customer); err != nil {
			return nil, err
		}
	}

	return profile, nil
}

func (s *Service) UpdateProfile(ctx context.Context, req domain.UpdateProfileRequest) (*domain.Profile, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{"updated_at": time.Now().UTC()}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		fields["display_name"] = name
	}
	if req.Metadata != nil {
		fields["metadata"] = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.UpdateProfileFields(ctx, s.db, id, fields); err != nil {
		return nil, err
	}

	return s.repo.FindProfile(ctx, s.db, id)
}

func (s *Service) GetProfile(ctx context.Context, rawID string) (*domain.Profile, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}
	return s.repo.FindProfile(ctx, s.db, id)
}

func (s *Service) GetCustomerProfile(ctx context.Context, rawID string) (*domain.CustomerProfile, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}
	return s.repo.FindCustomerProfile(ctx, s.db, id)
}

func (s *Service) GetTechnicianProfile(ctx context.Context, rawID string) (*domain.TechnicianProfile, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}
	return s.repo.FindTechnicianProfile(ctx, s.db, id)
}

func (s *Service) ListTechnicians(ctx context.Context, req domain.ListTechniciansRequest) (domain.ListTechniciansResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.ListTechnicians(ctx, s.db, domain.ListTechniciansFilter{
		Service:       strings.TrimSpace(req.Service),
		City:          strings.TrimSpace(req.City),
		OnlyAvailable: req.OnlyAvailable,
	}, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  int(pageSize),
	})
	if err != nil {
		return domain.ListTechniciansResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *domain.TechnicianListing) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.Profile.ID.String(),
			UpdatedAt: item.Technician.UpdatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	listings := make([]domain.TechnicianListing, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		listings = append(listings, *item)
	}
	listings = domain.DedupeTechnicians(listings)

	resp := domain.ListTechniciansResponse{Technicians: listings}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) technicianHandle(name string, id snowflake.ID) string {
	base := slug.Make(name)
	if base == "" {
		base = "technician"
	}
	// Suffix with the id tail to keep handles unique without a lookup loop.
	raw := id.String()
	if len(raw) > 6 {
		raw = raw[len(raw)-6:]
	}
	return fmt.Sprintf("%s-%s", base, raw)
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
