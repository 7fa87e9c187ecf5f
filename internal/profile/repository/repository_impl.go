package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/repairlane/repairlane/internal/profile/domain"
	"github.com/repairlane/repairlane/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertProfile(ctx context.Context, db *gorm.DB, profile *domain.Profile) error {
	return db.WithContext(ctx).Create(profile).Error
}

func (r *repo) UpdateProfileFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	tx := db.WithContext(ctx).Model(&domain.Profile{}).Where("id = ?", id).Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) FindProfile(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Profile, error) {
	var profile domain.Profile
	err := db.WithContext(ctx).Where("id = ?", id).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repo) InsertCustomerProfile(ctx context.Context, db *gorm.DB, profile *domain.CustomerProfile) error {
	return db.WithContext(ctx).Create(profile).Error
}

func (r *repo) FindCustomerProfile(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.CustomerProfile, error) {
	var profile domain.CustomerProfile
	err := db.WithContext(ctx).Where("id = ?", id).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repo) InsertTechnicianProfile(ctx context.Context, db *gorm.DB, profile *domain.TechnicianProfile) error {
	return db.WithContext(ctx).Create(profile).Error
}

func (r *repo) FindTechnicianProfile(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.TechnicianProfile, error) {
	var profile domain.TechnicianProfile
	err := db.WithContext(ctx).Where("id = ?", id).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repo) ListTechnicians(ctx context.Context, db *gorm.DB, filter domain.ListTechniciansFilter, page pagination.Pagination) ([]*domain.TechnicianListing, error) {
	query := db.WithContext(ctx).Model(&domain.TechnicianProfile{})

	if filter.OnlyAvailable {
		query = query.Where("available = ?", true)
	}
	if filter.Service != "" {
		// JSON array membership; portable LIKE match works on every dialect.
		query = query.Where("services LIKE ?", "%\""+filter.Service+"\"%")
	}

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		if cursor.UpdatedAt != "" {
			at, err := time.Parse(time.RFC3339, cursor.UpdatedAt)
			if err != nil {
				return nil, err
			}
			query = query.Where("updated_at < ?", at)
		}
	}

	limit := page.PageSize
	if limit <= 0 {
		limit = 10
	}

	var techs []*domain.TechnicianProfile
	if err := query.Order("updated_at DESC").Limit(limit + 1).Find(&techs).Error; err != nil {
		return nil, err
	}
	if len(techs) == 0 {
		return nil, nil
	}

	ids := make([]snowflake.ID, 0, len(techs))
	for _, tech := range techs {
		ids = append(ids, tech.ID)
	}
	var profiles []*domain.Profile
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&profiles).Error; err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]*domain.Profile, len(profiles))
	for _, profile := range profiles {
		byID[profile.ID] = profile
	}

	out := make([]*domain.TechnicianListing, 0, len(techs))
	for _, tech := range techs {
		profile := byID[tech.ID]
		if profile == nil {
			continue
		}
		if filter.City != "" && !cityMatches(profile, filter.City) {
			continue
		}
		out = append(out, &domain.TechnicianListing{
			Profile:    *profile,
			Technician: *tech,
		})
	}
	return out, nil
}

func cityMatches(profile *domain.Profile, city string) bool {
	v, ok := profile.Metadata["city"].(string)
	return ok && v == city
}
