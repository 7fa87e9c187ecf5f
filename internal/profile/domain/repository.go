package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/repairlane/repairlane/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListTechniciansFilter struct {
	Service       string
	City          string
	OnlyAvailable bool
}

type Repository interface {
	InsertProfile(ctx context.Context, db *gorm.DB, profile *Profile) error
	UpdateProfileFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	FindProfile(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Profile, error)
	InsertCustomerProfile(ctx context.Context, db *gorm.DB, profile *CustomerProfile) error
	FindCustomerProfile(ctx context.Context, db *gorm.DB, id snowflake.ID) (*CustomerProfile, error)
	InsertTechnicianProfile(ctx context.Context, db *gorm.DB, profile *TechnicianProfile) error
	FindTechnicianProfile(ctx context.Context, db *gorm.DB, id snowflake.ID) (*TechnicianProfile, error)
	ListTechnicians(ctx context.Context, db *gorm.DB, filter ListTechniciansFilter, page pagination.Pagination) ([]*TechnicianListing, error)
}
