package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/repairlane/repairlane/internal/identity/domain"
	"gorm.io/datatypes"
)

// Profile is the base application-level user record, keyed by identity id.
type Profile struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	Role        string            `gorm:"column:role;type:text;not null;default:'customer'" json:"role"`
	DisplayName string            `gorm:"column:display_name;type:text" json:"name"`
	Email       string            `gorm:"column:email;not null;index" json:"email"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

// RoleOf returns the canonical role of the profile.
func (p Profile) RoleOf() identitydomain.Role {
	return identitydomain.NormalizeRole(p.Role)
}

// CustomerProfile is the customer-specific extension, sharing the profile id.
type CustomerProfile struct {
	ID                    snowflake.ID                 `gorm:"primaryKey" json:"id"`
	Address               string                       `gorm:"column:address;type:text" json:"address,omitempty"`
	City                  string                       `gorm:"column:city;type:text" json:"city,omitempty"`
	FavoriteTechnicianIDs datatypes.JSONSlice[string]  `gorm:"column:favorite_technician_ids" json:"favorite_technician_ids,omitempty"`
	CreatedAt             time.Time                    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt             time.Time                    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (CustomerProfile) TableName() string { return "customer_profiles" }

// TechnicianProfile is the technician-specific extension, sharing the profile id.
type TechnicianProfile struct {
	ID              snowflake.ID                `gorm:"primaryKey" json:"id"`
	Handle          string                      `gorm:"column:handle;type:text;not null;uniqueIndex" json:"handle"`
	Services        datatypes.JSONSlice[string] `gorm:"column:services" json:"services,omitempty"`
	HourlyRateCents int64                       `gorm:"column:hourly_rate_cents" json:"hourly_rate_cents"`
	Rating          float64                     `gorm:"column:rating" json:"rating"`
	RatingCount     int                         `gorm:"column:rating_count" json:"rating_count"`
	Available       bool                        `gorm:"column:available;not null;default:true" json:"available"`
	Bio             string                      `gorm:"column:bio;type:text" json:"bio,omitempty"`
	CreatedAt       time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (TechnicianProfile) TableName() string { return "technician_profiles" }

// Extended is the role-tagged extension record. At most one field is set,
// selected by the owning profile's role.
type Extended struct {
	Customer   *CustomerProfile   `json:"customer,omitempty"`
	Technician *TechnicianProfile `json:"technician,omitempty"`
}

// IsZero reports whether no extension is present.
func (e *Extended) IsZero() bool {
	return e == nil || (e.Customer == nil && e.Technician == nil)
}
