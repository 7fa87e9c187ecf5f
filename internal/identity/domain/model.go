// Package domain contains core types for the identity service.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// User represents an account held by the identity provider.
type User struct {
	ID                  snowflake.ID      `gorm:"primaryKey"`
	ExternalID          string            `gorm:"column:external_id;type:text;not null;uniqueIndex"`
	Provider            string            `gorm:"column:provider;type:text;not null;default:'local'"`
	Email               string            `gorm:"column:email;not null;uniqueIndex"`
	DisplayName         string            `gorm:"column:display_name;type:text"`
	Role                string            `gorm:"column:role;type:text;not null;default:'customer'"`
	PasswordHash        *string           `gorm:"type:text"`
	EmailConfirmedAt    *time.Time        `gorm:"column:email_confirmed_at"`
	LastPasswordChanged *time.Time        `gorm:"column:last_password_changed"`
	Metadata            datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// Session represents a persisted login session.
type Session struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	UserID           snowflake.ID `gorm:"column:user_id;not null;index"`
	SessionTokenHash string       `gorm:"column:session_token_hash;type:text;not null;uniqueIndex"`
	UserAgent        string       `gorm:"column:user_agent;type:text"`
	IPAddress        string       `gorm:"column:ip_address;type:text"`
	ExpiresAt        time.Time    `gorm:"column:expires_at;not null;index"`
	RevokedAt        *time.Time   `gorm:"column:revoked_at"`
	CreatedAt        time.Time    `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	LastSeenAt       time.Time    `gorm:"column:last_seen_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "sessions" }

// Identity is the minimal authenticated-user record handed to consumers.
// It never exposes credential material.
type Identity struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Name     string         `json:"name"`
	Role     Role           `json:"role"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SessionInfo is the live token bundle as seen by session consumers.
type SessionInfo struct {
	ID        string    `json:"id"`
	Identity  Identity  `json:"identity"`
	RawToken  string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IdentityOf projects a stored user into its consumer-facing identity.
func (u *User) IdentityOf() Identity {
	name := strings.TrimSpace(u.DisplayName)
	if name == "" {
		if v, ok := u.Metadata["name"].(string); ok {
			name = strings.TrimSpace(v)
		}
	}
	if name == "" {
		name = u.Email
	}

	meta := map[string]any{}
	for k, v := range u.Metadata {
		meta[k] = v
	}
	meta["role"] = u.Role
	meta["provider"] = u.Provider

	return Identity{
		ID:       u.ID.String(),
		Email:    u.Email,
		Name:     name,
		Role:     NormalizeRole(u.Role),
		Metadata: meta,
	}
}
