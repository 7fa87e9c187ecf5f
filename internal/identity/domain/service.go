package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Logout(ctx context.Context, rawToken string) error
	Authenticate(ctx context.Context, rawToken string) (*Session, error)
	RefreshToken(ctx context.Context, rawToken string) (*LoginResult, error)
	ChangePassword(ctx context.Context, userID string, newPassword string) error
	UpdateUser(ctx context.Context, userID string, req UpdateUserRequest) (*User, error)
	FindByID(ctx context.Context, id snowflake.ID) (*User, error)
}

type CreateUserRequest struct {
	Email       string
	Password    string
	DisplayName string
	Role        Role
}

type LoginRequest struct {
	Email     string
	Password  string
	UserAgent string
	IPAddress string
}

type UpdateUserRequest struct {
	DisplayName *string
	Metadata    map[string]any
}

type LoginResult struct {
	User      *User
	RawToken  string
	ExpiresAt time.Time
	SessionID snowflake.ID
}

// SessionInfoOf builds the consumer-facing session bundle for a login result.
func (r *LoginResult) SessionInfoOf() *SessionInfo {
	if r == nil || r.User == nil {
		return nil
	}
	return &SessionInfo{
		ID:        r.SessionID.String(),
		Identity:  r.User.IdentityOf(),
		RawToken:  r.RawToken,
		ExpiresAt: r.ExpiresAt,
	}
}
