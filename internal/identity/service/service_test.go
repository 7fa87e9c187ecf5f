package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/repairlane/repairlane/internal/clock"
	"github.com/repairlane/repairlane/internal/identity/domain"
	"github.com/repairlane/repairlane/internal/identity/repository"
	"github.com/repairlane/repairlane/pkg/db"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (domain.Service, *clock.FakeClock) {
	t.Helper()

	dbConn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := dbConn.AutoMigrate(&domain.User{}, &domain.Session{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	repo, sessionRepo := repository.New(dbConn)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return New(zap.NewNop(), repo, sessionRepo, node, clk), clk
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)

	user, err := svc.CreateUser(context.Background(), domain.CreateUserRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if user == nil {
		t.Fatal("expected user")
	}

	_, err = svc.Login(context.Background(), domain.LoginRequest{
		Email:    "alice@example.com",
		Password: "wrong-password",
	})
	if err != domain.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestCreateUserDefaults(t *testing.T) {
	svc, _ := newTestService(t)

	user, err := svc.CreateUser(context.Background(), domain.CreateUserRequest{
		Email:    "bob@example.com",
		Password: "strong-password",
	})
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if user.Provider != "local" {
		t.Fatalf("expected provider local, got %s", user.Provider)
	}
	if user.Role != domain.RoleCustomer.String() {
		t.Fatalf("expected customer role, got %s", user.Role)
	}
	if user.DisplayName != "bob" {
		t.Fatalf("expected display name from email local part, got %q", user.DisplayName)
	}
	if _, err := uuid.Parse(user.ExternalID); err != nil {
		t.Fatalf("expected external id UUID, got %v", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.CreateUser(context.Background(), domain.CreateUserRequest{
		Email:    "carol@example.com",
		Password: "strong-password",
	}); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	_, err := svc.CreateUser(context.Background(), domain.CreateUserRequest{
		Email:    "Carol@Example.com",
		Password: "another-password",
	})
	if err != domain.ErrUserExists {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthenticateExpiredSession(t *testing.T) {
	svc, clk := newTestService(t)

	if _, err := svc.CreateUser(context.Background(), domain.CreateUserRequest{
		Email:    "dave@example.com",
		Password: "strong-password",
	}); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	result, err := svc.Login(context.Background(), domain.LoginRequest{
		Email:    "dave@example.com",
		Password: "strong-password",
	})
	if err != nil {
		t.Fatalf("failed to login: %v", err)
	}

	clk.Advance(8 * 24 * time.Hour)

	_, err = svc.Authenticate(context.Background(), result.RawToken)
	if err != domain.ErrSessionExpired {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestRefreshTokenRotates(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.CreateUser(context.Background(), domain.CreateUserRequest{
		Email:    "erin@example.com",
		Password: "strong-password",
	}); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	login, err := svc.Login(context.Background(), domain.LoginRequest{
		Email:    "erin@example.com",
		Password: "strong-password",
	})
	if err != nil {
		t.Fatalf("failed to login: %v", err)
	}

	refreshed, err := svc.RefreshToken(context.Background(), login.RawToken)
	if err != nil {
		t.Fatalf("failed to refresh: %v", err)
	}
	if refreshed.RawToken == login.RawToken {
		t.Fatal("expected a new raw token")
	}
	if refreshed.SessionID != login.SessionID {
		t.Fatal("expected refresh to keep the session row")
	}

	if _, err := svc.Authenticate(context.Background(), login.RawToken); err != domain.ErrInvalidSession {
		t.Fatalf("expected old token to be invalid, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), refreshed.RawToken); err != nil {
		t.Fatalf("expected new token to authenticate, got %v", err)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.CreateUser(context.Background(), domain.CreateUserRequest{
		Email:    "frank@example.com",
		Password: "strong-password",
	}); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	login, err := svc.Login(context.Background(), domain.LoginRequest{
		Email:    "frank@example.com",
		Password: "strong-password",
	})
	if err != nil {
		t.Fatalf("failed to login: %v", err)
	}

	if err := svc.Logout(context.Background(), login.RawToken); err != nil {
		t.Fatalf("failed to logout: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), login.RawToken); err != domain.ErrSessionRevoked {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}
