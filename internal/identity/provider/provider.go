// Package provider exposes the identity service through the stateful
// client contract the session manager consumes: ambient session restore,
// sign-in/out, token refresh, and an auth lifecycle event stream.
package provider

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/repairlane/repairlane/internal/identity/domain"
	"github.com/repairlane/repairlane/internal/profilecache"
	"go.uber.org/zap"
)

// TokenKey is where the client persists its raw session token between runs.
const TokenKey = "repairlane_auth_token"

type Config struct {
	// RequireEmailConfirmation controls whether SignUp issues a session
	// immediately or waits for the address to be confirmed.
	RequireEmailConfirmation bool
}

type Provider struct {
	log   *zap.Logger
	svc   domain.Service
	store profilecache.Store
	cfg   Config

	mu       sync.Mutex
	current  *domain.SessionInfo
	handlers map[uint64]domain.AuthEventHandler
	nextID   uint64
}

func New(log *zap.Logger, svc domain.Service, store profilecache.Store, cfg Config) *Provider {
	return &Provider{
		log:      log.Named("identity.provider"),
		svc:      svc,
		store:    store,
		cfg:      cfg,
		handlers: make(map[uint64]domain.AuthEventHandler),
	}
}

// GetSession returns the current session, restoring it from the persisted
// token when the client starts cold. A missing or stale token yields
// (nil, nil) or (nil, transient error) respectively; only infrastructure
// failures are returned as hard errors.
func (p *Provider) GetSession(ctx context.Context) (*domain.SessionInfo, error) {
	p.mu.Lock()
	if p.current != nil {
		session := p.current
		p.mu.Unlock()
		return session, nil
	}
	p.mu.Unlock()

	token, err := p.store.Get(ctx, TokenKey)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}

	session, err := p.svc.Authenticate(ctx, token)
	if err != nil {
		if domain.IsTransientAuthErr(err) {
			_ = p.store.Remove(ctx, TokenKey)
		}
		return nil, err
	}

	user, err := p.svc.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	info := &domain.SessionInfo{
		ID:        session.ID.String(),
		Identity:  user.IdentityOf(),
		RawToken:  token,
		ExpiresAt: session.ExpiresAt,
	}
	p.setCurrent(info)
	return info, nil
}

// SignIn authenticates the credentials, persists the issued token, and
// emits SIGNED_IN.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*domain.SessionInfo, error) {
	result, err := p.svc.Login(ctx, domain.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}

	info := result.SessionInfoOf()
	if err := p.store.Set(ctx, TokenKey, info.RawToken, time.Until(info.ExpiresAt)); err != nil {
		p.log.Warn("session token not persisted", zap.Error(err))
	}
	p.setCurrent(info)
	p.emit(domain.EventSignedIn, info)
	return info, nil
}

// SignUp registers a new account. The returned session is nil when email
// confirmation is required.
func (p *Provider) SignUp(ctx context.Context, name, email, password string, role domain.Role) (*domain.Identity, *domain.SessionInfo, error) {
	user, err := p.svc.CreateUser(ctx, domain.CreateUserRequest{
		Email:       email,
		Password:    password,
		DisplayName: name,
		Role:        role,
	})
	if err != nil {
		return nil, nil, err
	}

	identity := user.IdentityOf()
	if p.cfg.RequireEmailConfirmation {
		return &identity, nil, nil
	}

	info, err := p.SignIn(ctx, email, password)
	if err != nil {
		// Account exists; surface it without a session rather than failing.
		p.log.Warn("post-signup sign-in failed", zap.Error(err))
		return &identity, nil, nil
	}
	return &identity, info, nil
}

// SignOut revokes the current session and emits SIGNED_OUT. The local state
// is cleared even when revocation fails.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	current := p.current
	p.current = nil
	p.mu.Unlock()

	_ = p.store.Remove(ctx, TokenKey)

	var err error
	if current != nil {
		err = p.svc.Logout(ctx, current.RawToken)
	}
	p.emit(domain.EventSignedOut, nil)
	return err
}

// RefreshToken rotates the session token and emits TOKEN_REFRESHED.
func (p *Provider) RefreshToken(ctx context.Context) (*domain.SessionInfo, error) {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()
	if current == nil {
		return nil, domain.ErrInvalidSession
	}

	result, err := p.svc.RefreshToken(ctx, current.RawToken)
	if err != nil {
		return nil, err
	}

	info := result.SessionInfoOf()
	if err := p.store.Set(ctx, TokenKey, info.RawToken, time.Until(info.ExpiresAt)); err != nil {
		p.log.Warn("refreshed token not persisted", zap.Error(err))
	}
	p.setCurrent(info)
	p.emit(domain.EventTokenRefreshed, info)
	return info, nil
}

// UpdateUser applies the change server-side and emits USER_UPDATED.
func (p *Provider) UpdateUser(ctx context.Context, req domain.UpdateUserRequest) (*domain.Identity, error) {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()
	if current == nil {
		return nil, domain.ErrInvalidSession
	}

	user, err := p.svc.UpdateUser(ctx, current.Identity.ID, req)
	if err != nil {
		return nil, err
	}

	identity := user.IdentityOf()
	updated := *current
	updated.Identity = identity
	p.setCurrent(&updated)
	p.emit(domain.EventUserUpdated, &updated)
	return &identity, nil
}

// OnAuthStateChange registers a lifecycle handler and returns its
// unsubscribe function. Handlers run synchronously in event-arrival order.
func (p *Provider) OnAuthStateChange(handler domain.AuthEventHandler) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = handler
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

func (p *Provider) setCurrent(info *domain.SessionInfo) {
	p.mu.Lock()
	p.current = info
	p.mu.Unlock()
}

func (p *Provider) emit(name domain.AuthEventName, session *domain.SessionInfo) {
	p.mu.Lock()
	handlers := make([]domain.AuthEventHandler, 0, len(p.handlers))
	for _, handler := range p.handlers {
		handlers = append(handlers, handler)
	}
	p.mu.Unlock()

	event := domain.AuthEvent{
		ID:      ulid.Make().String(),
		Name:    name,
		Session: session,
		At:      time.Now().UTC(),
	}
	for _, handler := range handlers {
		handler(event)
	}
}

// UserID parses the current session's subject id, if any.
func (p *Provider) UserID() (snowflake.ID, bool) {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()
	if current == nil {
		return 0, false
	}
	id, err := snowflake.ParseString(current.Identity.ID)
	if err != nil {
		return 0, false
	}
	return id, true
}
