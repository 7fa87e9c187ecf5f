// Package session owns the authoritative user view for a signed-in client.
// The manager merges the identity record with the stored profile, dedupes
// concurrent profile fetches, paints instantly from cache, and reconciles
// state against the identity provider's lifecycle events.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/repairlane/repairlane/internal/clock"
	identitydomain "github.com/repairlane/repairlane/internal/identity/domain"
	obsmetrics "github.com/repairlane/repairlane/internal/observability/metrics"
	profiledomain "github.com/repairlane/repairlane/internal/profile/domain"
	"github.com/repairlane/repairlane/internal/profilecache"
	"go.uber.org/zap"
)

// Profile reconciliation outcomes recorded per fetch.
const (
	fetchOutcomeSuccess         = "success"
	fetchOutcomeCacheFallback   = "cache_fallback"
	fetchOutcomeMinimalFallback = "minimal_fallback"
)

// IdentityProvider is the slice of the identity client the manager consumes.
type IdentityProvider interface {
	GetSession(ctx context.Context) (*identitydomain.SessionInfo, error)
	SignIn(ctx context.Context, email, password string) (*identitydomain.SessionInfo, error)
	SignUp(ctx context.Context, name, email, password string, role identitydomain.Role) (*identitydomain.Identity, *identitydomain.SessionInfo, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(handler identitydomain.AuthEventHandler) func()
}

// ProfileStore is the profile lookup surface. Lookups return (nil, nil)
// when no record exists.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*profiledomain.Profile, error)
	GetCustomerProfile(ctx context.Context, id string) (*profiledomain.CustomerProfile, error)
	GetTechnicianProfile(ctx context.Context, id string) (*profiledomain.TechnicianProfile, error)
}

// RealtimeHub is notified on sign-out and token refresh so live
// subscriptions follow the session.
type RealtimeHub interface {
	UnsubscribeAll(userID string)
	RefreshAllConnections(token string)
}

// Role-based destinations handed back from Login for the caller to act on.
const (
	DestinationAdmin      = "/admin"
	DestinationTechnician = "/technician"
	DestinationCustomer   = "/dashboard"
	DestinationRoot       = "/"
)

type Options struct {
	// FreshnessWindow bounds redundant profile fetches for the same user.
	FreshnessWindow time.Duration
	// FetchTimeout caps each profile store round trip.
	FetchTimeout time.Duration
	// InitSoftDeadline only triggers a warning log; initialization is never
	// aborted by it.
	InitSoftDeadline time.Duration
}

func DefaultOptions() Options {
	return Options{
		FreshnessWindow:  10 * time.Second,
		FetchTimeout:     12 * time.Second,
		InitSoftDeadline: 5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.FreshnessWindow <= 0 {
		o.FreshnessWindow = def.FreshnessWindow
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = def.FetchTimeout
	}
	if o.InitSoftDeadline <= 0 {
		o.InitSoftDeadline = def.InitSoftDeadline
	}
	return o
}

// Manager holds at most one authenticated user view and keeps it consistent
// with the identity provider's event stream.
type Manager struct {
	log      *zap.Logger
	identity IdentityProvider
	profiles ProfileStore
	cache    profilecache.Cache
	hub      RealtimeHub
	clock    clock.Clock
	metrics  *obsmetrics.SessionMetrics
	opts     Options

	mu          sync.Mutex
	state       State
	session     *identitydomain.SessionInfo
	user        *UserView
	alive       bool
	inFlight    bool
	lastFetchID string
	lastFetchAt time.Time

	subscribers map[uint64]func(Snapshot)
	nextSubID   uint64

	unsubscribeAuth func()
	pending         sync.WaitGroup
}

func NewManager(log *zap.Logger, identity IdentityProvider, profiles ProfileStore, cache profilecache.Cache, hub RealtimeHub, clk clock.Clock, metrics *obsmetrics.SessionMetrics, opts Options) *Manager {
	m := &Manager{
		log:         log.Named("session.manager"),
		identity:    identity,
		profiles:    profiles,
		cache:       cache,
		hub:         hub,
		clock:       clk,
		metrics:     metrics,
		opts:        opts.withDefaults(),
		state:       StateUninitialized,
		alive:       true,
		subscribers: make(map[uint64]func(Snapshot)),
	}
	m.unsubscribeAuth = identity.OnAuthStateChange(m.handleAuthEvent)
	return m
}

// Initialize restores the ambient session and transitions the manager to
// ready. It runs at most once per manager lifetime; later calls are no-ops.
// The profile fetch it triggers never blocks the ready transition.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateUninitialized {
		m.mu.Unlock()
		return
	}
	m.state = StateInitializing
	m.mu.Unlock()
	m.notify()

	started := m.clock.Now()
	info, err := m.identity.GetSession(ctx)
	if elapsed := m.clock.Now().Sub(started); elapsed > m.opts.InitSoftDeadline {
		m.log.Warn("session restore exceeded soft deadline", zap.Duration("elapsed", elapsed))
	}

	if err != nil {
		if identitydomain.IsTransientAuthErr(err) {
			m.log.Warn("session restore skipped", zap.Error(err))
		} else {
			m.log.Error("session restore failed", zap.Error(err))
		}
		m.becomeReady(nil, nil)
		return
	}
	if info == nil {
		m.becomeReady(nil, nil)
		return
	}

	// Instant paint: a cached record beats a minimal view, and either way the
	// ready transition happens before any network fetch.
	view := minimalView(info.Identity)
	if record, cacheErr := m.cache.Get(ctx, info.Identity.ID); cacheErr != nil {
		m.log.Warn("profile cache read failed", zap.Error(cacheErr))
	} else if record != nil {
		view = fullView(info.Identity, record.Profile, record.Extended)
	}
	m.becomeReady(info, view)

	identity := info.Identity
	m.spawn(func() {
		m.fetchProfile(context.Background(), identity, false, "init")
	})
}

func (m *Manager) becomeReady(info *identitydomain.SessionInfo, view *UserView) {
	m.mu.Lock()
	m.state = StateReady
	if info != nil {
		m.session = info
	}
	if view != nil {
		m.user = view
	}
	m.mu.Unlock()
	m.notify()
}

// fetchProfile reconciles the user view against the profile store. The
// freshness guard and the single in-flight slot together guarantee at most
// one store round trip per user per window; a skipped call relies on the
// in-flight call's state update.
func (m *Manager) fetchProfile(ctx context.Context, identity identitydomain.Identity, forceRefresh bool, source string) {
	now := m.clock.Now()

	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	if m.inFlight {
		m.mu.Unlock()
		m.log.Debug("profile fetch already in flight", zap.String("source", source))
		return
	}
	if !forceRefresh && m.lastFetchID == identity.ID && now.Sub(m.lastFetchAt) < m.opts.FreshnessWindow {
		m.mu.Unlock()
		m.log.Debug("profile fetch skipped by freshness guard",
			zap.String("user_id", identity.ID),
			zap.String("source", source),
		)
		return
	}
	// The marker is written before any I/O so a near-simultaneous caller
	// cannot also decide to proceed.
	m.inFlight = true
	m.lastFetchID = identity.ID
	m.lastFetchAt = now
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	defer cancel()

	profile, extended, err := m.loadProfile(fetchCtx, identity)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			m.log.Info("profile fetch timed out", zap.String("user_id", identity.ID))
		} else {
			m.log.Warn("profile fetch failed", zap.String("user_id", identity.ID), zap.Error(err))
		}
		m.adoptFallback(identity)
		return
	}

	final := profile
	if final == nil {
		final = synthesizeProfile(identity)
	}
	view := fullView(identity, final, extended)
	if !m.applyUser(view) {
		return
	}
	m.metrics.RecordProfileFetch(fetchOutcomeSuccess)

	if err := m.cache.Set(context.WithoutCancel(ctx), identity.ID, profilecache.Record{
		Profile:   final,
		Extended:  extended,
		Timestamp: m.clock.Now(),
	}); err != nil {
		m.log.Warn("profile cache write failed", zap.String("user_id", identity.ID), zap.Error(err))
	}
}

// loadProfile fetches the base profile and the role-specific extension
// concurrently.
func (m *Manager) loadProfile(ctx context.Context, identity identitydomain.Identity) (*profiledomain.Profile, *profiledomain.Extended, error) {
	var (
		wg       sync.WaitGroup
		profile  *profiledomain.Profile
		extended *profiledomain.Extended
		baseErr  error
		extErr   error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		profile, baseErr = m.profiles.GetProfile(ctx, identity.ID)
	}()

	switch identity.Role {
	case identitydomain.RoleTechnician:
		wg.Add(1)
		go func() {
			defer wg.Done()
			tech, err := m.profiles.GetTechnicianProfile(ctx, identity.ID)
			if err != nil {
				extErr = err
				return
			}
			if tech != nil {
				extended = &profiledomain.Extended{Technician: tech}
			}
		}()
	case identitydomain.RoleCustomer:
		wg.Add(1)
		go func() {
			defer wg.Done()
			customer, err := m.profiles.GetCustomerProfile(ctx, identity.ID)
			if err != nil {
				extErr = err
				return
			}
			if customer != nil {
				extended = &profiledomain.Extended{Customer: customer}
			}
		}()
	}

	wg.Wait()
	if baseErr != nil {
		return nil, nil, baseErr
	}
	if extErr != nil {
		return nil, nil, extErr
	}
	return profile, extended, nil
}

// adoptFallback recovers from a failed fetch: the cached record if one
// exists, a minimal identity-only view otherwise. Never surfaces an error.
func (m *Manager) adoptFallback(identity identitydomain.Identity) {
	record, err := m.cache.Get(context.Background(), identity.ID)
	if err == nil && record != nil {
		m.applyUser(fullView(identity, record.Profile, record.Extended))
		m.metrics.RecordProfileFetch(fetchOutcomeCacheFallback)
		return
	}
	if err != nil {
		m.log.Warn("profile cache fallback read failed", zap.Error(err))
	}
	m.applyUser(minimalView(identity))
	m.metrics.RecordProfileFetch(fetchOutcomeMinimalFallback)
}

// applyUser publishes a view, preserving pointer identity when the content
// is unchanged. Returns false when the manager was torn down.
func (m *Manager) applyUser(view *UserView) bool {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return false
	}
	if m.user.Equal(view) {
		m.mu.Unlock()
		return true
	}
	m.user = view
	m.mu.Unlock()
	m.notify()
	return true
}

func (m *Manager) handleAuthEvent(event identitydomain.AuthEvent) {
	switch event.Name {
	case identitydomain.EventInitialSession:
		// Initialize owns the first session; nothing to do.
		m.setSession(event.Session)

	case identitydomain.EventSignedIn:
		m.setSession(event.Session)
		if event.Session == nil {
			return
		}
		identity := event.Session.Identity

		m.mu.Lock()
		redundant := m.state == StateReady && m.lastFetchID == identity.ID
		differs := m.user == nil || m.user.ID != identity.ID
		m.mu.Unlock()
		if redundant {
			m.log.Debug("redundant sign-in event skipped", zap.String("user_id", identity.ID))
			return
		}
		if differs {
			m.applyUser(minimalView(identity))
		}
		m.spawn(func() {
			m.fetchProfile(context.Background(), identity, false, "event")
		})

	case identitydomain.EventSignedOut:
		m.mu.Lock()
		var userID string
		if m.user != nil {
			userID = m.user.ID
		} else if m.session != nil {
			userID = m.session.Identity.ID
		}
		m.session = nil
		m.user = nil
		m.lastFetchID = ""
		m.lastFetchAt = time.Time{}
		m.mu.Unlock()

		if err := m.cache.RemoveLegacy(context.Background()); err != nil {
			m.log.Debug("legacy cache key removal failed", zap.Error(err))
		}
		if userID != "" {
			if err := m.cache.Remove(context.Background(), userID); err != nil {
				m.log.Debug("profile cache entry removal failed", zap.Error(err))
			}
			m.hub.UnsubscribeAll(userID)
		}
		m.notify()

	case identitydomain.EventTokenRefreshed:
		m.setSession(event.Session)
		if event.Session != nil {
			m.hub.RefreshAllConnections(event.Session.RawToken)
		}

	case identitydomain.EventUserUpdated:
		m.setSession(event.Session)
		if event.Session == nil {
			return
		}
		identity := event.Session.Identity
		m.spawn(func() {
			// The update is known to have changed server-side data, so this
			// is the one path that bypasses the freshness guard.
			m.fetchProfile(context.Background(), identity, true, "user-updated")
		})
	}
}

func (m *Manager) setSession(info *identitydomain.SessionInfo) {
	m.mu.Lock()
	m.session = info
	m.mu.Unlock()
	m.notify()
}

// LoginResult is returned to the caller instead of an error; failures are
// data for inline display.
type LoginResult struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// Login signs in and returns immediately with a role-based destination; the
// profile fetch completes in the background.
func (m *Manager) Login(ctx context.Context, email, password string) LoginResult {
	info, err := m.identity.SignIn(ctx, email, password)
	if err != nil {
		msg := "Login failed. Please try again."
		if errors.Is(err, identitydomain.ErrInvalidCredentials) {
			msg = "Invalid email or password."
		} else if identitydomain.IsTransientAuthErr(err) {
			m.log.Warn("transient sign-in failure", zap.Error(err))
		} else {
			m.log.Error("sign-in failed", zap.Error(err))
		}
		return LoginResult{Success: false, Error: msg}
	}

	identity := info.Identity
	m.applyUser(minimalView(identity))
	m.spawn(func() {
		m.fetchProfile(context.Background(), identity, false, "login")
	})

	return LoginResult{Success: true, Destination: DestinationFor(minimalView(identity).Role)}
}

// DestinationFor maps a role to its post-login landing path.
func DestinationFor(role identitydomain.Role) string {
	switch role {
	case identitydomain.RoleAdmin:
		return DestinationAdmin
	case identitydomain.RoleTechnician:
		return DestinationTechnician
	default:
		return DestinationCustomer
	}
}

// RegisterResult mirrors LoginResult for sign-up.
type RegisterResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Register creates an account. The message reflects whether a session was
// issued immediately or email confirmation is pending.
func (m *Manager) Register(ctx context.Context, name, email, password string, role identitydomain.Role) RegisterResult {
	_, info, err := m.identity.SignUp(ctx, name, email, password, role)
	if err != nil {
		msg := "Registration failed. Please try again."
		switch {
		case errors.Is(err, identitydomain.ErrUserExists):
			msg = "An account with this email already exists."
		case errors.Is(err, identitydomain.ErrWeakPassword):
			msg = "Password must be at least 8 characters."
		default:
			m.log.Error("sign-up failed", zap.Error(err))
		}
		return RegisterResult{Success: false, Error: msg}
	}

	if info == nil {
		return RegisterResult{Success: true, Message: "Registration successful. Please check your email to confirm your account."}
	}
	return RegisterResult{Success: true, Message: "Registration successful. You are now signed in."}
}

// LogoutResult always carries the redirect target; a failed sign-out must
// still land the user on a safe screen.
type LogoutResult struct {
	Redirect string `json:"redirect"`
	Err      error  `json:"-"`
}

// Logout signs out, clears local state, and directs the caller to the
// application root regardless of the provider outcome.
func (m *Manager) Logout(ctx context.Context) LogoutResult {
	err := m.identity.SignOut(ctx)
	if err != nil {
		m.log.Warn("sign-out failed, clearing local state anyway", zap.Error(err))
	}

	m.mu.Lock()
	m.session = nil
	m.user = nil
	m.lastFetchID = ""
	m.lastFetchAt = time.Time{}
	m.mu.Unlock()
	m.notify()

	return LogoutResult{Redirect: DestinationRoot, Err: err}
}

// RefreshUser re-reads the ambient session and reconciles the profile with
// default freshness semantics. A missing session is a no-op.
func (m *Manager) RefreshUser(ctx context.Context) {
	info, err := m.identity.GetSession(ctx)
	if err != nil {
		if identitydomain.IsTransientAuthErr(err) {
			m.log.Warn("session refresh skipped", zap.Error(err))
		} else {
			m.log.Error("session refresh failed", zap.Error(err))
		}
		return
	}
	if info == nil {
		return
	}
	m.setSession(info)
	m.fetchProfile(ctx, info.Identity, false, "refresh")
}

// HasRole reports whether the current user holds any of the given roles.
func (m *Manager) HasRole(roles ...identitydomain.Role) bool {
	m.mu.Lock()
	user := m.user
	m.mu.Unlock()
	if user == nil {
		return false
	}
	for _, role := range roles {
		if user.Role == role {
			return true
		}
	}
	return false
}

func (m *Manager) IsAdmin() bool      { return m.HasRole(identitydomain.RoleAdmin) }
func (m *Manager) IsTechnician() bool { return m.HasRole(identitydomain.RoleTechnician) }
func (m *Manager) IsCustomer() bool   { return m.HasRole(identitydomain.RoleCustomer) }

func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user != nil
}

// Snapshot returns the current state for consumers.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:   m.state,
		Loading: m.state == StateInitializing,
		User:    m.user,
		Session: m.session,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnChange registers a callback invoked after every published state change
// and returns its unsubscribe function.
func (m *Manager) OnChange(fn func(Snapshot)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// Teardown marks the manager dead. In-flight fetches that resolve afterwards
// discard their results instead of publishing.
func (m *Manager) Teardown() {
	m.mu.Lock()
	m.alive = false
	unsub := m.unsubscribeAuth
	m.unsubscribeAuth = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	m.pending.Wait()
}

func (m *Manager) notify() {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	snapshot := Snapshot{
		State:   m.state,
		Loading: m.state == StateInitializing,
		User:    m.user,
		Session: m.session,
	}
	fns := make([]func(Snapshot), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

func (m *Manager) spawn(fn func()) {
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		fn()
	}()
}

// waitForFetches blocks until background fetches settle. Used in tests.
func (m *Manager) waitForFetches() {
	m.pending.Wait()
}

// synthesizeProfile builds the minimal profile adopted when the store has no
// record for a live identity.
func synthesizeProfile(identity identitydomain.Identity) *profiledomain.Profile {
	role := identity.Role
	if role == identitydomain.RoleUnknown {
		role = identitydomain.RoleCustomer
	}

	name := strings.TrimSpace(identity.Name)
	if name == "" {
		name = identity.Email
	}

	id, err := snowflake.ParseString(identity.ID)
	if err != nil {
		id = 0
	}

	return &profiledomain.Profile{
		ID:          id,
		Role:        role.String(),
		DisplayName: name,
		Email:       identity.Email,
	}
}
