package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/repairlane/repairlane/internal/clock"
	identitydomain "github.com/repairlane/repairlane/internal/identity/domain"
	obsmetrics "github.com/repairlane/repairlane/internal/observability/metrics"
	profiledomain "github.com/repairlane/repairlane/internal/profile/domain"
	"github.com/repairlane/repairlane/internal/profilecache"
	"go.uber.org/zap"
)

type fakeProvider struct {
	mu         sync.Mutex
	session    *identitydomain.SessionInfo
	sessionErr error
	signInInfo *identitydomain.SessionInfo
	signInErr  error
	signUpInfo *identitydomain.SessionInfo
	signUpErr  error
	signOutErr error
	handlers   []identitydomain.AuthEventHandler
}

func (f *fakeProvider) GetSession(context.Context) (*identitydomain.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.sessionErr
}

func (f *fakeProvider) SignIn(context.Context, string, string) (*identitydomain.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signInInfo, f.signInErr
}

func (f *fakeProvider) SignUp(_ context.Context, _, email, _ string, role identitydomain.Role) (*identitydomain.Identity, *identitydomain.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signUpErr != nil {
		return nil, nil, f.signUpErr
	}
	return &identitydomain.Identity{ID: "new", Email: email, Role: role}, f.signUpInfo, nil
}

func (f *fakeProvider) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOutErr
}

func (f *fakeProvider) OnAuthStateChange(handler identitydomain.AuthEventHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler)
	return func() {}
}

func (f *fakeProvider) emit(name identitydomain.AuthEventName, session *identitydomain.SessionInfo) {
	f.mu.Lock()
	handlers := append([]identitydomain.AuthEventHandler(nil), f.handlers...)
	f.mu.Unlock()
	for _, handler := range handlers {
		handler(identitydomain.AuthEvent{Name: name, Session: session, At: time.Now()})
	}
}

type fakeProfiles struct {
	mu         sync.Mutex
	profile    *profiledomain.Profile
	profileErr error
	technician *profiledomain.TechnicianProfile
	customer   *profiledomain.CustomerProfile
	baseCalls  int

	// When set, GetProfile signals entered and blocks until release closes.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeProfiles) GetProfile(context.Context, string) (*profiledomain.Profile, error) {
	f.mu.Lock()
	f.baseCalls++
	entered, release := f.entered, f.release
	profile, err := f.profile, f.profileErr
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	return profile, err
}

func (f *fakeProfiles) GetCustomerProfile(context.Context, string) (*profiledomain.CustomerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.customer, nil
}

func (f *fakeProfiles) GetTechnicianProfile(context.Context, string) (*profiledomain.TechnicianProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.technician, nil
}

func (f *fakeProfiles) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.baseCalls
}

type fakeHub struct {
	mu           sync.Mutex
	unsubscribed []string
	refreshed    []string
}

func (f *fakeHub) UnsubscribeAll(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, userID)
}

func (f *fakeHub) RefreshAllConnections(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, token)
}

func testIdentity(id string, role identitydomain.Role) identitydomain.Identity {
	return identitydomain.Identity{ID: id, Email: "t@x.com", Name: "Terry", Role: role}
}

func testSession(id string, role identitydomain.Role) *identitydomain.SessionInfo {
	return &identitydomain.SessionInfo{
		ID:        "sess-" + id,
		Identity:  testIdentity(id, role),
		RawToken:  "token-" + id,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

type harness struct {
	manager  *Manager
	provider *fakeProvider
	profiles *fakeProfiles
	store    *profilecache.MemoryStore
	cache    profilecache.Cache
	hub      *fakeHub
	clock    *clock.FakeClock
	registry *prometheus.Registry
}

func newHarness(t *testing.T, provider *fakeProvider, profiles *fakeProfiles) *harness {
	t.Helper()

	store := profilecache.NewMemoryStore()
	cache := profilecache.New(store, zap.NewNop(), time.Hour)
	hub := &fakeHub{}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	registry := prometheus.NewRegistry()
	metrics := obsmetrics.NewSessionMetrics(registry)
	manager := NewManager(zap.NewNop(), provider, profiles, cache, hub, clk, metrics, DefaultOptions())

	return &harness{
		manager:  manager,
		provider: provider,
		profiles: profiles,
		store:    store,
		cache:    cache,
		hub:      hub,
		clock:    clk,
		registry: registry,
	}
}

func (h *harness) fetchCounts(t *testing.T) map[string]float64 {
	t.Helper()

	counts := map[string]float64{}
	families, err := h.registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != "repairlane_profile_fetches_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" {
					counts[label.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	return counts
}

func TestDuplicateSignInEventsIssueOneFetch(t *testing.T) {
	provider := &fakeProvider{}
	profiles := &fakeProfiles{profile: &profiledomain.Profile{Role: "customer", DisplayName: "Terry", Email: "t@x.com"}}
	h := newHarness(t, provider, profiles)

	h.manager.Initialize(context.Background())
	h.manager.waitForFetches()

	session := testSession("u1", identitydomain.RoleCustomer)
	provider.emit(identitydomain.EventSignedIn, session)
	provider.emit(identitydomain.EventSignedIn, session)
	provider.emit(identitydomain.EventSignedIn, session)
	h.manager.waitForFetches()

	if got := profiles.calls(); got != 1 {
		t.Fatalf("expected exactly 1 profile fetch, got %d", got)
	}
}

func TestConcurrentFetchSingleFlight(t *testing.T) {
	provider := &fakeProvider{}
	profiles := &fakeProfiles{
		profile: &profiledomain.Profile{Role: "admin"},
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	h := newHarness(t, provider, profiles)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.manager.fetchProfile(context.Background(), testIdentity("u1", identitydomain.RoleAdmin), false, "first")
	}()
	<-profiles.entered

	// Force bypasses the freshness guard; the in-flight slot must still win.
	h.manager.fetchProfile(context.Background(), testIdentity("u1", identitydomain.RoleAdmin), true, "second")
	if got := profiles.calls(); got != 1 {
		t.Fatalf("expected the second call to be a no-op, got %d fetches", got)
	}

	close(profiles.release)
	<-done
}

func TestFreshnessGuardAndForceRefresh(t *testing.T) {
	provider := &fakeProvider{}
	profiles := &fakeProfiles{profile: &profiledomain.Profile{Role: "admin"}}
	h := newHarness(t, provider, profiles)
	identity := testIdentity("u1", identitydomain.RoleAdmin)

	h.manager.fetchProfile(context.Background(), identity, false, "a")
	h.manager.fetchProfile(context.Background(), identity, false, "b")
	if got := profiles.calls(); got != 1 {
		t.Fatalf("expected freshness guard to skip the second call, got %d", got)
	}

	h.manager.fetchProfile(context.Background(), identity, true, "forced")
	if got := profiles.calls(); got != 2 {
		t.Fatalf("expected forced refresh to fetch, got %d", got)
	}

	h.clock.Advance(11 * time.Second)
	h.manager.fetchProfile(context.Background(), identity, false, "later")
	if got := profiles.calls(); got != 3 {
		t.Fatalf("expected fetch after window elapsed, got %d", got)
	}
}

func TestRefreshUserWithoutSessionIsNoop(t *testing.T) {
	provider := &fakeProvider{}
	profiles := &fakeProfiles{}
	h := newHarness(t, provider, profiles)

	h.manager.RefreshUser(context.Background())
	if got := profiles.calls(); got != 0 {
		t.Fatalf("expected no fetches without a session, got %d", got)
	}
	if h.manager.IsAuthenticated() {
		t.Fatal("expected unauthenticated manager")
	}
}

func TestFetchWritesCacheAndPaintsOnRestart(t *testing.T) {
	provider := &fakeProvider{}
	profiles := &fakeProfiles{profile: &profiledomain.Profile{Role: "customer", DisplayName: "Terry", Email: "t@x.com"}}
	h := newHarness(t, provider, profiles)

	h.manager.fetchProfile(context.Background(), testIdentity("u1", identitydomain.RoleCustomer), false, "test")

	record, err := h.cache.Get(context.Background(), "u1")
	if err != nil || record == nil {
		t.Fatalf("expected cache entry after fetch, got %v / %v", record, err)
	}
	if record.Profile.DisplayName != "Terry" {
		t.Fatalf("unexpected cached profile: %+v", record.Profile)
	}

	// A fresh manager with an unreachable store paints the cached view.
	restartProvider := &fakeProvider{session: testSession("u1", identitydomain.RoleCustomer)}
	failing := &fakeProfiles{profileErr: errors.New("store down")}
	restarted := NewManager(zap.NewNop(), restartProvider, failing, h.cache, &fakeHub{}, h.clock, nil, DefaultOptions())

	restarted.Initialize(context.Background())
	restarted.waitForFetches()

	snapshot := restarted.Snapshot()
	if snapshot.User == nil || snapshot.User.Completeness != ViewFull {
		t.Fatalf("expected a full view from cache, got %+v", snapshot.User)
	}
	if snapshot.User.Profile.DisplayName != "Terry" {
		t.Fatalf("expected cached profile content, got %+v", snapshot.User.Profile)
	}
}

func TestProfileFetchOutcomesCounted(t *testing.T) {
	provider := &fakeProvider{}
	profiles := &fakeProfiles{profile: &profiledomain.Profile{Role: "customer", DisplayName: "Terry", Email: "t@x.com"}}
	h := newHarness(t, provider, profiles)
	identity := testIdentity("u1", identitydomain.RoleCustomer)

	h.manager.fetchProfile(context.Background(), identity, false, "test")
	if counts := h.fetchCounts(t); counts["success"] != 1 {
		t.Fatalf("expected 1 success, got %v", counts)
	}

	// The first fetch cached the profile, so a failing store falls back to it.
	profiles.mu.Lock()
	profiles.profileErr = errors.New("store down")
	profiles.mu.Unlock()
	h.manager.fetchProfile(context.Background(), identity, true, "test")
	if counts := h.fetchCounts(t); counts["cache_fallback"] != 1 {
		t.Fatalf("expected 1 cache fallback, got %v", counts)
	}

	if err := h.cache.Remove(context.Background(), identity.ID); err != nil {
		t.Fatalf("remove cache entry: %v", err)
	}
	h.manager.fetchProfile(context.Background(), identity, true, "test")
	if counts := h.fetchCounts(t); counts["minimal_fallback"] != 1 {
		t.Fatalf("expected 1 minimal fallback, got %v", counts)
	}
}

func TestMissingProfileSynthesizesTechnician(t *testing.T) {
	provider := &fakeProvider{}
	profiles := &fakeProfiles{technician: &profiledomain.TechnicianProfile{Handle: "terry-fix"}}
	h := newHarness(t, provider, profiles)

	h.manager.fetchProfile(context.Background(), testIdentity("u1", identitydomain.RoleTechnician), false, "test")

	snapshot := h.manager.Snapshot()
	if snapshot.User == nil {
		t.Fatal("expected a user view")
	}
	if snapshot.User.Role != identitydomain.RoleTechnician {
		t.Fatalf("expected synthesized technician role, got %s", snapshot.User.Role)
	}
	if snapshot.User.Name != "Terry" {
		t.Fatalf("expected name fallback from identity, got %q", snapshot.User.Name)
	}
	if snapshot.User.Extended == nil || snapshot.User.Extended.Technician == nil {
		t.Fatal("expected technician extension on the view")
	}
}

func TestSignedOutClearsStateAndFetchMarker(t *testing.T) {
	provider := &fakeProvider{}
	profiles := &fakeProfiles{profile: &profiledomain.Profile{Role: "customer"}}
	h := newHarness(t, provider, profiles)
	h.manager.Initialize(context.Background())

	session := testSession("u1", identitydomain.RoleCustomer)
	provider.emit(identitydomain.EventSignedIn, session)
	h.manager.waitForFetches()
	if !h.manager.IsAuthenticated() {
		t.Fatal("expected authenticated manager after sign-in")
	}

	provider.emit(identitydomain.EventSignedOut, nil)

	snapshot := h.manager.Snapshot()
	if snapshot.User != nil || snapshot.Session != nil {
		t.Fatalf("expected cleared state, got %+v", snapshot)
	}
	h.hub.mu.Lock()
	unsubscribed := append([]string(nil), h.hub.unsubscribed...)
	h.hub.mu.Unlock()
	if len(unsubscribed) != 1 || unsubscribed[0] != "u1" {
		t.Fatalf("expected realtime teardown for u1, got %v", unsubscribed)
	}
	if record, err := h.cache.Get(context.Background(), "u1"); err != nil || record != nil {
		t.Fatalf("expected cache entry cleared on sign-out, got %v / %v", record, err)
	}

	// The marker is gone, so a repeat sign-in for the same id fetches again.
	provider.emit(identitydomain.EventSignedIn, session)
	h.manager.waitForFetches()
	if got := profiles.calls(); got != 2 {
		t.Fatalf("expected a fresh fetch after sign-out, got %d", got)
	}
}

func TestSignInPaintsMinimalThenFull(t *testing.T) {
	provider := &fakeProvider{}
	profiles := &fakeProfiles{
		profile:    &profiledomain.Profile{Role: "technician", DisplayName: "Terry T", Email: "t@x.com"},
		technician: &profiledomain.TechnicianProfile{Handle: "terry-fix"},
		entered:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
	h := newHarness(t, provider, profiles)
	h.manager.Initialize(context.Background())

	provider.emit(identitydomain.EventSignedIn, testSession("u1", identitydomain.RoleTechnician))

	snapshot := h.manager.Snapshot()
	if snapshot.User == nil || snapshot.User.Completeness != ViewMinimal {
		t.Fatalf("expected an immediate minimal view, got %+v", snapshot.User)
	}
	if snapshot.User.ID != "u1" || snapshot.User.Role != identitydomain.RoleTechnician {
		t.Fatalf("unexpected minimal view: %+v", snapshot.User)
	}

	<-profiles.entered
	close(profiles.release)
	h.manager.waitForFetches()

	snapshot = h.manager.Snapshot()
	if snapshot.User == nil || snapshot.User.Completeness != ViewFull {
		t.Fatalf("expected a full view after fetch, got %+v", snapshot.User)
	}
	if snapshot.User.Name != "Terry T" {
		t.Fatalf("expected profile name on full view, got %q", snapshot.User.Name)
	}
}

func TestFetchFailureAdoptsCachedEntry(t *testing.T) {
	provider := &fakeProvider{}
	profiles := &fakeProfiles{profileErr: errors.New("network down")}
	h := newHarness(t, provider, profiles)

	cached := &profiledomain.Profile{Role: "customer", DisplayName: "Cached Terry", Email: "t@x.com"}
	if err := h.cache.Set(context.Background(), "u2", profilecache.Record{
		Profile:   cached,
		Timestamp: h.clock.Now().Add(-5 * time.Minute),
	}); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}

	h.manager.fetchProfile(context.Background(), testIdentity("u2", identitydomain.RoleCustomer), false, "test")

	snapshot := h.manager.Snapshot()
	if snapshot.User == nil || snapshot.User.Profile == nil {
		t.Fatalf("expected cached view, got %+v", snapshot.User)
	}
	if snapshot.User.Profile.DisplayName != "Cached Terry" {
		t.Fatalf("expected cached profile adopted, got %+v", snapshot.User.Profile)
	}
}

func TestLoginInvalidCredentialsReturnsFailure(t *testing.T) {
	provider := &fakeProvider{signInErr: identitydomain.ErrInvalidCredentials}
	h := newHarness(t, provider, &fakeProfiles{})

	result := h.manager.Login(context.Background(), "a@b.com", "wrong")
	if result.Success {
		t.Fatal("expected failed login")
	}
	if result.Error == "" {
		t.Fatal("expected a user-facing error message")
	}
}

func TestLoginReturnsRoleDestination(t *testing.T) {
	cases := []struct {
		role identitydomain.Role
		want string
	}{
		{identitydomain.RoleAdmin, DestinationAdmin},
		{identitydomain.RoleTechnician, DestinationTechnician},
		{identitydomain.RoleCustomer, DestinationCustomer},
	}
	for _, tc := range cases {
		provider := &fakeProvider{signInInfo: testSession("u1", tc.role)}
		h := newHarness(t, provider, &fakeProfiles{profile: &profiledomain.Profile{Role: tc.role.String()}})

		result := h.manager.Login(context.Background(), "a@b.com", "password")
		h.manager.waitForFetches()
		if !result.Success {
			t.Fatalf("expected successful login for %s", tc.role)
		}
		if result.Destination != tc.want {
			t.Fatalf("role %s: expected destination %q, got %q", tc.role, tc.want, result.Destination)
		}
	}
}

func TestRegisterMessageReflectsConfirmation(t *testing.T) {
	pending := &fakeProvider{}
	h := newHarness(t, pending, &fakeProfiles{})
	result := h.manager.Register(context.Background(), "Terry", "t@x.com", "password1", identitydomain.RoleCustomer)
	if !result.Success || result.Message == "" {
		t.Fatalf("expected success with message, got %+v", result)
	}
	pendingMsg := result.Message

	immediate := &fakeProvider{signUpInfo: testSession("u3", identitydomain.RoleCustomer)}
	h = newHarness(t, immediate, &fakeProfiles{})
	result = h.manager.Register(context.Background(), "Terry", "t@x.com", "password1", identitydomain.RoleCustomer)
	if !result.Success || result.Message == pendingMsg {
		t.Fatalf("expected a distinct signed-in message, got %+v", result)
	}
}

func TestLogoutRedirectsEvenOnFailure(t *testing.T) {
	provider := &fakeProvider{signOutErr: errors.New("provider unreachable")}
	h := newHarness(t, provider, &fakeProfiles{})

	h.manager.applyUser(minimalView(testIdentity("u1", identitydomain.RoleCustomer)))

	result := h.manager.Logout(context.Background())
	if result.Redirect != DestinationRoot {
		t.Fatalf("expected root redirect, got %q", result.Redirect)
	}
	if result.Err == nil {
		t.Fatal("expected the sign-out error to be reported")
	}
	if h.manager.IsAuthenticated() {
		t.Fatal("expected local state cleared despite provider failure")
	}
}

func TestTokenRefreshedNotifiesHubWithoutRefetch(t *testing.T) {
	provider := &fakeProvider{}
	profiles := &fakeProfiles{}
	h := newHarness(t, provider, profiles)

	session := testSession("u1", identitydomain.RoleCustomer)
	provider.emit(identitydomain.EventTokenRefreshed, session)

	h.hub.mu.Lock()
	refreshed := append([]string(nil), h.hub.refreshed...)
	h.hub.mu.Unlock()
	if len(refreshed) != 1 || refreshed[0] != session.RawToken {
		t.Fatalf("expected hub refresh with new token, got %v", refreshed)
	}
	if got := profiles.calls(); got != 0 {
		t.Fatalf("expected no profile fetch on token refresh, got %d", got)
	}
	if h.manager.Snapshot().Session != session {
		t.Fatal("expected session reference updated")
	}
}

func TestUserUpdatedBypassesFreshnessGuard(t *testing.T) {
	provider := &fakeProvider{}
	profiles := &fakeProfiles{profile: &profiledomain.Profile{Role: "customer"}}
	h := newHarness(t, provider, profiles)

	identity := testIdentity("u1", identitydomain.RoleCustomer)
	h.manager.fetchProfile(context.Background(), identity, false, "seed")
	if got := profiles.calls(); got != 1 {
		t.Fatalf("expected seed fetch, got %d", got)
	}

	provider.emit(identitydomain.EventUserUpdated, testSession("u1", identitydomain.RoleCustomer))
	h.manager.waitForFetches()
	if got := profiles.calls(); got != 2 {
		t.Fatalf("expected user-updated to refetch inside the window, got %d", got)
	}
}

func TestTeardownBlocksLateUpdates(t *testing.T) {
	provider := &fakeProvider{}
	h := newHarness(t, provider, &fakeProfiles{})

	h.manager.Teardown()
	if applied := h.manager.applyUser(minimalView(testIdentity("u1", identitydomain.RoleCustomer))); applied {
		t.Fatal("expected updates after teardown to be discarded")
	}
	if h.manager.IsAuthenticated() {
		t.Fatal("expected no user after discarded update")
	}
}

func TestInitializeIsSingleShot(t *testing.T) {
	provider := &fakeProvider{session: testSession("u1", identitydomain.RoleCustomer)}
	profiles := &fakeProfiles{profile: &profiledomain.Profile{Role: "customer"}}
	h := newHarness(t, provider, profiles)

	h.manager.Initialize(context.Background())
	h.manager.waitForFetches()
	h.manager.Initialize(context.Background())
	h.manager.waitForFetches()

	if got := profiles.calls(); got != 1 {
		t.Fatalf("expected one fetch across repeated initialize calls, got %d", got)
	}
	if h.manager.State() != StateReady {
		t.Fatalf("expected ready state, got %s", h.manager.State())
	}
}

func TestInitializeTransientErrorCompletes(t *testing.T) {
	provider := &fakeProvider{sessionErr: identitydomain.ErrSessionExpired}
	h := newHarness(t, provider, &fakeProfiles{})

	h.manager.Initialize(context.Background())

	if h.manager.State() != StateReady {
		t.Fatalf("expected ready state after transient error, got %s", h.manager.State())
	}
	if h.manager.IsAuthenticated() {
		t.Fatal("expected no user after transient restore failure")
	}
}

func TestOnChangeNotifiesAndUnsubscribes(t *testing.T) {
	provider := &fakeProvider{}
	h := newHarness(t, provider, &fakeProfiles{})

	var mu sync.Mutex
	var seen []State
	unsubscribe := h.manager.OnChange(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.State)
		mu.Unlock()
	})

	h.manager.Initialize(context.Background())
	h.manager.waitForFetches()

	mu.Lock()
	count := len(seen)
	mu.Unlock()
	if count == 0 {
		t.Fatal("expected change notifications during initialize")
	}

	unsubscribe()
	h.manager.applyUser(minimalView(testIdentity("u9", identitydomain.RoleCustomer)))

	mu.Lock()
	after := len(seen)
	mu.Unlock()
	if after != count {
		t.Fatal("expected no notifications after unsubscribe")
	}
}

func TestViewPointerStableWhenUnchanged(t *testing.T) {
	provider := &fakeProvider{}
	profiles := &fakeProfiles{profile: &profiledomain.Profile{Role: "customer", DisplayName: "Terry", Email: "t@x.com"}}
	h := newHarness(t, provider, profiles)
	identity := testIdentity("u1", identitydomain.RoleCustomer)

	h.manager.fetchProfile(context.Background(), identity, false, "first")
	first := h.manager.Snapshot().User

	h.manager.fetchProfile(context.Background(), identity, true, "second")
	second := h.manager.Snapshot().User

	if first != second {
		t.Fatal("expected identical view pointer when content is unchanged")
	}
}
