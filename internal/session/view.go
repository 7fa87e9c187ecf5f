package session

import (
	"reflect"
	"strings"

	identitydomain "github.com/repairlane/repairlane/internal/identity/domain"
	profiledomain "github.com/repairlane/repairlane/internal/profile/domain"
)

// State is the manager lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Completeness distinguishes a view built only from identity data from one
// backed by a loaded profile.
type Completeness int

const (
	ViewMinimal Completeness = iota
	ViewFull
)

// UserView is the composite user record the rest of the application reads.
// Instances are immutable once published; the manager replaces the whole
// view and keeps the previous pointer when nothing meaningful changed.
type UserView struct {
	ID           string                  `json:"id"`
	Role         identitydomain.Role     `json:"role"`
	Name         string                  `json:"name"`
	Email        string                  `json:"email"`
	Completeness Completeness            `json:"-"`
	Profile      *profiledomain.Profile  `json:"profile,omitempty"`
	Extended     *profiledomain.Extended `json:"extended_profile,omitempty"`
}

// Equal reports whether two views carry the same meaningful content.
func (v *UserView) Equal(other *UserView) bool {
	if v == nil || other == nil {
		return v == other
	}
	if v.ID != other.ID || v.Role != other.Role || v.Completeness != other.Completeness {
		return false
	}
	if v.Name != other.Name || v.Email != other.Email {
		return false
	}
	return reflect.DeepEqual(v.Profile, other.Profile) &&
		reflect.DeepEqual(v.Extended, other.Extended)
}

// minimalView synthesizes a view from identity data alone, used before the
// profile loads or when the profile store is unreachable.
func minimalView(identity identitydomain.Identity) *UserView {
	role := identity.Role
	if role == identitydomain.RoleUnknown {
		if raw, ok := identity.Metadata["role"].(string); ok {
			role = identitydomain.NormalizeRole(raw)
		}
	}
	if role == identitydomain.RoleUnknown {
		role = identitydomain.RoleCustomer
	}

	name := strings.TrimSpace(identity.Name)
	if name == "" {
		name = identity.Email
	}

	return &UserView{
		ID:           identity.ID,
		Role:         role,
		Name:         name,
		Email:        identity.Email,
		Completeness: ViewMinimal,
	}
}

// fullView merges identity with the loaded profile and extension.
func fullView(identity identitydomain.Identity, profile *profiledomain.Profile, extended *profiledomain.Extended) *UserView {
	role := profile.RoleOf()
	if role == identitydomain.RoleUnknown {
		role = minimalView(identity).Role
	}

	name := strings.TrimSpace(profile.DisplayName)
	if name == "" {
		name = minimalView(identity).Name
	}

	email := strings.TrimSpace(profile.Email)
	if email == "" {
		email = identity.Email
	}

	if extended != nil && extended.IsZero() {
		extended = nil
	}

	return &UserView{
		ID:           identity.ID,
		Role:         role,
		Name:         name,
		Email:        email,
		Completeness: ViewFull,
		Profile:      profile,
		Extended:     extended,
	}
}

// Snapshot is the consumer-facing read of the manager state.
type Snapshot struct {
	State   State
	Loading bool
	User    *UserView
	Session *identitydomain.SessionInfo
}
