package domain

import "time"

// AuthEventName enumerates identity-provider lifecycle events.
type AuthEventName string

const (
	EventInitialSession   AuthEventName = "INITIAL_SESSION"
	EventSignedIn         AuthEventName = "SIGNED_IN"
	EventSignedOut        AuthEventName = "SIGNED_OUT"
	EventTokenRefreshed   AuthEventName = "TOKEN_REFRESHED"
	EventUserUpdated      AuthEventName = "USER_UPDATED"
	EventPasswordRecovery AuthEventName = "PASSWORD_RECOVERY"
)

// AuthEvent is delivered to OnAuthStateChange handlers. Session is nil for
// SIGNED_OUT.
type AuthEvent struct {
	ID      string        `json:"id"`
	Name    AuthEventName `json:"name"`
	Session *SessionInfo  `json:"session,omitempty"`
	At      time.Time     `json:"at"`
}

// AuthEventHandler receives lifecycle events in arrival order.
type AuthEventHandler func(event AuthEvent)
