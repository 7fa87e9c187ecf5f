package domain

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrInvalidSession     = errors.New("invalid session")
	ErrWeakPassword       = errors.New("weak password")
)

// IsTransientAuthErr reports whether err is an expected token-lifecycle
// failure (expired or stale token) rather than a provider outage. Session
// bootstrap treats these as "no session" instead of aborting.
func IsTransientAuthErr(err error) bool {
	return errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrSessionRevoked) ||
		errors.Is(err, ErrInvalidSession)
}
