// ABOUTME: Authenticator contract consumed by the Identify handler
// ABOUTME: Distinguishes bad credentials from an unavailable credential backend

package auth

import (
	"context"
	"errors"

	"github.com/2389/chat-gateway/internal/snowflake"
)

// ErrUnavailable wraps failures of the backend that holds credentials.
// Callers treat it as a server fault rather than a client fault.
var ErrUnavailable = errors.New("credential backend unavailable")

// Authenticator resolves an Identify token to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (snowflake.ID, error)
}

// IsCredentialError reports whether err means the client presented bad
// credentials (as opposed to a backend failure).
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrMissingClaim)
}
