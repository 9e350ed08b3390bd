// Package auth authenticates gateway connections and internal callers.
//
// # Authentication Methods
//
// The Identify handler resolves tokens through the Authenticator interface.
// Two implementations exist, selected by auth.mode:
//
//   - token: opaque tokens of the form base64url(user_id) "." secret. The
//     secret is checked against a bcrypt hash read from storage. Tokens are
//     minted by IssueToken (used by the bootstrap command).
//
//   - jwt: HS256 JWTs signed with the configured jwt_secret whose "sub" claim
//     is the decimal user snowflake.
//
// Errors fall into two classes. ErrInvalidToken, ErrExpiredToken, and
// ErrMissingClaim mean the client presented bad credentials
// (IsCredentialError). ErrUnavailable means the credential backend failed and
// the client is not at fault.
//
// # HTTP Middleware
//
// RequireBearer guards POST /internal/events with a shared secret so only the
// request-serving tier can publish events.
package auth
