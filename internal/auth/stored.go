// ABOUTME: Opaque gateway tokens checked against bcrypt hashes in storage
// ABOUTME: Token format is base64url(user_id) "." secret

package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/chat-gateway/internal/snowflake"
	"github.com/2389/chat-gateway/internal/store"
)

const secretBytes = 32

// HashStore is the storage read performed during the handshake.
type HashStore interface {
	GetTokenHash(ctx context.Context, userID snowflake.ID) ([]byte, error)
}

// HashWriter stores token hashes. Used by bootstrap tooling.
type HashWriter interface {
	SetTokenHash(ctx context.Context, userID snowflake.ID, hash []byte) error
}

// TokenAuthenticator verifies stored-secret tokens.
type TokenAuthenticator struct {
	hashes HashStore
}

// NewTokenAuthenticator creates an authenticator backed by hashes.
func NewTokenAuthenticator(hashes HashStore) *TokenAuthenticator {
	return &TokenAuthenticator{hashes: hashes}
}

// Authenticate splits the token, loads the user's hash, and compares.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, token string) (snowflake.ID, error) {
	userID, secret, err := ParseToken(token)
	if err != nil {
		return snowflake.Zero, err
	}

	hash, err := a.hashes.GetTokenHash(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return snowflake.Zero, fmt.Errorf("%w: unknown user", ErrInvalidToken)
	}
	if err != nil {
		return snowflake.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		return snowflake.Zero, fmt.Errorf("%w: secret mismatch", ErrInvalidToken)
	}
	return userID, nil
}

// ParseToken splits a token into its user ID and secret halves.
func ParseToken(token string) (snowflake.ID, string, error) {
	encodedID, secret, ok := strings.Cut(token, ".")
	if !ok || encodedID == "" || secret == "" {
		return snowflake.Zero, "", fmt.Errorf("%w: malformed", ErrInvalidToken)
	}

	rawID, err := base64.RawURLEncoding.DecodeString(encodedID)
	if err != nil {
		return snowflake.Zero, "", fmt.Errorf("%w: user id encoding: %v", ErrInvalidToken, err)
	}
	userID, err := snowflake.Parse(string(rawID))
	if err != nil {
		return snowflake.Zero, "", fmt.Errorf("%w: user id: %v", ErrInvalidToken, err)
	}
	return userID, secret, nil
}

// FormatToken joins a user ID and secret into a token.
func FormatToken(userID snowflake.ID, secret string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(userID.String())) + "." + secret
}

// NewSecret returns a random URL-safe secret.
func NewSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSecret hashes a secret for storage.
func HashSecret(secret string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing secret: %w", err)
	}
	return hash, nil
}

// IssueToken creates a fresh secret for userID, stores its hash, and
// returns the full token. The plaintext is never stored.
func IssueToken(ctx context.Context, s HashWriter, userID snowflake.ID) (string, error) {
	secret, err := NewSecret()
	if err != nil {
		return "", err
	}
	hash, err := HashSecret(secret)
	if err != nil {
		return "", err
	}
	if err := s.SetTokenHash(ctx, userID, hash); err != nil {
		return "", fmt.Errorf("storing token hash: %w", err)
	}
	return FormatToken(userID, secret), nil
}
