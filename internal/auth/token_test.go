// ABOUTME: Unit tests for JWT and stored-token authentication
// ABOUTME: Tests valid tokens, invalid tokens, expired tokens, and backend failures

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/2389/chat-gateway/internal/snowflake"
	"github.com/2389/chat-gateway/internal/store"
)

var testSecret = []byte("test-secret-key-for-jwt-signing!")

func newTestJWT(t *testing.T) *JWTAuthenticator {
	t.Helper()
	a, err := NewJWTAuthenticator(testSecret)
	if err != nil {
		t.Fatalf("NewJWTAuthenticator() error = %v", err)
	}
	return a
}

func TestNewJWTAuthenticator_RejectsShortSecret(t *testing.T) {
	_, err := NewJWTAuthenticator([]byte("short"))
	if !errors.Is(err, ErrWeakSecret) {
		t.Errorf("NewJWTAuthenticator() error = %v, want ErrWeakSecret", err)
	}
}

func TestJWTAuthenticator_ValidToken(t *testing.T) {
	a := newTestJWT(t)

	userID := snowflake.MustParse("18446744073709551617")
	token, err := a.Generate(userID, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	got, err := a.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got != userID {
		t.Errorf("Authenticate() = %s, want %s", got, userID)
	}
}

func TestJWTAuthenticator_InvalidToken(t *testing.T) {
	a := newTestJWT(t)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{
			name: "wrong secret",
			token: func() string {
				other, _ := NewJWTAuthenticator([]byte("a-different-secret-of-32-bytes!!"))
				token, _ := other.Generate(snowflake.FromUint64(1), time.Hour)
				return token
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), tt.token)
			if !IsCredentialError(err) {
				t.Errorf("Authenticate() error = %v, want a credential error", err)
			}
		})
	}
}

func TestJWTAuthenticator_ExpiredToken(t *testing.T) {
	a := newTestJWT(t)

	token, err := a.Generate(snowflake.FromUint64(1), -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = a.Authenticate(context.Background(), token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Authenticate() error = %v, want ErrExpiredToken", err)
	}
}

func TestTokenAuthenticator(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	userID := snowflake.FromUint64(42)
	if err := s.CreateUser(ctx, &store.User{ID: userID, Name: "u"}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	token, err := IssueToken(ctx, s, userID)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	a := NewTokenAuthenticator(s)
	got, err := a.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got != userID {
		t.Errorf("Authenticate() = %s, want %s", got, userID)
	}

	_, secret, _ := ParseToken(token)
	forged := FormatToken(snowflake.FromUint64(43), secret)
	if _, err := a.Authenticate(ctx, forged); !IsCredentialError(err) {
		t.Errorf("Authenticate(other user) error = %v, want a credential error", err)
	}

	if _, err := a.Authenticate(ctx, FormatToken(userID, "wrong")); !IsCredentialError(err) {
		t.Errorf("Authenticate(wrong secret) error = %v, want a credential error", err)
	}

	for _, bad := range []string{"", "nodot", ".x", "!!!.x", "YWJj.x"} {
		if _, err := a.Authenticate(ctx, bad); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Authenticate(%q) error = %v, want ErrInvalidToken", bad, err)
		}
	}
}

func TestTokenAuthenticator_BackendFailure(t *testing.T) {
	s := store.NewMockStore()
	s.SetErr(errors.New("disk on fire"))

	a := NewTokenAuthenticator(s)
	_, err := a.Authenticate(context.Background(), FormatToken(snowflake.FromUint64(1), "secret"))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Authenticate() error = %v, want ErrUnavailable", err)
	}
	if IsCredentialError(err) {
		t.Error("backend failure must not look like bad credentials")
	}
}
