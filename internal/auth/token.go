// ABOUTME: JWT authentication for gateway Identify tokens
// ABOUTME: Uses HS256 signing; the "sub" claim carries the decimal user snowflake

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/chat-gateway/internal/snowflake"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = errors.New("jwt secret too short")
)

// MinSecretLength is the minimum HS256 secret size in bytes.
const MinSecretLength = 32

// JWTAuthenticator implements Authenticator using HS256 signed JWTs
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator creates a new JWT authenticator with the given secret
func NewJWTAuthenticator(secret []byte) (*JWTAuthenticator, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d", ErrWeakSecret, MinSecretLength, len(secret))
	}
	return &JWTAuthenticator{secret: secret}, nil
}

// Authenticate validates the token and resolves the user from the "sub" claim
func (a *JWTAuthenticator) Authenticate(_ context.Context, tokenString string) (snowflake.ID, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return snowflake.Zero, ErrExpiredToken
		}
		return snowflake.Zero, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return snowflake.Zero, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return snowflake.Zero, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return snowflake.Zero, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	userID, err := snowflake.Parse(sub)
	if err != nil {
		return snowflake.Zero, fmt.Errorf("%w: sub: %v", ErrInvalidToken, err)
	}
	return userID, nil
}

// Generate creates a new JWT token for the given user with expiration
func (a *JWTAuthenticator) Generate(userID snowflake.ID, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
