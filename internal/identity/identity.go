// Package identity verifies the bearer tokens that identify a domain owner.
//
// Tokens are issued by the account front-end; this package only needs the
// shared signing secret to verify them. Issue exists for the CLI and tests.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// OwnerClaims are the JWT claims for an owner session token.
type OwnerClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// ErrNoSecret is returned by NewOwnerTokens when no secret is configured.
var ErrNoSecret = errors.New("auth.token_secret is required")

// OwnerTokens issues and verifies HS256 owner tokens.
type OwnerTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewOwnerTokens creates an OwnerTokens. ttl defaults to 24 hours.
func NewOwnerTokens(secret, issuer string, ttl time.Duration) (*OwnerTokens, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &OwnerTokens{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue creates a signed owner token.
func (o *OwnerTokens) Issue(userID, email string) (string, error) {
	now := time.Now().UTC()
	claims := OwnerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    o.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(o.ttl)),
			ID:        uuid.NewString(),
		},
		UserID: userID,
		Email:  email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(o.secret)
	if err != nil {
		return "", fmt.Errorf("sign owner token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an owner token.
func (o *OwnerTokens) Verify(tokenStr string) (*OwnerClaims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired(), jwt.WithValidMethods([]string{"HS256"})}
	if o.issuer != "" {
		opts = append(opts, jwt.WithIssuer(o.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &OwnerClaims{}, func(*jwt.Token) (any, error) {
		return o.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("verify owner token: %w", err)
	}
	claims, ok := token.Claims.(*OwnerClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid owner token claims")
	}
	if claims.OwnerID() == "" {
		return nil, errors.New("owner token has no subject")
	}
	return claims, nil
}

// OwnerID returns the user id, falling back to the subject.
func (c *OwnerClaims) OwnerID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}
