// Package auth validates operator session tokens and tracks the signed-in
// operator.
package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoKey is returned when neither an HMAC secret nor an Ed25519 key is configured.
	ErrNoKey = errors.New("no token verification key configured")
	// ErrInvalidToken wraps every token rejection.
	ErrInvalidToken = errors.New("invalid session token")
)

// Claims are the validated facts of an operator token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Verifier checks operator tokens. HS256 tokens verify against the shared
// secret, EdDSA tokens against the public key.
type Verifier struct {
	secret    []byte
	publicKey ed25519.PublicKey
	issuer    string
	audience  string
	now       func() time.Time
}

// NewVerifier creates a verifier. Either secret or publicKey must be set.
func NewVerifier(secret []byte, publicKey ed25519.PublicKey, issuer, audience string) (*Verifier, error) {
	if len(secret) == 0 && len(publicKey) == 0 {
		return nil, ErrNoKey
	}
	return &Verifier{
		secret:    secret,
		publicKey: publicKey,
		issuer:    issuer,
		audience:  audience,
		now:       time.Now,
	}, nil
}

// Validate parses and verifies tokenString. Issuer, audience and expiry are
// all required.
func (v *Verifier) Validate(_ context.Context, tokenString string) (Claims, error) {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(v.secret) == 0 {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.secret, nil
		case *jwt.SigningMethodEd25519:
			if len(v.publicKey) == 0 {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.publicKey, nil
		}
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
		jwt.WithValidMethods([]string{"HS256", "EdDSA"}),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, keyFunc, opts...)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Claims{Subject: claims.Subject, ExpiresAt: claims.ExpiresAt.Time}, nil
}
