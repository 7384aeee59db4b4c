// Package serviceauth issues and validates the service-to-service JWTs carried in
// X-Service-Token.
package serviceauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// ServiceTokenHeader is the header name for service-to-service tokens.
	ServiceTokenHeader = "X-Service-Token"

	// DefaultTokenExpiry is the default lifetime of generated tokens.
	DefaultTokenExpiry = time.Hour

	issuer = "raffle"
)

var (
	ErrMissingSecret = errors.New("service auth secret is required")
	ErrInvalidToken  = errors.New("invalid service token")
)

// Claims represents JWT claims for service-to-service authentication.
type Claims struct {
	ServiceID string `json:"service_id"`
	jwt.RegisteredClaims
}

// TokenGenerator signs HS256 service tokens.
type TokenGenerator struct {
	secret    []byte
	serviceID string
	expiry    time.Duration
	now       func() time.Time
}

// NewTokenGenerator creates a token generator for serviceID.
func NewTokenGenerator(secret []byte, serviceID string, expiry time.Duration) (*TokenGenerator, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	serviceID = strings.TrimSpace(serviceID)
	if serviceID == "" {
		return nil, errors.New("service id is required")
	}
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}
	return &TokenGenerator{secret: secret, serviceID: serviceID, expiry: expiry, now: time.Now}, nil
}

// GenerateToken generates a new service token.
func (g *TokenGenerator) GenerateToken() (string, error) {
	now := g.now()
	claims := &Claims{
		ServiceID: g.serviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.expiry)),
			Issuer:    issuer,
			Subject:   g.serviceID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

// Validator verifies HS256 service tokens.
type Validator struct {
	secret []byte
}

// NewValidator creates a validator for tokens signed with secret.
func NewValidator(secret []byte) (*Validator, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	return &Validator{secret: secret}, nil
}

// Validate parses token and returns its claims. Tokens without an exp claim are rejected.
func (v *Validator) Validate(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ServiceID == "" {
		return nil, fmt.Errorf("%w: missing service_id claim", ErrInvalidToken)
	}
	return claims, nil
}
