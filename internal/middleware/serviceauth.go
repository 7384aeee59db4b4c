// Package middleware provides HTTP middleware for the raffle API.
package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	svcerrors "github.com/R3E-Network/raffle/internal/errors"
	"github.com/R3E-Network/raffle/internal/httputil"
	"github.com/R3E-Network/raffle/internal/serviceauth"
	"github.com/R3E-Network/raffle/pkg/logger"
)

type contextKey string

const serviceIDKey contextKey = "service_id"

// ServiceAuthMiddleware authenticates callers presenting an X-Service-Token.
type ServiceAuthMiddleware struct {
	validator       *serviceauth.Validator
	log             *logger.Logger
	allowedServices map[string]bool
	mu              sync.RWMutex
	validatedTokens map[string]*cachedToken
}

type cachedToken struct {
	claims    *serviceauth.Claims
	expiresAt time.Time
}

// ServiceAuthConfig configures the service authentication middleware.
type ServiceAuthConfig struct {
	Validator       *serviceauth.Validator
	Logger          *logger.Logger
	AllowedServices []string
}

// NewServiceAuthMiddleware creates a new service authentication middleware.
func NewServiceAuthMiddleware(cfg ServiceAuthConfig) *ServiceAuthMiddleware {
	allowed := make(map[string]bool)
	for _, svc := range cfg.AllowedServices {
		allowed[svc] = true
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("serviceauth")
	}
	return &ServiceAuthMiddleware{
		validator:       cfg.Validator,
		log:             log,
		allowedServices: allowed,
		validatedTokens: make(map[string]*cachedToken),
	}
}

// Handler returns the middleware handler function.
func (m *ServiceAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(serviceauth.ServiceTokenHeader)
		if token == "" {
			m.respondError(w, r, svcerrors.Unauthorized("missing service token"))
			return
		}

		claims, err := m.validate(token)
		if err != nil {
			m.respondError(w, r, svcerrors.InvalidToken(err))
			return
		}

		if len(m.allowedServices) > 0 && !m.allowedServices[claims.ServiceID] {
			m.respondError(w, r, svcerrors.Forbidden("service not authorized").WithDetails("service_id", claims.ServiceID))
			return
		}

		ctx := context.WithValue(r.Context(), serviceIDKey, claims.ServiceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *ServiceAuthMiddleware) validate(token string) (*serviceauth.Claims, error) {
	if cached := m.getCachedToken(token); cached != nil {
		return cached, nil
	}
	claims, err := m.validator.Validate(token)
	if err != nil {
		return nil, err
	}
	m.cacheToken(token, claims)
	return claims, nil
}

func (m *ServiceAuthMiddleware) getCachedToken(token string) *serviceauth.Claims {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cached, ok := m.validatedTokens[token]
	if !ok || time.Now().After(cached.expiresAt) {
		return nil
	}
	return cached.claims
}

// cacheToken keeps a validated token for five minutes or until it expires.
func (m *ServiceAuthMiddleware) cacheToken(token string, claims *serviceauth.Claims) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiry := time.Now().Add(5 * time.Minute)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(expiry) {
		expiry = claims.ExpiresAt.Time
	}
	m.validatedTokens[token] = &cachedToken{claims: claims, expiresAt: expiry}

	if len(m.validatedTokens) > 1000 {
		now := time.Now()
		for key, c := range m.validatedTokens {
			if now.After(c.expiresAt) {
				delete(m.validatedTokens, key)
			}
		}
	}
}

func (m *ServiceAuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, se *svcerrors.ServiceError) {
	m.log.WithError(se).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": se.HTTPStatus,
	}).Warn("service authentication failed")
	httputil.WriteError(w, se)
}

// GetServiceID extracts the authenticated service id from ctx.
func GetServiceID(ctx context.Context) string {
	if v, ok := ctx.Value(serviceIDKey).(string); ok {
		return v
	}
	return ""
}
