// Package middleware provides HTTP middleware for the node's RPC and admin routes.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/paralink-network/paralink-node/internal/httputil"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// AdminRole is the role claim required on admin routes.
const AdminRole = "admin"

type contextKey string

const subjectKey contextKey = "admin_subject"

// Claims represents admin JWT claims.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuth guards admin routes with HS256 bearer tokens.
type AdminAuth struct {
	secret []byte
	log    *logger.Logger
}

// NewAdminAuth creates the middleware. An empty secret disables every route
// it wraps.
func NewAdminAuth(secret string, log *logger.Logger) *AdminAuth {
	if log == nil {
		log = logger.NewDefault("admin-auth")
	}
	return &AdminAuth{secret: []byte(secret), log: log}
}

// Handler returns the middleware handler.
func (m *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.secret) == 0 {
			httputil.WriteError(w, http.StatusServiceUnavailable, "admin endpoints are disabled")
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.reject(w, r, http.StatusUnauthorized, "missing Authorization header", nil)
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			m.reject(w, r, http.StatusUnauthorized, "invalid Authorization header format", nil)
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.reject(w, r, http.StatusUnauthorized, "invalid token", err)
			return
		}
		if claims.Role != AdminRole {
			m.reject(w, r, http.StatusForbidden, "admin role required", nil)
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
		m.log.WithField("subject", claims.Subject).WithField("path", r.URL.Path).Debug("admin request authorized")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AdminAuth) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid claims")
	}
	return claims, nil
}

func (m *AdminAuth) reject(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	entry := m.log.WithField("path", r.URL.Path).WithField("method", r.Method).WithField("status", status)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("admin authentication failed")
	httputil.WriteError(w, status, msg)
}

// IssueAdminToken signs an admin token for subject valid for ttl.
func IssueAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("admin secret is not configured")
	}
	now := time.Now()
	claims := &Claims{
		Role: AdminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AdminSubject returns the authenticated admin subject, if any.
func AdminSubject(ctx context.Context) string {
	if v, ok := ctx.Value(subjectKey).(string); ok {
		return v
	}
	return ""
}
