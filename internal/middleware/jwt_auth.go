package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	lberrors "github.com/mir00r/nodebalancer/internal/errors"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

const claimsKey contextKey = "jwt_claims"

// JWTAuthConfig contains JWT authentication configuration
type JWTAuthConfig struct {
	SecretKey     string
	Issuer        string
	RequiredRoles []string
	ClockSkew     time.Duration
}

// JWTClaims represents JWT token claims
type JWTClaims struct {
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthMiddleware validates HMAC-signed bearer tokens
type JWTAuthMiddleware struct {
	config JWTAuthConfig
	logger *logger.Logger
}

// NewJWTAuthMiddleware creates a new JWT authentication middleware
func NewJWTAuthMiddleware(config JWTAuthConfig, log *logger.Logger) (*JWTAuthMiddleware, error) {
	if config.SecretKey == "" {
		return nil, lberrors.NewInvalidConfigurationError("jwt_auth", "secret key is required")
	}

	m := &JWTAuthMiddleware{
		config: config,
		logger: log.MiddlewareLogger("jwt_auth"),
	}
	m.logger.WithFields(map[string]interface{}{
		"issuer":         config.Issuer,
		"required_roles": config.RequiredRoles,
	}).Info("JWT authentication middleware initialized")
	return m, nil
}

// JWTAuth returns the JWT authentication middleware
func (jm *JWTAuthMiddleware) JWTAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				jm.reject(w, r, "token missing")
				return
			}

			claims, err := jm.validateToken(token)
			if err != nil {
				jm.reject(w, r, err.Error())
				return
			}

			if !hasRequiredRoles(claims.Roles, jm.config.RequiredRoles) {
				jm.reject(w, r, "insufficient roles")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the validated claims of the request
func ClaimsFromContext(ctx context.Context) (*JWTClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*JWTClaims)
	return claims, ok
}

// IssueToken signs an HS256 token for subject valid for ttl
func IssueToken(config JWTAuthConfig, subject string, roles []string, ttl time.Duration) (string, error) {
	if config.SecretKey == "" {
		return "", lberrors.NewInvalidConfigurationError("jwt_auth", "secret key is required")
	}

	now := time.Now()
	claims := JWTClaims{
		Username: subject,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(config.SecretKey))
}

func (jm *JWTAuthMiddleware) validateToken(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jm.config.SecretKey), nil
	})
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); !ok || !jm.withinSkew(ve, claims) {
			return nil, err
		}
	} else if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if jm.config.Issuer != "" && !claims.VerifyIssuer(jm.config.Issuer, true) {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	return claims, nil
}

// withinSkew accepts a token whose only problem is an expiry inside the clock skew
func (jm *JWTAuthMiddleware) withinSkew(ve *jwt.ValidationError, claims *JWTClaims) bool {
	if jm.config.ClockSkew <= 0 || ve.Errors != jwt.ValidationErrorExpired || claims.ExpiresAt == nil {
		return false
	}
	return time.Since(claims.ExpiresAt.Time) <= jm.config.ClockSkew
}

func (jm *JWTAuthMiddleware) reject(w http.ResponseWriter, r *http.Request, reason string) {
	jm.logger.WithFields(map[string]interface{}{
		"reason": reason,
		"path":   r.URL.Path,
		"method": r.Method,
		"ip":     ClientIP(r),
	}).Warn("JWT authentication failed")
	w.Header().Set("WWW-Authenticate", `Bearer realm="nodebalancer"`)
	lberrors.WriteHTTPError(w, lberrors.NewAuthenticationError(reason))
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func hasRequiredRoles(userRoles, requiredRoles []string) bool {
	for _, required := range requiredRoles {
		found := false
		for _, role := range userRoles {
			if role == required {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
