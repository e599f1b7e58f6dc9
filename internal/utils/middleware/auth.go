package middleware

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/uniedit/paygate/internal/shared/errors"
	"github.com/uniedit/paygate/internal/utils/requestctx"
)

const (
	// AuthorizationHeader is the header key for authorization.
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens.
	BearerPrefix = "Bearer "
	// SubjectKey is the context key for the authenticated principal.
	SubjectKey = "subject"
	// EmailKey is the context key for email.
	EmailKey = "email"
	// PermissionsKey is the context key for the granted permissions.
	PermissionsKey = "permissions"

	// PermissionAll grants every permission.
	PermissionAll = "*"
)

// Claims are the JWT claims accepted by the API.
type Claims struct {
	Email       string   `json:"email,omitempty"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// JWTValidator defines the interface for JWT token validation.
type JWTValidator interface {
	ValidateToken(token string) (*Claims, error)
}

// HS256Validator validates HMAC-SHA256 signed tokens.
type HS256Validator struct {
	secret []byte
	issuer string
}

// NewHS256Validator creates a validator. An empty issuer accepts any issuer.
func NewHS256Validator(secret, issuer string) *HS256Validator {
	return &HS256Validator{secret: []byte(secret), issuer: issuer}
}

// ValidateToken parses and verifies token.
func (v *HS256Validator) ValidateToken(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Sign issues a token for claims. Used by operators and tests.
func (v *HS256Validator) Sign(claims *Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Auth returns a middleware that validates JWT tokens.
// If the token is valid, it sets subject, email and permissions in the context.
// If optional is true, the middleware will not abort on missing/invalid tokens.
func Auth(validator JWTValidator, optional bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			if !optional {
				abortWithError(c, apperrors.Unauthorized("authorization header required"))
				return
			}
			c.Next()
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			if !optional {
				abortWithError(c, apperrors.Unauthorized("invalid or expired token").WithCode("INVALID_TOKEN"))
				return
			}
			c.Next()
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Set(EmailKey, claims.Email)
		c.Set(PermissionsKey, claims.Permissions)
		c.Request = c.Request.WithContext(requestctx.WithSubject(c.Request.Context(), claims.Subject))

		c.Next()
	}
}

// RequireAuth returns a middleware that requires a valid JWT token.
func RequireAuth(validator JWTValidator) gin.HandlerFunc {
	return Auth(validator, false)
}

// OptionalAuth returns a middleware that optionally validates JWT tokens.
func OptionalAuth(validator JWTValidator) gin.HandlerFunc {
	return Auth(validator, true)
}

// RequirePermission aborts with 403 unless the authenticated principal holds
// perm. It must run after RequireAuth.
func RequirePermission(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAuthenticated(c) {
			abortWithError(c, apperrors.Unauthorized(""))
			return
		}
		if !HasPermission(c, perm) {
			abortWithError(c, apperrors.Forbidden("missing permission "+perm))
			return
		}
		c.Next()
	}
}

// extractBearerToken extracts the bearer token from the Authorization header.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader(AuthorizationHeader)
	if authHeader == "" {
		return ""
	}

	if strings.HasPrefix(authHeader, BearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, BearerPrefix))
	}

	return ""
}

// GetSubject returns the authenticated principal, or "" if not found.
func GetSubject(c *gin.Context) string {
	return c.GetString(SubjectKey)
}

// GetEmail returns the email from context.
// Returns empty string if not found.
func GetEmail(c *gin.Context) string {
	return c.GetString(EmailKey)
}

// HasPermission reports whether the principal holds perm or the wildcard.
func HasPermission(c *gin.Context, perm string) bool {
	perms := c.GetStringSlice(PermissionsKey)
	return slices.Contains(perms, perm) || slices.Contains(perms, PermissionAll)
}

// IsAuthenticated returns true if the user is authenticated.
func IsAuthenticated(c *gin.Context) bool {
	return GetSubject(c) != ""
}
