package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/core"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const userIDKey contextKey = "current_user_id"

// WithUserID returns a context carrying the acting user id. Non-HTTP callers
// can use it to feed the ContextUserProvider directly.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// ContextUserProvider resolves the acting user from the request context. It
// pairs with the Middleware below, which places the authenticated subject
// there; without a subject the user is reported as absent.
type ContextUserProvider struct{}

// NewContextUserProvider creates a context-backed current user provider
func NewContextUserProvider() core.CurrentUserProvider {
	return &ContextUserProvider{}
}

// CurrentUserID returns the user id stored in the context, if any
func (p *ContextUserProvider) CurrentUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}

// Middleware extracts the subject of a Bearer JWT into the request context.
// Requests without a valid token pass through anonymously; the persistence
// coordinator stamps an absent user id in that case.
func Middleware(secret []byte, logger core.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.Next()
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			logger.Warn("Rejected bearer token", map[string]any{
				"error": fmt.Sprintf("%v", err),
			})
			c.Next()
			return
		}

		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			c.Next()
			return
		}

		c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), subject))
		c.Next()
	}
}
