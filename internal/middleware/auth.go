package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"crm-chat/internal/auth"
	"crm-chat/internal/domain"
	"crm-chat/internal/observability"
)

const (
	SessionKey   = "session"
	RequestIDKey = "request_id"
)

// Authenticator resolves a bearer token into a tenant-scoped session.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Session, error)
}

// AuthMiddleware validates the bearer token and stores the session on the context.
func AuthMiddleware(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.TokenFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		sess, err := authn.Authenticate(c.Request.Context(), token)
		if err != nil {
			status := http.StatusUnauthorized
			if !domain.IsKind(err, domain.KindAuthentication) {
				status = http.StatusInternalServerError
			}
			c.AbortWithStatusJSON(status, gin.H{"error": "invalid token"})
			return
		}

		c.Set(SessionKey, sess)
		c.Next()
	}
}

// RequestID propagates X-Request-Id, generating one when absent.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := observability.RequestIDFromRequest(c.Request)
		c.Set(RequestIDKey, id)
		c.Header("X-Request-Id", id)
		c.Request = c.Request.WithContext(observability.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// SessionFrom returns the session set by AuthMiddleware, or nil.
func SessionFrom(c *gin.Context) *auth.Session {
	if val, ok := c.Get(SessionKey); ok {
		if sess, ok := val.(*auth.Session); ok {
			return sess
		}
	}
	return nil
}
