package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"crm-chat/internal/auth"
	"crm-chat/internal/domain"
	"crm-chat/internal/middleware"
)

func requireSession(c *gin.Context) (*auth.Session, bool) {
	sess := middleware.SessionFrom(c)
	if sess == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	return sess, true
}

// writeError maps a domain error to its status. Persistence details stay in the logs.
func writeError(c *gin.Context, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	msg := de.Message
	if de.Kind == domain.KindPersistence || de.Kind == domain.KindInternal {
		msg = "internal error"
	}
	_ = c.Error(err)
	c.JSON(de.Status(), gin.H{"error": msg, "kind": de.Kind})
}

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(middleware.RequestIDKey); ok {
		if id, ok := val.(string); ok {
			return id
		}
	}
	return ""
}
