package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"crm-chat/internal/auth"
	"crm-chat/internal/chat"
	"crm-chat/internal/models"
)

// ChatReader is the read side of the chat engine served over REST.
type ChatReader interface {
	History(ctx context.Context, sess *auth.Session, peerID string) ([]models.DirectMessage, error)
	GroupHistory(ctx context.Context, sess *auth.Session, groupID string) (chat.GroupChatHistory, error)
	ListGroups(ctx context.Context, sess *auth.Session) ([]models.Group, error)
	ListNotifications(ctx context.Context, sess *auth.Session) ([]models.MessageNotification, error)
	ClearNotifications(ctx context.Context, sess *auth.Session) error
}

// ChatHandler mirrors the socket pulls for clients that load state over HTTP.
type ChatHandler struct {
	chat ChatReader
}

func NewChatHandler(reader ChatReader) *ChatHandler {
	return &ChatHandler{chat: reader}
}

// GetChatMessages handles GET /chats/:user_id/messages.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	sess, ok := requireSession(c)
	if !ok {
		return
	}
	peerID := c.Param("user_id")
	if peerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	history, err := h.chat.History(c.Request.Context(), sess, peerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": peerID, "chatHistory": history})
}

// ListGroups handles GET /groups.
func (h *ChatHandler) ListGroups(c *gin.Context) {
	sess, ok := requireSession(c)
	if !ok {
		return
	}
	groups, err := h.chat.ListGroups(c.Request.Context(), sess)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// GetGroupMessages handles GET /groups/:group_id/messages.
func (h *ChatHandler) GetGroupMessages(c *gin.Context) {
	sess, ok := requireSession(c)
	if !ok {
		return
	}
	history, err := h.chat.GroupHistory(c.Request.Context(), sess, c.Param("group_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// ListNotifications handles GET /notifications.
func (h *ChatHandler) ListNotifications(c *gin.Context) {
	sess, ok := requireSession(c)
	if !ok {
		return
	}
	list, err := h.chat.ListNotifications(c.Request.Context(), sess)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

// ClearNotifications handles DELETE /notifications.
func (h *ChatHandler) ClearNotifications(c *gin.Context) {
	sess, ok := requireSession(c)
	if !ok {
		return
	}
	if err := h.chat.ClearNotifications(c.Request.Context(), sess); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Register mounts the read API behind auth.
func (h *ChatHandler) Register(r gin.IRoutes) {
	r.GET("/chats/:user_id/messages", h.GetChatMessages)
	r.GET("/groups", h.ListGroups)
	r.GET("/groups/:group_id/messages", h.GetGroupMessages)
	r.GET("/notifications", h.ListNotifications)
	r.DELETE("/notifications", h.ClearNotifications)
}
