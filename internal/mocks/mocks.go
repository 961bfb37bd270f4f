package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"crm-chat/internal/auth"
	"crm-chat/internal/chat"
	"crm-chat/internal/models"
)

type ChatReaderMock struct {
	mock.Mock
}

func (m *ChatReaderMock) History(ctx context.Context, sess *auth.Session, peerID string) ([]models.DirectMessage, error) {
	args := m.Called(ctx, sess, peerID)
	var msgs []models.DirectMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.DirectMessage)
	}
	return msgs, args.Error(1)
}

func (m *ChatReaderMock) GroupHistory(ctx context.Context, sess *auth.Session, groupID string) (chat.GroupChatHistory, error) {
	args := m.Called(ctx, sess, groupID)
	var hist chat.GroupChatHistory
	if val := args.Get(0); val != nil {
		hist = val.(chat.GroupChatHistory)
	}
	return hist, args.Error(1)
}

func (m *ChatReaderMock) ListGroups(ctx context.Context, sess *auth.Session) ([]models.Group, error) {
	args := m.Called(ctx, sess)
	var groups []models.Group
	if val := args.Get(0); val != nil {
		groups = val.([]models.Group)
	}
	return groups, args.Error(1)
}

func (m *ChatReaderMock) ListNotifications(ctx context.Context, sess *auth.Session) ([]models.MessageNotification, error) {
	args := m.Called(ctx, sess)
	var list []models.MessageNotification
	if val := args.Get(0); val != nil {
		list = val.([]models.MessageNotification)
	}
	return list, args.Error(1)
}

func (m *ChatReaderMock) ClearNotifications(ctx context.Context, sess *auth.Session) error {
	args := m.Called(ctx, sess)
	return args.Error(0)
}

type AuthenticatorMock struct {
	mock.Mock
}

func (m *AuthenticatorMock) Authenticate(ctx context.Context, token string) (*auth.Session, error) {
	args := m.Called(ctx, token)
	var sess *auth.Session
	if val := args.Get(0); val != nil {
		sess = val.(*auth.Session)
	}
	return sess, args.Error(1)
}
