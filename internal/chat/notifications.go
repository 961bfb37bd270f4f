package chat

import (
	"context"

	"crm-chat/internal/auth"
	"crm-chat/internal/models"
)

// dispatch persists a notification for userID and pushes it to that user's room.
// The push is fire-and-forget; clients recover missed pushes with requestInitialNotifications.
func (s *Service) dispatch(ctx context.Context, sess *auth.Session, n models.MessageNotification) error {
	if err := sess.Store().Notifications.CreateMessageNotification(ctx, n); err != nil {
		return storeErr("create message notification", err)
	}
	s.emit(sess, n.UserID, EventMessageNotification, n)
	return nil
}

// notify is dispatch for auxiliary alerts: a failure is logged and does not abort the command.
func (s *Service) notify(ctx context.Context, sess *auth.Session, userID, name, subText string, avatar *string) {
	n := models.NewMessageNotification(userID, name, subText, avatar, s.now())
	if err := s.dispatch(ctx, sess, n); err != nil {
		s.logger.Warn("notification dispatch failed", zapFields(sess, err)...)
	}
}

// ClearNotifications removes every message and personal notification of the caller.
func (s *Service) ClearNotifications(ctx context.Context, sess *auth.Session) error {
	if err := sess.Store().Notifications.ClearNotifications(ctx, sess.UserID()); err != nil {
		return storeErr("clear notifications", err)
	}
	s.emit(sess, sess.UserID(), EventNotificationsCleared, struct{}{})
	return nil
}

// InitialNotifications pushes the caller's inbox, newest first.
func (s *Service) InitialNotifications(ctx context.Context, sess *auth.Session) error {
	list, err := s.ListNotifications(ctx, sess)
	if err != nil {
		return err
	}
	s.emit(sess, sess.UserID(), EventInitialNotifications, InitialNotifications{Notifications: list})
	return nil
}

func (s *Service) ListNotifications(ctx context.Context, sess *auth.Session) ([]models.MessageNotification, error) {
	list, err := sess.Store().Notifications.ListMessageNotifications(ctx, sess.UserID())
	if err != nil {
		return nil, storeErr("list message notifications", err)
	}
	return list, nil
}

// PushUnreadCounts recomputes and pushes both unread maps to the caller.
func (s *Service) PushUnreadCounts(ctx context.Context, sess *auth.Session) error {
	direct, err := sess.Store().Messages.UnreadCounts(ctx, sess.UserID())
	if err != nil {
		return storeErr("count unread messages", err)
	}
	groups, err := sess.Store().GroupMessages.UnreadCounts(ctx, sess.UserID())
	if err != nil {
		return storeErr("count unread group messages", err)
	}
	s.emit(sess, sess.UserID(), EventUnreadMessagesCount, UnreadMessagesCount{UnreadMessagesMap: direct})
	s.emit(sess, sess.UserID(), EventUnreadGroupMessagesCount, UnreadGroupMessagesCount{UnreadGroupMessagesMap: groups})
	return nil
}
