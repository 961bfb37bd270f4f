package chat

import (
	"context"
	"strings"

	"crm-chat/internal/auth"
	"crm-chat/internal/domain"
	"crm-chat/internal/models"
)

// SendMessage stores a text message, notifies the recipient and delivers it to
// both rooms. A message to oneself is delivered once and not notified.
func (s *Service) SendMessage(ctx context.Context, sess *auth.Session, req SendMessageRequest) (models.DirectMessage, error) {
	msg, err := s.createDirect(ctx, sess, req.ToUserID, req.Message, nil)
	if err != nil {
		return models.DirectMessage{}, err
	}

	if !msg.IsSelfChat() {
		sender := sess.User()
		s.notify(ctx, sess, msg.ToUserID, sender.DisplayName(), msg.Message, sender.ProfileImage)
	}
	s.deliverDirect(sess, msg)
	return msg, nil
}

// SendFileMessage stores a message carrying an uploaded file. Unlike SendMessage
// it does not dispatch a notification.
func (s *Service) SendFileMessage(ctx context.Context, sess *auth.Session, req SendFileMessageRequest) (models.DirectMessage, error) {
	if err := required("fileUrl", req.FileURL); err != nil {
		return models.DirectMessage{}, err
	}
	if err := s.requireFile(ctx, sess, req.FileURL); err != nil {
		return models.DirectMessage{}, err
	}
	msg, err := s.createDirect(ctx, sess, req.ToUserID, req.Message, req.File())
	if err != nil {
		return models.DirectMessage{}, err
	}
	s.deliverDirect(sess, msg)
	return msg, nil
}

func (s *Service) createDirect(ctx context.Context, sess *auth.Session, toUserID, body string, file *models.FileMeta) (models.DirectMessage, error) {
	msg, err := models.NewDirectMessage(sess.UserID(), toUserID, body, file, s.now())
	if err != nil {
		return models.DirectMessage{}, err
	}
	if !msg.IsSelfChat() {
		if _, err := sess.Store().Users.GetUser(ctx, toUserID); err != nil {
			return models.DirectMessage{}, storeErr("load recipient", err)
		}
	}
	saved, err := sess.Store().Messages.CreateMessage(ctx, msg)
	if err != nil {
		return models.DirectMessage{}, storeErr("create direct message", err)
	}
	return saved, nil
}

// deliverDirect emits receiveMessage to the recipient and echoes it to the sender.
func (s *Service) deliverDirect(sess *auth.Session, msg models.DirectMessage) {
	s.emit(sess, msg.ToUserID, EventReceiveMessage, msg)
	if !msg.IsSelfChat() {
		s.emit(sess, msg.FromUserID, EventReceiveMessage, msg)
	}
}

// MarkRead handles messageRead for a peer, a group, or both, then pushes fresh unread counts.
func (s *Service) MarkRead(ctx context.Context, sess *auth.Session, req MessageReadRequest) error {
	if req.FromUserID == "" && req.GroupID == "" {
		return domain.Validation("fromUserId or groupId is required")
	}
	if req.FromUserID != "" {
		if _, err := sess.Store().Messages.MarkRead(ctx, req.FromUserID, sess.UserID()); err != nil {
			return storeErr("mark direct messages read", err)
		}
	}
	if req.GroupID != "" {
		if err := s.markGroupRead(ctx, sess, req.GroupID); err != nil {
			return err
		}
	}
	return s.PushUnreadCounts(ctx, sess)
}

// FetchHistory pushes the conversation with a peer, minus messages the caller hid.
func (s *Service) FetchHistory(ctx context.Context, sess *auth.Session, req FetchChatHistoryRequest) ([]models.DirectMessage, error) {
	if err := required("userId", req.UserID); err != nil {
		return nil, err
	}
	history, err := s.History(ctx, sess, req.UserID)
	if err != nil {
		return nil, err
	}
	s.emit(sess, sess.UserID(), EventChatHistory, ChatHistory{UserID: req.UserID, ChatHistory: history})
	return history, nil
}

// History returns the conversation without emitting; the REST read API uses it directly.
func (s *Service) History(ctx context.Context, sess *auth.Session, peerID string) ([]models.DirectMessage, error) {
	history, err := sess.Store().Messages.History(ctx, sess.UserID(), peerID)
	if err != nil {
		return nil, storeErr("load chat history", err)
	}
	return history, nil
}

// ForwardMessage clones a direct or group message into one new direct message per
// destination. Attached files are copied so each clone owns its file.
func (s *Service) ForwardMessage(ctx context.Context, sess *auth.Session, req ForwardMessageRequest) ([]models.DirectMessage, error) {
	if err := required("messageId", req.MessageID); err != nil {
		return nil, err
	}
	destinations := uniqueIDs(req.ToUserIDs)
	if len(destinations) == 0 {
		return nil, domain.Validation("toUserIds is required")
	}

	body, file, err := s.forwardSource(ctx, sess, req)
	if err != nil {
		return nil, err
	}

	senderIsDestination := false
	for _, id := range destinations {
		if id == sess.UserID() {
			senderIsDestination = true
		}
	}

	created := make([]models.DirectMessage, 0, len(destinations))
	for _, to := range destinations {
		msg, err := s.forwardOne(ctx, sess, to, body, file)
		if err != nil {
			return created, err
		}
		created = append(created, msg)
		s.emit(sess, to, EventReceiveMessage, msg)
		if !senderIsDestination {
			s.emit(sess, sess.UserID(), EventReceiveMessage, msg)
		}
	}
	return created, nil
}

// forwardSource loads the message being forwarded. Only a message the caller can
// currently see may be forwarded, so its file is one the caller already has.
func (s *Service) forwardSource(ctx context.Context, sess *auth.Session, req ForwardMessageRequest) (string, *models.FileMeta, error) {
	self := sess.UserID()
	if req.IsGroup {
		src, err := sess.Store().GroupMessages.GetGroupMessage(ctx, req.MessageID)
		if err != nil {
			return "", nil, storeErr("load forwarded group message", err)
		}
		membership, err := s.requireMember(ctx, sess, src.GroupID)
		if err != nil {
			return "", nil, err
		}
		hidden, err := sess.Store().GroupMessages.IsHidden(ctx, src.ID, self)
		if err != nil {
			return "", nil, storeErr("check hide marker", err)
		}
		afterExit := !membership.Active() && membership.DisableDate != nil && src.Timestamp.After(*membership.DisableDate)
		if hidden || afterExit || !src.VisibleTo(self) {
			return "", nil, domain.NotFound("message %s not found", req.MessageID)
		}
		file, ok := src.File()
		return src.Message, optionalFile(file, ok), nil
	}

	src, err := sess.Store().Messages.GetMessage(ctx, req.MessageID)
	if err != nil {
		return "", nil, storeErr("load forwarded message", err)
	}
	if src.FromUserID != self && src.ToUserID != self {
		return "", nil, domain.NotFound("message %s not found", req.MessageID)
	}
	hidden, err := sess.Store().Messages.IsHidden(ctx, src.ID, self)
	if err != nil {
		return "", nil, storeErr("check hide marker", err)
	}
	if hidden {
		return "", nil, domain.NotFound("message %s not found", req.MessageID)
	}
	file, ok := src.File()
	return src.Message, optionalFile(file, ok), nil
}

func (s *Service) forwardOne(ctx context.Context, sess *auth.Session, to, body string, file *models.FileMeta) (models.DirectMessage, error) {
	var copied *models.FileMeta
	if file != nil {
		name, err := s.files.Copy(ctx, sess.TenantID(), file.URL)
		if err != nil {
			return models.DirectMessage{}, domain.Persistence("copy forwarded file", err)
		}
		clone := *file
		clone.URL = name
		copied = &clone
	}

	msg, err := s.createDirect(ctx, sess, to, body, copied)
	if err != nil && copied != nil {
		if delErr := s.files.Delete(ctx, sess.TenantID(), copied.URL); delErr != nil {
			s.logger.Warn("orphaned forwarded file", zapFields(sess, delErr)...)
		}
	}
	return msg, err
}

// DeleteForEveryone lets the sender remove a message and its file for both parties.
func (s *Service) DeleteForEveryone(ctx context.Context, sess *auth.Session, req MessageRef) error {
	if err := required("messageId", req.MessageID); err != nil {
		return err
	}
	msg, err := sess.Store().Messages.GetMessage(ctx, req.MessageID)
	if err != nil {
		return storeErr("load message", err)
	}
	if msg.FromUserID != sess.UserID() {
		return domain.Validation("only the sender can delete a message for everyone")
	}
	if err := s.purgeDirect(ctx, sess, msg); err != nil {
		return err
	}

	event := MessageDeletedForEveryone{MessageID: msg.ID, FromUserID: msg.FromUserID, ToUserID: msg.ToUserID}
	s.emit(sess, msg.FromUserID, EventMessageDeletedForEveryone, event)
	if !msg.IsSelfChat() {
		s.emit(sess, msg.ToUserID, EventMessageDeletedForEveryone, event)
	}
	return nil
}

// DeleteForMe hides a message for the caller. A message someone already hid is
// purged outright instead, as is a note-to-self.
func (s *Service) DeleteForMe(ctx context.Context, sess *auth.Session, req MessageRef) error {
	if err := required("messageId", req.MessageID); err != nil {
		return err
	}
	self := sess.UserID()
	msg, err := sess.Store().Messages.GetMessage(ctx, req.MessageID)
	if err != nil {
		return storeErr("load message", err)
	}
	if msg.FromUserID != self && msg.ToUserID != self {
		return domain.NotFound("message %s not found", req.MessageID)
	}

	switch {
	case msg.IsSelfChat():
		err = s.purgeDirect(ctx, sess, msg)
	default:
		var hidden bool
		hidden, err = sess.Store().Messages.HasHideMarker(ctx, msg.ID)
		if err != nil {
			return storeErr("check hide marker", err)
		}
		if hidden {
			err = s.purgeDirect(ctx, sess, msg)
		} else {
			err = storeErr("hide message", sess.Store().Messages.HideMessage(ctx, msg.ID, self))
		}
	}
	if err != nil {
		return err
	}

	s.emit(sess, self, EventMessageDeletedForMe, MessageDeleted{MessageID: msg.ID})
	return nil
}

// purgeDirect deletes the backing file first, then the row and its hide markers.
// A file another row still references is kept.
func (s *Service) purgeDirect(ctx context.Context, sess *auth.Session, msg models.DirectMessage) error {
	if err := s.releaseFile(ctx, sess, msg.FileURL, 1); err != nil {
		return domain.Persistence("delete message file", err)
	}
	return storeErr("delete message", sess.Store().Messages.DeleteMessage(ctx, msg.ID))
}

func optionalFile(file models.FileMeta, ok bool) *models.FileMeta {
	if !ok {
		return nil
	}
	return &file
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
