package chat

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"crm-chat/internal/auth"
	"crm-chat/internal/domain"
	"crm-chat/internal/models"
	"crm-chat/internal/repositories"
)

// CreateGroup creates a group owned by the caller with every listed user as an
// active member, then announces it to each member.
func (s *Service) CreateGroup(ctx context.Context, sess *auth.Session, req CreateGroupRequest) (models.Group, error) {
	name := strings.TrimSpace(req.GroupName)
	if name == "" {
		return models.Group{}, domain.Validation("groupName is required")
	}
	if req.TenantID != "" && req.TenantID != sess.TenantID() {
		return models.Group{}, domain.Validation("tenantID does not match the session")
	}
	if req.Image != nil && *req.Image != "" {
		if err := s.requireFile(ctx, sess, *req.Image); err != nil {
			return models.Group{}, err
		}
	}

	members := repositories.MemberSet(sess.UserID(), uniqueIDs(req.UserIDs))
	known, err := sess.Store().Users.GetUsers(ctx, members)
	if err != nil {
		return models.Group{}, storeErr("load group members", err)
	}
	for _, id := range members {
		if _, ok := known[id]; !ok && id != sess.UserID() {
			return models.Group{}, domain.Validation("unknown user %s", id)
		}
	}

	group, err := sess.Store().Groups.CreateGroup(ctx, models.Group{
		ID:        uuid.NewString(),
		TenantID:  sess.TenantID(),
		Name:      name,
		CreatorID: sess.UserID(),
		CreatedAt: s.now(),
		Image:     req.Image,
	}, members)
	if err != nil {
		return models.Group{}, storeErr("create group", err)
	}

	s.emitAll(sess, members, EventGroupCreated, GroupCreated{Group: group, Members: members})
	creator := sess.User().DisplayName()
	for _, id := range members {
		if id != sess.UserID() {
			s.notify(ctx, sess, id, group.Name, creator+" added you to the group", group.Image)
		}
	}
	s.auditGroup(ctx, sess, "group_created", group.ID, "group "+group.Name+" created")
	return group, nil
}

// SendGroupMessage posts a text message and fans it out to active members.
func (s *Service) SendGroupMessage(ctx context.Context, sess *auth.Session, req SendGroupMessageRequest) (models.GroupMessage, error) {
	return s.postGroupMessage(ctx, sess, req.GroupID, req.Message, nil)
}

// SendGroupFileMessage is SendGroupMessage with an uploaded file attached.
func (s *Service) SendGroupFileMessage(ctx context.Context, sess *auth.Session, req SendGroupFileMessageRequest) (models.GroupMessage, error) {
	if err := required("fileUrl", req.FileURL); err != nil {
		return models.GroupMessage{}, err
	}
	if err := s.requireFile(ctx, sess, req.FileURL); err != nil {
		return models.GroupMessage{}, err
	}
	return s.postGroupMessage(ctx, sess, req.GroupID, req.Message, req.File())
}

func (s *Service) postGroupMessage(ctx context.Context, sess *auth.Session, groupID, body string, file *models.FileMeta) (models.GroupMessage, error) {
	if err := required("groupId", groupID); err != nil {
		return models.GroupMessage{}, err
	}
	group, err := s.requireActive(ctx, sess, groupID)
	if err != nil {
		return models.GroupMessage{}, err
	}
	msg, err := models.NewGroupMessage(group.ID, sess.UserID(), body, file, s.now())
	if err != nil {
		return models.GroupMessage{}, err
	}
	saved, err := sess.Store().GroupMessages.CreateGroupMessage(ctx, msg)
	if err != nil {
		return models.GroupMessage{}, storeErr("create group message", err)
	}

	active, err := sess.Store().Groups.ActiveMemberIDs(ctx, group.ID)
	if err != nil {
		return models.GroupMessage{}, storeErr("list active members", err)
	}
	profile := sess.User().Profile()
	s.emitAll(sess, active, EventReceiveGroupMessage, GroupHistoryEntry{GroupMessage: saved, Sender: &profile})

	preview := body
	if preview == "" && file != nil {
		preview = file.Name
	}
	subText := sess.User().DisplayName() + ": " + preview
	for _, id := range active {
		if id != sess.UserID() {
			s.notify(ctx, sess, id, group.Name, subText, group.Image)
		}
	}
	return saved, nil
}

// markGroupRead unions the caller into read_by of every unread visible message.
// Each union is a single conditional statement, so the set only grows.
func (s *Service) markGroupRead(ctx context.Context, sess *auth.Session, groupID string) error {
	if _, err := s.requireMember(ctx, sess, groupID); err != nil {
		return err
	}
	ids, err := sess.Store().GroupMessages.UnreadMessageIDs(ctx, groupID, sess.UserID())
	if err != nil {
		return storeErr("list unread group messages", err)
	}
	for _, id := range ids {
		if _, err := sess.Store().GroupMessages.AddReader(ctx, id, sess.UserID()); err != nil {
			return storeErr("add group reader", err)
		}
	}
	return nil
}

// FetchGroupHistory pushes the caller's view of a group: visible messages merged
// with the caller's personal notes, capped at the disable date for former members.
func (s *Service) FetchGroupHistory(ctx context.Context, sess *auth.Session, req GroupRef) (GroupChatHistory, error) {
	history, err := s.GroupHistory(ctx, sess, req.GroupID)
	if err != nil {
		return GroupChatHistory{}, err
	}
	s.emit(sess, sess.UserID(), EventGroupChatHistory, history)
	return history, nil
}

// GroupHistory builds the history view without emitting.
func (s *Service) GroupHistory(ctx context.Context, sess *auth.Session, groupID string) (GroupChatHistory, error) {
	if err := required("groupId", groupID); err != nil {
		return GroupChatHistory{}, err
	}
	group, err := sess.Store().Groups.GetGroup(ctx, groupID)
	if err != nil {
		return GroupChatHistory{}, storeErr("load group", err)
	}
	membership, err := s.requireMember(ctx, sess, groupID)
	if err != nil {
		return GroupChatHistory{}, err
	}

	var until = membership.DisableDate
	if membership.Active() {
		until = nil
	}
	msgs, err := sess.Store().GroupMessages.ListGroupMessages(ctx, groupID, sess.UserID(), until)
	if err != nil {
		return GroupChatHistory{}, storeErr("list group messages", err)
	}
	notes, err := sess.Store().Notifications.ListPersonalNotifications(ctx, sess.UserID(), groupID)
	if err != nil {
		return GroupChatHistory{}, storeErr("list personal notifications", err)
	}
	members, err := sess.Store().Groups.ListMembers(ctx, groupID)
	if err != nil {
		return GroupChatHistory{}, storeErr("list members", err)
	}

	ids := make([]string, 0, len(members)+len(msgs))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	for _, m := range msgs {
		if m.FromUserID != nil {
			ids = append(ids, *m.FromUserID)
		}
	}
	users, err := sess.Store().Users.GetUsers(ctx, uniqueIDs(ids))
	if err != nil {
		return GroupChatHistory{}, storeErr("load profiles", err)
	}

	entries := make([]GroupHistoryEntry, 0, len(msgs)+len(notes))
	for _, m := range msgs {
		entry := GroupHistoryEntry{GroupMessage: m}
		if m.FromUserID != nil {
			if u, ok := users[*m.FromUserID]; ok {
				profile := u.Profile()
				entry.Sender = &profile
			}
		}
		entries = append(entries, entry)
	}
	for _, n := range notes {
		entries = append(entries, personalEntry(n))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	return GroupChatHistory{
		GroupID:     groupID,
		ChatHistory: entries,
		Members:     memberViews(group, members, users),
	}, nil
}

// ListGroups returns every group the caller has a membership row in.
func (s *Service) ListGroups(ctx context.Context, sess *auth.Session) ([]models.Group, error) {
	groups, err := sess.Store().Groups.ListGroupsForUser(ctx, sess.UserID())
	if err != nil {
		return nil, storeErr("list groups", err)
	}
	return groups, nil
}

// DeleteGroupMessageForEveryone lets the sender remove a group message and its file.
func (s *Service) DeleteGroupMessageForEveryone(ctx context.Context, sess *auth.Session, req MessageRef) error {
	if err := required("messageId", req.MessageID); err != nil {
		return err
	}
	msg, err := sess.Store().GroupMessages.GetGroupMessage(ctx, req.MessageID)
	if err != nil {
		return storeErr("load group message", err)
	}
	if !msg.SentBy(sess.UserID()) {
		return domain.Validation("only the sender can delete a group message for everyone")
	}
	if err := s.purgeGroupMessage(ctx, sess, msg); err != nil {
		return err
	}

	// Former members still hold the message in their capped history.
	members, err := sess.Store().Groups.ListMembers(ctx, msg.GroupID)
	if err != nil {
		return storeErr("list members", err)
	}
	event := MessageDeleted{MessageID: msg.ID, GroupID: msg.GroupID}
	for _, m := range members {
		s.emit(sess, m.UserID, EventGroupMessageDeletedForEveryone, event)
	}
	return nil
}

// DeleteGroupMessageForMe hides a group message for the caller and purges it once
// no active member can still see it.
func (s *Service) DeleteGroupMessageForMe(ctx context.Context, sess *auth.Session, req MessageRef) error {
	if err := required("messageId", req.MessageID); err != nil {
		return err
	}
	msg, err := sess.Store().GroupMessages.GetGroupMessage(ctx, req.MessageID)
	if err != nil {
		return storeErr("load group message", err)
	}
	if _, err := s.requireMember(ctx, sess, msg.GroupID); err != nil {
		return err
	}
	if err := sess.Store().GroupMessages.HideGroupMessage(ctx, msg.ID, sess.UserID()); err != nil {
		return storeErr("hide group message", err)
	}

	// Re-read coverage after the insert; a concurrent hide may have completed it.
	remaining, err := sess.Store().GroupMessages.CountActiveWithoutHide(ctx, msg.ID)
	if err != nil {
		return storeErr("count hide coverage", err)
	}
	if remaining == 0 {
		if err := s.purgeGroupMessage(ctx, sess, msg); err != nil && domain.KindOf(err) != domain.KindNotFound {
			return err
		}
	}

	s.emit(sess, sess.UserID(), EventGroupMessageDeletedForMe, MessageDeleted{MessageID: msg.ID, GroupID: msg.GroupID})
	return nil
}

func (s *Service) purgeGroupMessage(ctx context.Context, sess *auth.Session, msg models.GroupMessage) error {
	if err := s.releaseFile(ctx, sess, msg.FileURL, 1); err != nil {
		return domain.Persistence("delete group message file", err)
	}
	return storeErr("delete group message", sess.Store().GroupMessages.DeleteGroupMessage(ctx, msg.ID))
}

// Typing relays a typing indicator to a group's other active members or to one peer.
// Nothing is stored.
func (s *Service) Typing(ctx context.Context, sess *auth.Session, event string, req TypingRequest) error {
	self := sess.UserID()
	switch {
	case req.GroupID != "":
		if _, err := s.requireActive(ctx, sess, req.GroupID); err != nil {
			return err
		}
		members, err := sess.Store().Groups.ActiveMemberIDs(ctx, req.GroupID)
		if err != nil {
			return storeErr("list active members", err)
		}
		for _, id := range members {
			if id != self {
				s.emit(sess, id, event, Typing{UserID: self, GroupID: req.GroupID})
			}
		}
	case req.UserID != "":
		if req.UserID != self {
			s.emit(sess, req.UserID, event, Typing{UserID: self})
		}
	default:
		return domain.Validation("groupId or userId is required")
	}
	return nil
}

// requireActive loads the group and checks the caller holds an active membership.
func (s *Service) requireActive(ctx context.Context, sess *auth.Session, groupID string) (models.Group, error) {
	group, err := sess.Store().Groups.GetGroup(ctx, groupID)
	if err != nil {
		return models.Group{}, storeErr("load group", err)
	}
	membership, err := s.requireMember(ctx, sess, groupID)
	if err != nil {
		return models.Group{}, err
	}
	if !membership.Active() {
		return models.Group{}, domain.Validation("membership in group %s is disabled", groupID)
	}
	return group, nil
}

// requireMember returns the caller's membership row in any state.
func (s *Service) requireMember(ctx context.Context, sess *auth.Session, groupID string) (models.GroupMembership, error) {
	membership, found, err := sess.Store().Groups.GetMembership(ctx, groupID, sess.UserID())
	if err != nil {
		return models.GroupMembership{}, storeErr("load membership", err)
	}
	if !found {
		return models.GroupMembership{}, domain.NotFound("not a member of group %s", groupID)
	}
	return membership, nil
}

func personalEntry(n models.PersonalNotification) GroupHistoryEntry {
	return GroupHistoryEntry{
		GroupMessage: models.GroupMessage{
			ID:        n.ID,
			GroupID:   n.GroupID,
			Message:   n.Message,
			Timestamp: n.CreatedAt,
			ReadBy:    models.NewReadBy(n.UserID),
			System:    n.System,
		},
		Personal: true,
	}
}

func memberViews(group models.Group, members []models.GroupMembership, users map[string]models.User) []GroupMemberView {
	views := make([]GroupMemberView, 0, len(members))
	for _, m := range members {
		u := users[m.UserID]
		views = append(views, GroupMemberView{
			UserID:       m.UserID,
			FirstName:    u.FirstName,
			LastName:     u.LastName,
			ProfileImage: u.ProfileImage,
			IsActive:     m.Active(),
			IsCreator:    m.UserID == group.CreatorID,
		})
	}
	return views
}
