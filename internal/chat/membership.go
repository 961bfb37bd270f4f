package chat

import (
	"context"

	"github.com/pkg/errors"

	"crm-chat/internal/auth"
	"crm-chat/internal/domain"
	"crm-chat/internal/models"
	"crm-chat/internal/repositories"
)

// AddUserToGroup reactivates a disabled membership or inserts a new one.
func (s *Service) AddUserToGroup(ctx context.Context, sess *auth.Session, req GroupMemberRequest) error {
	if err := required("groupId", req.GroupID); err != nil {
		return err
	}
	if err := required("userId", req.UserID); err != nil {
		return err
	}
	group, err := s.requireActive(ctx, sess, req.GroupID)
	if err != nil {
		return err
	}
	target, err := sess.Store().Users.GetUser(ctx, req.UserID)
	if err != nil {
		return storeErr("load user", err)
	}

	existing, found, err := sess.Store().Groups.GetMembership(ctx, group.ID, target.ID)
	if err != nil {
		return storeErr("load membership", err)
	}
	reenabled := false
	switch {
	case found && existing.Active():
		return domain.Validation("user %s is already an active member", target.ID)
	case found:
		changed, err := sess.Store().Groups.ReactivateMember(ctx, group.ID, target.ID)
		if err != nil {
			return storeErr("reactivate member", err)
		}
		if !changed {
			return domain.Validation("user %s is already an active member", target.ID)
		}
		reenabled = true
	default:
		if err := sess.Store().Groups.AddMember(ctx, group.ID, target.ID); err != nil {
			return storeErr("add member", err)
		}
	}

	actor := sess.User().DisplayName()
	name := target.DisplayName()
	if err := s.postSystem(ctx, sess, group, actor+" added "+name+" to the group.", sess.UserID()); err != nil {
		return err
	}
	if err := s.personalNote(ctx, sess, group.ID, "You added "+name+" to the group."); err != nil {
		return err
	}

	active, err := sess.Store().Groups.ActiveMemberIDs(ctx, group.ID)
	if err != nil {
		return storeErr("list active members", err)
	}
	s.emitAll(sess, active, EventUserAddedToGroup, UserAddedToGroup{GroupID: group.ID, UserID: target.ID, AddedBy: sess.UserID()})
	if reenabled {
		s.emit(sess, target.ID, EventGroupReenabled, GroupRef{GroupID: group.ID})
	}
	s.notify(ctx, sess, target.ID, group.Name, actor+" added you to the group", group.Image)
	s.auditGroup(ctx, sess, "member_added", group.ID, "added "+target.ID)
	return nil
}

// RemoveUserFromGroup disables another member's row. Removing the last active
// member only asks for confirmation; removing the owner requires a transfer first.
func (s *Service) RemoveUserFromGroup(ctx context.Context, sess *auth.Session, req GroupMemberRequest) error {
	if err := required("groupId", req.GroupID); err != nil {
		return err
	}
	if err := required("userId", req.UserID); err != nil {
		return err
	}
	group, err := s.requireActive(ctx, sess, req.GroupID)
	if err != nil {
		return err
	}
	target, found, err := sess.Store().Groups.GetMembership(ctx, group.ID, req.UserID)
	if err != nil {
		return storeErr("load membership", err)
	}
	if !found || !target.Active() {
		return domain.NotFound("user %s is not an active member", req.UserID)
	}

	active, err := sess.Store().Groups.ActiveMemberIDs(ctx, group.ID)
	if err != nil {
		return storeErr("list active members", err)
	}
	if len(active) == 1 && active[0] == target.UserID {
		s.emit(sess, sess.UserID(), EventConfirmDeleteLastUser, ConfirmDeleteLastUser{GroupID: group.ID, UserID: target.UserID})
		return nil
	}
	if target.UserID == group.CreatorID {
		return domain.Validation("transfer ownership before removing the group owner")
	}

	changed, err := sess.Store().Groups.DisableMember(ctx, group.ID, target.UserID, true, s.now())
	if err != nil {
		return storeErr("disable member", err)
	}
	if !changed {
		return domain.Validation("user %s is no longer an active member", target.UserID)
	}

	removed, err := sess.Store().Users.GetUser(ctx, target.UserID)
	if err != nil && !errors.Is(err, repositories.ErrUserNotFound) {
		return storeErr("load user", err)
	}
	name := displayNameOr(removed, target.UserID)
	actor := sess.User().DisplayName()
	if err := s.postSystem(ctx, sess, group, actor+" removed "+name+" from the group.", sess.UserID()); err != nil {
		return err
	}
	if err := s.personalNote(ctx, sess, group.ID, "You removed "+name+" from the group."); err != nil {
		return err
	}

	event := UserRemovedFromGroup{GroupID: group.ID, UserID: target.UserID, RemovedByAdmin: true}
	if err := s.emitToActive(ctx, sess, group.ID, EventUserRemovedFromGroup, event); err != nil {
		return err
	}
	s.emit(sess, target.UserID, EventUserRemovedFromGroup, event)
	s.notify(ctx, sess, target.UserID, group.Name, actor+" removed you from the group", group.Image)
	s.auditGroup(ctx, sess, "member_removed", group.ID, "removed "+target.UserID)
	return nil
}

// LeaveGroup disables the caller's membership. An owner with other active
// members is asked to pick a new owner instead, and the others are told so.
func (s *Service) LeaveGroup(ctx context.Context, sess *auth.Session, req GroupRef) error {
	if err := required("groupId", req.GroupID); err != nil {
		return err
	}
	group, err := s.requireActive(ctx, sess, req.GroupID)
	if err != nil {
		return err
	}
	active, err := sess.Store().Groups.ActiveMemberIDs(ctx, group.ID)
	if err != nil {
		return storeErr("list active members", err)
	}

	switch {
	case len(active) == 1:
		changed, err := sess.Store().Groups.DisableMember(ctx, group.ID, sess.UserID(), false, s.now())
		if err != nil {
			return storeErr("disable member", err)
		}
		if changed {
			s.emit(sess, sess.UserID(), EventGroupDisabled, GroupRef{GroupID: group.ID})
		}
		return nil
	case group.CreatorID == sess.UserID():
		views, err := s.activeMemberViews(ctx, sess, group, active)
		if err != nil {
			return err
		}
		if err := s.postSystem(ctx, sess, group, sess.User().DisplayName()+" is choosing a new owner.", sess.UserID()); err != nil {
			return err
		}
		if err := s.personalNote(ctx, sess, group.ID, "Select a new owner before leaving the group."); err != nil {
			return err
		}
		s.emit(sess, sess.UserID(), EventPromptSelectNewOwner, PromptSelectNewOwner{GroupID: group.ID, Members: views})
		return nil
	default:
		return s.depart(ctx, sess, group, "You left the group.")
	}
}

// depart disables the caller's membership, posts the departure notice to the
// remaining members and tells the caller the group is disabled for them.
func (s *Service) depart(ctx context.Context, sess *auth.Session, group models.Group, note string) error {
	changed, err := sess.Store().Groups.DisableMember(ctx, group.ID, sess.UserID(), false, s.now())
	if err != nil {
		return storeErr("disable member", err)
	}
	if !changed {
		return domain.Validation("membership in group %s is already disabled", group.ID)
	}

	if err := s.postSystem(ctx, sess, group, sess.User().DisplayName()+" left the group.", sess.UserID()); err != nil {
		return err
	}
	if err := s.personalNote(ctx, sess, group.ID, note); err != nil {
		return err
	}
	event := UserRemovedFromGroup{GroupID: group.ID, UserID: sess.UserID(), RemovedByAdmin: false}
	if err := s.emitToActive(ctx, sess, group.ID, EventUserRemovedFromGroup, event); err != nil {
		return err
	}
	s.emit(sess, sess.UserID(), EventGroupDisabled, GroupRef{GroupID: group.ID})
	return nil
}

// DeleteGroup removes a former member's own row. The last row of any kind takes
// the whole group with it.
func (s *Service) DeleteGroup(ctx context.Context, sess *auth.Session, req GroupRef) error {
	if err := required("groupId", req.GroupID); err != nil {
		return err
	}
	group, err := sess.Store().Groups.GetGroup(ctx, req.GroupID)
	if err != nil {
		return storeErr("load group", err)
	}
	membership, err := s.requireMember(ctx, sess, group.ID)
	if err != nil {
		return err
	}
	if membership.Active() {
		return domain.Validation("leave the group before deleting it")
	}

	total, err := sess.Store().Groups.CountMembers(ctx, group.ID)
	if err != nil {
		return storeErr("count members", err)
	}
	if total <= 1 {
		if err := s.destroyGroup(ctx, sess, group); err != nil {
			return err
		}
	} else if err := sess.Store().Groups.DeleteMember(ctx, group.ID, sess.UserID()); err != nil {
		return storeErr("delete member", err)
	}

	s.emit(sess, sess.UserID(), EventGroupDeleted, GroupRef{GroupID: group.ID})
	return nil
}

// ConfirmDeleteGroup hard-deletes a group once no other member is active, which
// is the state confirmDeleteLastUser asks about.
func (s *Service) ConfirmDeleteGroup(ctx context.Context, sess *auth.Session, req GroupRef) error {
	if err := required("groupId", req.GroupID); err != nil {
		return err
	}
	group, err := sess.Store().Groups.GetGroup(ctx, req.GroupID)
	if err != nil {
		return storeErr("load group", err)
	}
	if _, err := s.requireMember(ctx, sess, group.ID); err != nil {
		return err
	}
	active, err := sess.Store().Groups.ActiveMemberIDs(ctx, group.ID)
	if err != nil {
		return storeErr("list active members", err)
	}
	for _, id := range active {
		if id != sess.UserID() {
			return domain.Validation("group %s still has active members", group.ID)
		}
	}

	members, err := sess.Store().Groups.ListMembers(ctx, group.ID)
	if err != nil {
		return storeErr("list members", err)
	}
	if err := s.destroyGroup(ctx, sess, group); err != nil {
		return err
	}
	for _, m := range members {
		s.emit(sess, m.UserID, EventGroupDeleted, GroupRef{GroupID: group.ID})
	}
	return nil
}

func (s *Service) destroyGroup(ctx context.Context, sess *auth.Session, group models.Group) error {
	if err := sess.Store().Groups.DeleteGroup(ctx, group.ID); err != nil {
		return storeErr("delete group", err)
	}
	if err := s.releaseFile(ctx, sess, group.Image, 0); err != nil {
		s.logger.Warn("group image not removed", zapFields(sess, err)...)
	}
	s.auditGroup(ctx, sess, "group_deleted", group.ID, "group "+group.Name+" deleted")
	return nil
}

// TransferOwnership hands the group to another active member, then the previous
// owner leaves.
func (s *Service) TransferOwnership(ctx context.Context, sess *auth.Session, req TransferOwnershipRequest) error {
	if err := required("groupId", req.GroupID); err != nil {
		return err
	}
	if err := required("newOwnerId", req.NewOwnerID); err != nil {
		return err
	}
	group, err := s.requireActive(ctx, sess, req.GroupID)
	if err != nil {
		return err
	}
	if group.CreatorID != sess.UserID() {
		return domain.Validation("only the group owner can transfer ownership")
	}
	if req.NewOwnerID == sess.UserID() {
		return domain.Validation("new owner must be another member")
	}
	next, found, err := sess.Store().Groups.GetMembership(ctx, group.ID, req.NewOwnerID)
	if err != nil {
		return storeErr("load membership", err)
	}
	if !found || !next.Active() {
		return domain.Validation("new owner must be an active member")
	}

	if err := sess.Store().Groups.TransferOwnership(ctx, group.ID, sess.UserID(), req.NewOwnerID); err != nil {
		if errors.Is(err, repositories.ErrOwnershipConflict) {
			return domain.Validation("group %s owner changed concurrently", group.ID)
		}
		return storeErr("transfer ownership", err)
	}
	group.CreatorID = req.NewOwnerID

	event := GroupOwnershipTransferred{GroupID: group.ID, PreviousOwnerID: sess.UserID(), NewOwnerID: req.NewOwnerID}
	if err := s.emitToActive(ctx, sess, group.ID, EventGroupOwnershipTransferred, event); err != nil {
		return err
	}
	s.auditGroup(ctx, sess, "ownership_transferred", group.ID, "ownership transferred to "+req.NewOwnerID)

	newOwner, err := sess.Store().Users.GetUser(ctx, req.NewOwnerID)
	if err != nil && !errors.Is(err, repositories.ErrUserNotFound) {
		return storeErr("load user", err)
	}
	return s.depart(ctx, sess, group, "You made "+displayNameOr(newOwner, req.NewOwnerID)+" the owner and left the group.")
}

// postSystem stores a sender-less notice hidden from excludedUserID and delivers
// it to every other active member.
func (s *Service) postSystem(ctx context.Context, sess *auth.Session, group models.Group, text, excludedUserID string) error {
	msg := models.NewSystemMessage(group.ID, text, excludedUserID, s.now())
	saved, err := sess.Store().GroupMessages.CreateGroupMessage(ctx, msg)
	if err != nil {
		return storeErr("create system message", err)
	}
	active, err := sess.Store().Groups.ActiveMemberIDs(ctx, group.ID)
	if err != nil {
		return storeErr("list active members", err)
	}
	for _, id := range active {
		if saved.VisibleTo(id) {
			s.emit(sess, id, EventReceiveGroupMessage, GroupHistoryEntry{GroupMessage: saved})
		}
	}
	return nil
}

// personalNote records a private log line for the caller and pushes it to them.
func (s *Service) personalNote(ctx context.Context, sess *auth.Session, groupID, text string) error {
	n := models.NewPersonalNotification(sess.UserID(), groupID, text, s.now())
	if err := sess.Store().Notifications.CreatePersonalNotification(ctx, n); err != nil {
		return storeErr("create personal notification", err)
	}
	s.emit(sess, sess.UserID(), EventReceiveGroupMessage, personalEntry(n))
	return nil
}

func (s *Service) emitToActive(ctx context.Context, sess *auth.Session, groupID, event string, data any) error {
	active, err := sess.Store().Groups.ActiveMemberIDs(ctx, groupID)
	if err != nil {
		return storeErr("list active members", err)
	}
	s.emitAll(sess, active, event, data)
	return nil
}

func (s *Service) activeMemberViews(ctx context.Context, sess *auth.Session, group models.Group, active []string) ([]GroupMemberView, error) {
	others := make([]string, 0, len(active))
	for _, id := range active {
		if id != sess.UserID() {
			others = append(others, id)
		}
	}
	users, err := sess.Store().Users.GetUsers(ctx, others)
	if err != nil {
		return nil, storeErr("load profiles", err)
	}
	rows := make([]models.GroupMembership, 0, len(others))
	for _, id := range others {
		rows = append(rows, models.GroupMembership{GroupID: group.ID, UserID: id, IsActive: true})
	}
	return memberViews(group, rows, users), nil
}

func displayNameOr(u models.User, fallback string) string {
	if u.ID == "" {
		return fallback
	}
	return u.DisplayName()
}
