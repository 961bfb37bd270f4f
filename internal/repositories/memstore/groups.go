package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"crm-chat/internal/models"
	"crm-chat/internal/repositories"
)

type groups struct{ s *Store }

func (r groups) CreateGroup(_ context.Context, group models.Group, memberIDs []string) (models.Group, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.groups[group.ID]; exists {
		return models.Group{}, errors.Errorf("group %s already exists", group.ID)
	}
	r.s.groups[group.ID] = group
	for _, id := range repositories.MemberSet(group.CreatorID, memberIDs) {
		r.s.members[memberKey{group.ID, id}] = models.GroupMembership{GroupID: group.ID, UserID: id, IsActive: true}
	}
	return group, nil
}

func (r groups) GetGroup(_ context.Context, groupID string) (models.Group, error) {
	g, ok := r.s.Group(groupID)
	if !ok {
		return models.Group{}, repositories.ErrGroupNotFound
	}
	return g, nil
}

func (r groups) ListGroupsForUser(_ context.Context, userID string) ([]models.Group, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.Group{}
	for key := range r.s.members {
		if key.userID != userID {
			continue
		}
		if g, ok := r.s.groups[key.groupID]; ok {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r groups) GetMembership(_ context.Context, groupID, userID string) (models.GroupMembership, bool, error) {
	m, ok := r.s.Membership(groupID, userID)
	return m, ok, nil
}

func (r groups) ListMembers(_ context.Context, groupID string) ([]models.GroupMembership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.GroupMembership{}
	for key, m := range r.s.members {
		if key.groupID == groupID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r groups) ActiveMemberIDs(_ context.Context, groupID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.activeMemberIDs(groupID), nil
}

func (s *Store) activeMemberIDs(groupID string) []string {
	ids := []string{}
	for key, m := range s.members {
		if key.groupID == groupID && m.IsActive {
			ids = append(ids, key.userID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r groups) AddMember(_ context.Context, groupID, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{groupID, userID}
	if _, exists := r.s.members[key]; exists {
		return errors.Errorf("membership %s/%s already exists", groupID, userID)
	}
	r.s.members[key] = models.GroupMembership{GroupID: groupID, UserID: userID, IsActive: true}
	return nil
}

func (r groups) ReactivateMember(_ context.Context, groupID, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{groupID, userID}
	m, ok := r.s.members[key]
	if !ok || m.IsActive {
		return false, nil
	}
	m.IsActive, m.DisableDate, m.RemovedByAdmin = true, nil, false
	r.s.members[key] = m
	return true, nil
}

func (r groups) DisableMember(_ context.Context, groupID, userID string, removedByAdmin bool, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{groupID, userID}
	m, ok := r.s.members[key]
	if !ok || !m.IsActive {
		return false, nil
	}
	disabledAt := at
	m.IsActive, m.DisableDate, m.RemovedByAdmin = false, &disabledAt, removedByAdmin
	r.s.members[key] = m
	return true, nil
}

func (r groups) DeleteMember(_ context.Context, groupID, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.members, memberKey{groupID, userID})
	return nil
}

func (r groups) CountMembers(_ context.Context, groupID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for key := range r.s.members {
		if key.groupID == groupID {
			n++
		}
	}
	return n, nil
}

func (r groups) TransferOwnership(_ context.Context, groupID, fromUserID, toUserID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.groups[groupID]
	if !ok || g.CreatorID != fromUserID {
		return repositories.ErrOwnershipConflict
	}
	g.CreatorID = toUserID
	r.s.groups[groupID] = g
	return nil
}

func (r groups) DeleteGroup(_ context.Context, groupID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, m := range r.s.groupMessages {
		if m.GroupID != groupID {
			continue
		}
		delete(r.s.groupMessages, id)
		r.s.dropGroupHides(id)
	}
	kept := r.s.personal[:0]
	for _, n := range r.s.personal {
		if n.GroupID != groupID {
			kept = append(kept, n)
		}
	}
	r.s.personal = kept
	for key := range r.s.members {
		if key.groupID == groupID {
			delete(r.s.members, key)
		}
	}
	delete(r.s.groups, groupID)
	return nil
}

func (s *Store) dropGroupHides(messageID string) {
	for key := range s.groupHides {
		if key.messageID == messageID {
			delete(s.groupHides, key)
		}
	}
}

func (r groups) CountImageRefs(_ context.Context, imageURL string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, g := range r.s.groups {
		if g.Image != nil && *g.Image == imageURL {
			n++
		}
	}
	return n, nil
}
