package memstore

import (
	"context"
	"sort"
	"time"

	"crm-chat/internal/models"
	"crm-chat/internal/repositories"
)

type groupMessages struct{ s *Store }

func (r groupMessages) CreateGroupMessage(_ context.Context, msg models.GroupMessage) (models.GroupMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if msg.ReadBy == nil {
		msg.ReadBy = models.NewReadBy()
	}
	stored := msg
	stored.ReadBy = msg.ReadBy.Clone()
	r.s.groupMessages[msg.ID] = stored
	return msg, nil
}

func (r groupMessages) GetGroupMessage(_ context.Context, messageID string) (models.GroupMessage, error) {
	m, ok := r.s.GroupMessage(messageID)
	if !ok {
		return models.GroupMessage{}, repositories.ErrMessageNotFound
	}
	return m, nil
}

func (s *Store) visibleTo(m models.GroupMessage, userID string) bool {
	if !m.VisibleTo(userID) {
		return false
	}
	_, hidden := s.groupHides[hideKey{m.ID, userID}]
	return !hidden
}

func (r groupMessages) ListGroupMessages(_ context.Context, groupID, viewerID string, until *time.Time) ([]models.GroupMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.GroupMessage{}
	for _, m := range r.s.groupMessages {
		if m.GroupID != groupID || !r.s.visibleTo(m, viewerID) {
			continue
		}
		if until != nil && m.Timestamp.After(*until) {
			continue
		}
		m.ReadBy = m.ReadBy.Clone()
		out = append(out, m)
	}
	sortGroupMessages(out)
	return out, nil
}

func (r groupMessages) UnreadMessageIDs(_ context.Context, groupID, userID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var msgs []models.GroupMessage
	for _, m := range r.s.groupMessages {
		if m.GroupID == groupID && !m.ReadBy.Contains(userID) && r.s.visibleTo(m, userID) {
			msgs = append(msgs, m)
		}
	}
	sortGroupMessages(msgs)
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (r groupMessages) AddReader(_ context.Context, messageID, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.groupMessages[messageID]
	if !ok {
		return false, nil
	}
	return m.ReadBy.Add(userID), nil
}

func (r groupMessages) UnreadCounts(_ context.Context, userID string) (map[string]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := map[string]int{}
	for _, m := range r.s.groupMessages {
		member, ok := r.s.members[memberKey{m.GroupID, userID}]
		if !ok || !member.IsActive {
			continue
		}
		if !m.ReadBy.Contains(userID) && r.s.visibleTo(m, userID) {
			counts[m.GroupID]++
		}
	}
	return counts, nil
}

func (r groupMessages) DeleteGroupMessage(_ context.Context, messageID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.groupMessages[messageID]; !ok {
		return repositories.ErrMessageNotFound
	}
	delete(r.s.groupMessages, messageID)
	r.s.dropGroupHides(messageID)
	return nil
}

func (r groupMessages) HideGroupMessage(_ context.Context, messageID, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.groupHides[hideKey{messageID, userID}] = struct{}{}
	return nil
}

func (r groupMessages) CountActiveWithoutHide(_ context.Context, messageID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.groupMessages[messageID]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, id := range r.s.activeMemberIDs(m.GroupID) {
		if m.ExcludedUserID != nil && *m.ExcludedUserID == id {
			continue
		}
		if _, hidden := r.s.groupHides[hideKey{messageID, id}]; !hidden {
			n++
		}
	}
	return n, nil
}

func (r groupMessages) CountFileRefs(_ context.Context, fileURL string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, m := range r.s.groupMessages {
		if m.FileURL != nil && *m.FileURL == fileURL {
			n++
		}
	}
	return n, nil
}

type notifications struct{ s *Store }

func (r notifications) CreateMessageNotification(_ context.Context, n models.MessageNotification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.messageNotices = append(r.s.messageNotices, n)
	return nil
}

func (r notifications) ListMessageNotifications(_ context.Context, userID string) ([]models.MessageNotification, error) {
	out := r.s.MessageNotifications(userID)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if out == nil {
		out = []models.MessageNotification{}
	}
	return out, nil
}

func (r notifications) CreatePersonalNotification(_ context.Context, n models.PersonalNotification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.personal = append(r.s.personal, n)
	return nil
}

func (r notifications) ListPersonalNotifications(_ context.Context, userID, groupID string) ([]models.PersonalNotification, error) {
	out := []models.PersonalNotification{}
	for _, n := range r.s.PersonalNotifications(userID) {
		if n.GroupID == groupID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r notifications) ClearNotifications(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	keptMessages := r.s.messageNotices[:0]
	for _, n := range r.s.messageNotices {
		if n.UserID != userID {
			keptMessages = append(keptMessages, n)
		}
	}
	r.s.messageNotices = keptMessages
	keptPersonal := r.s.personal[:0]
	for _, n := range r.s.personal {
		if n.UserID != userID {
			keptPersonal = append(keptPersonal, n)
		}
	}
	r.s.personal = keptPersonal
	return nil
}

func (r groupMessages) IsHidden(_ context.Context, messageID, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.groupHides[hideKey{messageID, userID}]
	return ok, nil
}
