// Package memstore is an in-memory tenant store with the same semantics as the
// sqlx repositories. It backs engine tests and local runs without Postgres.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"crm-chat/internal/models"
	"crm-chat/internal/repositories"
)

type memberKey struct {
	groupID string
	userID  string
}

type hideKey struct {
	messageID string
	userID    string
}

// Store holds every table of one tenant schema.
type Store struct {
	mu sync.Mutex

	users          map[string]models.User
	direct         map[string]models.DirectMessage
	directHides    map[hideKey]struct{}
	groups         map[string]models.Group
	members        map[memberKey]models.GroupMembership
	groupMessages  map[string]models.GroupMessage
	groupHides     map[hideKey]struct{}
	personal       []models.PersonalNotification
	messageNotices []models.MessageNotification
}

func New() *Store {
	return &Store{
		users:         map[string]models.User{},
		direct:        map[string]models.DirectMessage{},
		directHides:   map[hideKey]struct{}{},
		groups:        map[string]models.Group{},
		members:       map[memberKey]models.GroupMembership{},
		groupMessages: map[string]models.GroupMessage{},
		groupHides:    map[hideKey]struct{}{},
	}
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() *repositories.Store {
	return &repositories.Store{
		Users:         users{s},
		Messages:      messages{s},
		Groups:        groups{s},
		GroupMessages: groupMessages{s},
		Notifications: notifications{s},
	}
}

// PutUser seeds or replaces a user row.
func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) User(id string) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *Store) DirectMessages() []models.DirectMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DirectMessage, 0, len(s.direct))
	for _, m := range s.direct {
		out = append(out, m)
	}
	sortByTime(out, func(m models.DirectMessage) (time.Time, string) { return m.Timestamp, m.ID })
	return out
}

func (s *Store) DirectHidden(messageID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.directHides[hideKey{messageID, userID}]
	return ok
}

func (s *Store) GroupMessage(id string) (models.GroupMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.groupMessages[id]
	if ok {
		m.ReadBy = m.ReadBy.Clone()
	}
	return m, ok
}

func (s *Store) GroupMessages(groupID string) []models.GroupMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.GroupMessage
	for _, m := range s.groupMessages {
		if m.GroupID == groupID {
			m.ReadBy = m.ReadBy.Clone()
			out = append(out, m)
		}
	}
	sortGroupMessages(out)
	return out
}

func (s *Store) Membership(groupID, userID string) (models.GroupMembership, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberKey{groupID, userID}]
	return m, ok
}

func (s *Store) Group(id string) (models.Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	return g, ok
}

func (s *Store) MessageNotifications(userID string) []models.MessageNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MessageNotification
	for _, n := range s.messageNotices {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) PersonalNotifications(userID string) []models.PersonalNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PersonalNotification
	for _, n := range s.personal {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

// sortByTime orders rows by timestamp then id, matching the SQL ORDER BY.
func sortByTime[T any](rows []T, key func(T) (time.Time, string)) {
	sort.Slice(rows, func(i, j int) bool {
		ti, idi := key(rows[i])
		tj, idj := key(rows[j])
		if ti.Equal(tj) {
			return idi < idj
		}
		return ti.Before(tj)
	})
}

func sortGroupMessages(msgs []models.GroupMessage) {
	sortByTime(msgs, func(m models.GroupMessage) (time.Time, string) { return m.Timestamp, m.ID })
}

type users struct{ s *Store }

func (r users) GetUser(_ context.Context, userID string) (models.User, error) {
	u, ok := r.s.User(userID)
	if !ok {
		return models.User{}, repositories.ErrUserNotFound
	}
	return u, nil
}

func (r users) GetUsers(_ context.Context, userIDs []string) (map[string]models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[string]models.User, len(userIDs))
	for _, id := range userIDs {
		if u, ok := r.s.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (r users) SetPresence(_ context.Context, userID string, online bool, lastActive time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return nil
	}
	u.Online = online
	at := lastActive
	u.LastActive = &at
	r.s.users[userID] = u
	return nil
}
