package memstore

import (
	"context"
	"time"

	"crm-chat/internal/models"
	"crm-chat/internal/repositories"
)

type messages struct{ s *Store }

func (r messages) CreateMessage(_ context.Context, msg models.DirectMessage) (models.DirectMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.direct[msg.ID] = msg
	return msg, nil
}

func (r messages) GetMessage(_ context.Context, messageID string) (models.DirectMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msg, ok := r.s.direct[messageID]
	if !ok {
		return models.DirectMessage{}, repositories.ErrMessageNotFound
	}
	return msg, nil
}

func (r messages) MarkRead(_ context.Context, fromUserID, toUserID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, msg := range r.s.direct {
		if msg.FromUserID == fromUserID && msg.ToUserID == toUserID && !msg.Read {
			msg.Read = true
			r.s.direct[id] = msg
			n++
		}
	}
	return n, nil
}

func (r messages) UnreadCounts(_ context.Context, userID string) (map[string]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := map[string]int{}
	for _, msg := range r.s.direct {
		if msg.ToUserID != userID || msg.Read {
			continue
		}
		if _, hidden := r.s.directHides[hideKey{msg.ID, userID}]; hidden {
			continue
		}
		counts[msg.FromUserID]++
	}
	return counts, nil
}

func (r messages) History(_ context.Context, userID, peerID string) ([]models.DirectMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.DirectMessage{}
	for _, msg := range r.s.direct {
		between := (msg.FromUserID == userID && msg.ToUserID == peerID) || (msg.FromUserID == peerID && msg.ToUserID == userID)
		if !between {
			continue
		}
		if _, hidden := r.s.directHides[hideKey{msg.ID, userID}]; hidden {
			continue
		}
		out = append(out, msg)
	}
	sortByTime(out, func(m models.DirectMessage) (time.Time, string) { return m.Timestamp, m.ID })
	return out, nil
}

func (r messages) DeleteMessage(_ context.Context, messageID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.direct[messageID]; !ok {
		return repositories.ErrMessageNotFound
	}
	delete(r.s.direct, messageID)
	for key := range r.s.directHides {
		if key.messageID == messageID {
			delete(r.s.directHides, key)
		}
	}
	return nil
}

func (r messages) HasHideMarker(_ context.Context, messageID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for key := range r.s.directHides {
		if key.messageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

func (r messages) HideMessage(_ context.Context, messageID, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.directHides[hideKey{messageID, userID}] = struct{}{}
	return nil
}

func (r messages) CountFileRefs(_ context.Context, fileURL string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, m := range r.s.direct {
		if m.FileURL != nil && *m.FileURL == fileURL {
			n++
		}
	}
	return n, nil
}

func (r messages) IsHidden(_ context.Context, messageID, userID string) (bool, error) {
	return r.s.DirectHidden(messageID, userID), nil
}
