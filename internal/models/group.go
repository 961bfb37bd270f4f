package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"crm-chat/internal/domain"
)

// Group represents a chat group inside a tenant.
type Group struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenantId"`
	Name      string    `db:"name" json:"name"`
	CreatorID string    `db:"creator_id" json:"creatorId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	Image     *string   `db:"image" json:"image,omitempty"`
}

// GroupMembership links a user to a group. Disabled rows are kept for history.
type GroupMembership struct {
	GroupID        string     `db:"group_id" json:"groupId"`
	UserID         string     `db:"user_id" json:"userId"`
	IsActive       bool       `db:"is_active" json:"isActive"`
	DisableDate    *time.Time `db:"disable_date" json:"disableDate,omitempty"`
	RemovedByAdmin bool       `db:"removed_by_admin" json:"removedByAdmin"`
}

func (m GroupMembership) Active() bool {
	return m.IsActive
}

// GroupMessage is a message posted to a group. System messages have no sender.
type GroupMessage struct {
	ID             string    `db:"id" json:"id"`
	GroupID        string    `db:"group_id" json:"groupId"`
	FromUserID     *string   `db:"from_user_id" json:"fromUserId"`
	Message        string    `db:"message" json:"message"`
	Timestamp      time.Time `db:"timestamp" json:"timestamp"`
	ReadBy         ReadBy    `db:"read_by" json:"readBy"`
	FileURL        *string   `db:"file_url" json:"fileUrl,omitempty"`
	FileType       *string   `db:"file_type" json:"fileType,omitempty"`
	FileName       *string   `db:"file_name" json:"fileName,omitempty"`
	FileSize       *int64    `db:"file_size" json:"fileSize,omitempty"`
	ExcludedUserID *string   `db:"excluded_user_id" json:"excludedUserId,omitempty"`
	System         bool      `db:"system" json:"system"`
}

// NewGroupMessage builds a user message already read by its sender.
func NewGroupMessage(groupID, fromUserID, body string, file *FileMeta, now time.Time) (GroupMessage, error) {
	if strings.TrimSpace(groupID) == "" || strings.TrimSpace(fromUserID) == "" {
		return GroupMessage{}, domain.Validation("group and sender are required")
	}
	if strings.TrimSpace(body) == "" && (file == nil || file.URL == "") {
		return GroupMessage{}, domain.Validation("message body or file is required")
	}
	sender := fromUserID
	msg := GroupMessage{
		ID:         uuid.NewString(),
		GroupID:    groupID,
		FromUserID: &sender,
		Message:    body,
		Timestamp:  now,
		ReadBy:     NewReadBy(fromUserID),
	}
	msg.FileURL, msg.FileType, msg.FileName, msg.FileSize = fileColumns(file)
	return msg, nil
}

// NewSystemMessage builds a sender-less notice hidden from excludedUserID.
func NewSystemMessage(groupID, text, excludedUserID string, now time.Time) GroupMessage {
	msg := GroupMessage{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Message:   text,
		Timestamp: now,
		ReadBy:    NewReadBy(),
		System:    true,
	}
	if excludedUserID != "" {
		excluded := excludedUserID
		msg.ExcludedUserID = &excluded
	}
	return msg
}

func (m GroupMessage) File() (FileMeta, bool) {
	return fileFromColumns(m.FileURL, m.FileType, m.FileName, m.FileSize)
}

// SentBy reports whether userID authored the message.
func (m GroupMessage) SentBy(userID string) bool {
	return m.FromUserID != nil && *m.FromUserID == userID
}

// VisibleTo reports whether the targeted-notice exclusion hides the message from userID.
func (m GroupMessage) VisibleTo(userID string) bool {
	return m.ExcludedUserID == nil || *m.ExcludedUserID != userID
}

// ReadBy is the set of user ids that have read a group message.
// It is stored as a JSON array and only ever grows.
type ReadBy map[string]struct{}

func NewReadBy(ids ...string) ReadBy {
	r := make(ReadBy, len(ids))
	for _, id := range ids {
		r[id] = struct{}{}
	}
	return r
}

func (r ReadBy) Contains(userID string) bool {
	_, ok := r[userID]
	return ok
}

// Add inserts userID and reports whether the set changed.
func (r ReadBy) Add(userID string) bool {
	if r.Contains(userID) {
		return false
	}
	r[userID] = struct{}{}
	return true
}

// Slice returns the members in sorted order.
func (r ReadBy) Slice() []string {
	out := make([]string, 0, len(r))
	for id := range r {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r ReadBy) Clone() ReadBy {
	return NewReadBy(r.Slice()...)
}

func (r ReadBy) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Slice())
}

func (r *ReadBy) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*r = NewReadBy(ids...)
	return nil
}

// Value encodes the set as text so lib/pq does not send it as bytea.
func (r ReadBy) Value() (driver.Value, error) {
	b, err := json.Marshal(r.Slice())
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *ReadBy) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = NewReadBy()
		return nil
	case []byte:
		return r.UnmarshalJSON(v)
	case string:
		return r.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("read_by: unsupported type %T", src)
	}
}
