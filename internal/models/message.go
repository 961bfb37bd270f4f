package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"crm-chat/internal/domain"
)

// FileMeta describes a file already placed in the blob store by the upload endpoint.
type FileMeta struct {
	URL  string `json:"fileUrl"`
	Type string `json:"fileType"`
	Name string `json:"fileName"`
	Size int64  `json:"fileSize"`
}

// DirectMessage is a 1:1 message between two users of a tenant.
type DirectMessage struct {
	ID         string    `db:"id" json:"id"`
	FromUserID string    `db:"from_user_id" json:"fromUserId"`
	ToUserID   string    `db:"to_user_id" json:"toUserId"`
	Message    string    `db:"message" json:"message"`
	Timestamp  time.Time `db:"timestamp" json:"timestamp"`
	Read       bool      `db:"read" json:"read"`
	FileURL    *string   `db:"file_url" json:"fileUrl,omitempty"`
	FileType   *string   `db:"file_type" json:"fileType,omitempty"`
	FileName   *string   `db:"file_name" json:"fileName,omitempty"`
	FileSize   *int64    `db:"file_size" json:"fileSize,omitempty"`
}

// NewDirectMessage builds an unread message stamped with now.
// A message needs either a body or a file.
func NewDirectMessage(fromUserID, toUserID, body string, file *FileMeta, now time.Time) (DirectMessage, error) {
	if strings.TrimSpace(fromUserID) == "" || strings.TrimSpace(toUserID) == "" {
		return DirectMessage{}, domain.Validation("sender and recipient are required")
	}
	if strings.TrimSpace(body) == "" && (file == nil || file.URL == "") {
		return DirectMessage{}, domain.Validation("message body or file is required")
	}
	msg := DirectMessage{
		ID:         uuid.NewString(),
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Message:    body,
		Timestamp:  now,
	}
	msg.SetFile(file)
	return msg, nil
}

// SetFile copies file metadata onto the message. A nil file clears it.
func (m *DirectMessage) SetFile(file *FileMeta) {
	m.FileURL, m.FileType, m.FileName, m.FileSize = fileColumns(file)
}

// File returns the attached file, if any.
func (m DirectMessage) File() (FileMeta, bool) {
	return fileFromColumns(m.FileURL, m.FileType, m.FileName, m.FileSize)
}

// IsSelfChat reports whether the message was sent by a user to themselves.
func (m DirectMessage) IsSelfChat() bool {
	return m.FromUserID == m.ToUserID
}

func fileColumns(file *FileMeta) (*string, *string, *string, *int64) {
	if file == nil || file.URL == "" {
		return nil, nil, nil, nil
	}
	url, typ, name, size := file.URL, file.Type, file.Name, file.Size
	return &url, &typ, &name, &size
}

func fileFromColumns(url, typ, name *string, size *int64) (FileMeta, bool) {
	if url == nil || *url == "" {
		return FileMeta{}, false
	}
	meta := FileMeta{URL: *url}
	if typ != nil {
		meta.Type = *typ
	}
	if name != nil {
		meta.Name = *name
	}
	if size != nil {
		meta.Size = *size
	}
	return meta, true
}
