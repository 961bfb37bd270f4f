package models

import (
	"time"

	"github.com/google/uuid"
)

// PersonalNotification is a private system-log entry shown only to the acting
// user inside a group's history.
type PersonalNotification struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	GroupID   string    `db:"group_id" json:"groupId"`
	Message   string    `db:"message" json:"message"`
	System    bool      `db:"system" json:"system"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

func NewPersonalNotification(userID, groupID, text string, now time.Time) PersonalNotification {
	return PersonalNotification{
		ID:        uuid.NewString(),
		UserID:    userID,
		GroupID:   groupID,
		Message:   text,
		System:    true,
		CreatedAt: now,
	}
}

// MessageNotification is a lightweight inbox item.
type MessageNotification struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	Name      string    `db:"name" json:"name"`
	SubText   string    `db:"sub_text" json:"subText"`
	Avatar    *string   `db:"avatar" json:"avatar"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	Read      bool      `db:"read" json:"read"`
}

func NewMessageNotification(userID, name, subText string, avatar *string, now time.Time) MessageNotification {
	return MessageNotification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		SubText:   subText,
		Avatar:    avatar,
		CreatedAt: now,
	}
}
