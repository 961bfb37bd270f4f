package models

import (
	"strings"
	"time"
)

// User is the subset of the tenant users table the chat engine reads.
type User struct {
	ID           string     `db:"id" json:"id"`
	FirstName    string     `db:"firstname" json:"firstname"`
	LastName     string     `db:"lastname" json:"lastname"`
	Email        string     `db:"email" json:"email"`
	ProfileImage *string    `db:"profile_image" json:"profileImage"`
	Online       bool       `db:"online" json:"online"`
	LastActive   *time.Time `db:"last_active" json:"lastActive"`
}

func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// Profile returns the public fields attached to chat history entries.
func (u User) Profile() UserProfile {
	return UserProfile{
		ID:           u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		ProfileImage: u.ProfileImage,
	}
}

type UserProfile struct {
	ID           string  `json:"id"`
	FirstName    string  `json:"firstname"`
	LastName     string  `json:"lastname"`
	ProfileImage *string `json:"profileImage"`
}

// Tenant is a control-plane row describing an isolated customer schema.
type Tenant struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	SchemaName string    `db:"schema_name" json:"schemaName"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
