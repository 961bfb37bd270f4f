package repositories

import (
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrGroupNotFound     = errors.New("group not found")
	ErrOwnershipConflict = errors.New("group owner changed concurrently")
)

// Store bundles the repositories of one tenant schema.
type Store struct {
	Users         UserRepository
	Messages      MessageRepository
	Groups        GroupRepository
	GroupMessages GroupMessageRepository
	Notifications NotificationRepository
}

// NewStore wires sqlx repositories over a tenant-scoped handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		Users:         NewUserRepo(db),
		Messages:      NewMessageRepo(db),
		Groups:        NewGroupRepo(db),
		GroupMessages: NewGroupMessageRepo(db),
		Notifications: NewNotificationRepo(db),
	}
}

func rollback(tx *sqlx.Tx, err *error) {
	if *err != nil {
		_ = tx.Rollback()
	}
}
