package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"crm-chat/internal/models"
)

// NotificationRepository persists inbox items and personal group notes.
type NotificationRepository interface {
	CreateMessageNotification(ctx context.Context, n models.MessageNotification) error
	ListMessageNotifications(ctx context.Context, userID string) ([]models.MessageNotification, error)
	CreatePersonalNotification(ctx context.Context, n models.PersonalNotification) error
	ListPersonalNotifications(ctx context.Context, userID, groupID string) ([]models.PersonalNotification, error)
	ClearNotifications(ctx context.Context, userID string) error
}

type NotificationRepo struct {
	db *sqlx.DB
}

func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

func (r *NotificationRepo) CreateMessageNotification(ctx context.Context, n models.MessageNotification) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO message_notifications (id, user_id, name, sub_text, avatar, created_at, read)
        VALUES (:id, :user_id, :name, :sub_text, :avatar, :created_at, :read)`, n)
	return errors.Wrap(err, "insert message notification")
}

// ListMessageNotifications returns the inbox newest first.
func (r *NotificationRepo) ListMessageNotifications(ctx context.Context, userID string) ([]models.MessageNotification, error) {
	out := []models.MessageNotification{}
	err := r.db.SelectContext(ctx, &out, `SELECT id, user_id, name, sub_text, avatar, created_at, read
        FROM message_notifications WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	return out, errors.Wrap(err, "list message notifications")
}

func (r *NotificationRepo) CreatePersonalNotification(ctx context.Context, n models.PersonalNotification) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO personal_notifications (id, user_id, group_id, message, "system", created_at)
        VALUES (:id, :user_id, :group_id, :message, :system, :created_at)`, n)
	return errors.Wrap(err, "insert personal notification")
}

// ListPersonalNotifications returns the user's notes for one group in chronological order.
func (r *NotificationRepo) ListPersonalNotifications(ctx context.Context, userID, groupID string) ([]models.PersonalNotification, error) {
	out := []models.PersonalNotification{}
	err := r.db.SelectContext(ctx, &out, `SELECT id, user_id, group_id, message, "system", created_at
        FROM personal_notifications WHERE user_id=$1 AND group_id=$2 ORDER BY created_at ASC`, userID, groupID)
	return out, errors.Wrap(err, "list personal notifications")
}

// ClearNotifications deletes both notification kinds for the user in one transaction.
func (r *NotificationRepo) ClearNotifications(ctx context.Context, userID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin clear notifications")
	}
	defer rollback(tx, &err)

	if _, err = tx.ExecContext(ctx, `DELETE FROM message_notifications WHERE user_id=$1`, userID); err != nil {
		return errors.Wrap(err, "delete message notifications")
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM personal_notifications WHERE user_id=$1`, userID); err != nil {
		return errors.Wrap(err, "delete personal notifications")
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit clear notifications")
	}
	return nil
}
