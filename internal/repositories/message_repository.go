package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"crm-chat/internal/models"
)

// MessageRepository abstracts direct message persistence.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.DirectMessage) (models.DirectMessage, error)
	GetMessage(ctx context.Context, messageID string) (models.DirectMessage, error)
	MarkRead(ctx context.Context, fromUserID, toUserID string) (int64, error)
	UnreadCounts(ctx context.Context, userID string) (map[string]int, error)
	History(ctx context.Context, userID, peerID string) ([]models.DirectMessage, error)
	DeleteMessage(ctx context.Context, messageID string) error
	HasHideMarker(ctx context.Context, messageID string) (bool, error)
	HideMessage(ctx context.Context, messageID, userID string) error
	CountFileRefs(ctx context.Context, fileURL string) (int, error)
	IsHidden(ctx context.Context, messageID, userID string) (bool, error)
}

// MessageRepo is a sqlx implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const directColumns = `id, from_user_id, to_user_id, message, "timestamp", read, file_url, file_type, file_name, file_size`

// CreateMessage persists a direct message built by models.NewDirectMessage.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.DirectMessage) (models.DirectMessage, error) {
	var out models.DirectMessage
	err := r.db.QueryRowxContext(ctx, `INSERT INTO direct_messages (`+directColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING `+directColumns,
		msg.ID, msg.FromUserID, msg.ToUserID, msg.Message, msg.Timestamp, msg.Read,
		msg.FileURL, msg.FileType, msg.FileName, msg.FileSize).StructScan(&out)
	if err != nil {
		return models.DirectMessage{}, errors.Wrap(err, "insert direct message")
	}
	return out, nil
}

// GetMessage fetches a single direct message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.DirectMessage, error) {
	var msg models.DirectMessage
	err := r.db.GetContext(ctx, &msg, `SELECT `+directColumns+` FROM direct_messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DirectMessage{}, ErrMessageNotFound
	}
	return msg, errors.Wrap(err, "get direct message")
}

// MarkRead flips every unread message from fromUserID to toUserID. The flag only moves false to true.
func (r *MessageRepo) MarkRead(ctx context.Context, fromUserID, toUserID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE direct_messages SET read = TRUE WHERE from_user_id=$1 AND to_user_id=$2 AND read = FALSE`, fromUserID, toUserID)
	if err != nil {
		return 0, errors.Wrap(err, "mark direct messages read")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "rows affected")
}

// UnreadCounts returns unread messages addressed to userID keyed by sender.
func (r *MessageRepo) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	rows := []struct {
		FromUserID string `db:"from_user_id"`
		Count      int    `db:"count"`
	}{}
	err := r.db.SelectContext(ctx, &rows, `SELECT dm.from_user_id, COUNT(*) AS count FROM direct_messages dm
        WHERE dm.to_user_id=$1 AND dm.read = FALSE
          AND NOT EXISTS (SELECT 1 FROM direct_message_hides h WHERE h.message_id = dm.id AND h.user_id = $1)
        GROUP BY dm.from_user_id`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "count unread direct messages")
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.FromUserID] = row.Count
	}
	return counts, nil
}

// History returns the conversation between userID and peerID ordered by timestamp,
// excluding messages userID has hidden.
func (r *MessageRepo) History(ctx context.Context, userID, peerID string) ([]models.DirectMessage, error) {
	msgs := []models.DirectMessage{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+directColumns+` FROM direct_messages dm
        WHERE ((dm.from_user_id=$1 AND dm.to_user_id=$2) OR (dm.from_user_id=$2 AND dm.to_user_id=$1))
          AND NOT EXISTS (SELECT 1 FROM direct_message_hides h WHERE h.message_id = dm.id AND h.user_id = $1)
        ORDER BY dm."timestamp" ASC, dm.id ASC`, userID, peerID)
	return msgs, errors.Wrap(err, "list direct history")
}

// DeleteMessage removes the row. Hide markers cascade.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM direct_messages WHERE id=$1`, messageID)
	if err != nil {
		return errors.Wrap(err, "delete direct message")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// HasHideMarker reports whether any user has hidden the message.
func (r *MessageRepo) HasHideMarker(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM direct_message_hides WHERE message_id=$1)`, messageID)
	return exists, errors.Wrap(err, "check direct hide marker")
}

// HideMessage records that userID no longer sees the message.
func (r *MessageRepo) HideMessage(ctx context.Context, messageID, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO direct_message_hides (user_id, message_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, messageID)
	return errors.Wrap(err, "insert direct hide marker")
}

// CountFileRefs counts direct messages carrying fileURL.
func (r *MessageRepo) CountFileRefs(ctx context.Context, fileURL string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM direct_messages WHERE file_url=$1`, fileURL)
	return n, errors.Wrap(err, "count direct file refs")
}

// IsHidden reports whether userID has hidden the message.
func (r *MessageRepo) IsHidden(ctx context.Context, messageID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM direct_message_hides WHERE message_id=$1 AND user_id=$2)`, messageID, userID)
	return exists, errors.Wrap(err, "check direct hide marker for user")
}
