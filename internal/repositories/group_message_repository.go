package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"crm-chat/internal/models"
)

// GroupMessageRepository defines interactions for group messages.
type GroupMessageRepository interface {
	CreateGroupMessage(ctx context.Context, msg models.GroupMessage) (models.GroupMessage, error)
	GetGroupMessage(ctx context.Context, messageID string) (models.GroupMessage, error)
	ListGroupMessages(ctx context.Context, groupID, viewerID string, until *time.Time) ([]models.GroupMessage, error)
	UnreadMessageIDs(ctx context.Context, groupID, userID string) ([]string, error)
	AddReader(ctx context.Context, messageID, userID string) (bool, error)
	UnreadCounts(ctx context.Context, userID string) (map[string]int, error)
	DeleteGroupMessage(ctx context.Context, messageID string) error
	HideGroupMessage(ctx context.Context, messageID, userID string) error
	CountActiveWithoutHide(ctx context.Context, messageID string) (int, error)
	CountFileRefs(ctx context.Context, fileURL string) (int, error)
	IsHidden(ctx context.Context, messageID, userID string) (bool, error)
}

// GroupMessageRepo is a sqlx-backed implementation.
type GroupMessageRepo struct {
	db *sqlx.DB
}

// NewGroupMessageRepo constructs a GroupMessageRepo.
func NewGroupMessageRepo(db *sqlx.DB) *GroupMessageRepo {
	return &GroupMessageRepo{db: db}
}

const groupMessageColumns = `id, group_id, from_user_id, message, "timestamp", read_by, file_url, file_type, file_name, file_size, excluded_user_id, "system"`

// visibleTo filters out rows hidden for, or targeted away from, the viewer bound at $2.
const visibleTo = `
          AND (m.excluded_user_id IS NULL OR m.excluded_user_id <> $2)
          AND NOT EXISTS (SELECT 1 FROM group_message_hides h WHERE h.group_message_id = m.id AND h.user_id = $2)`

// CreateGroupMessage persists a group message.
func (r *GroupMessageRepo) CreateGroupMessage(ctx context.Context, msg models.GroupMessage) (models.GroupMessage, error) {
	if msg.ReadBy == nil {
		msg.ReadBy = models.NewReadBy()
	}
	var out models.GroupMessage
	err := r.db.QueryRowxContext(ctx, `INSERT INTO group_messages (`+groupMessageColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING `+groupMessageColumns,
		msg.ID, msg.GroupID, msg.FromUserID, msg.Message, msg.Timestamp, msg.ReadBy,
		msg.FileURL, msg.FileType, msg.FileName, msg.FileSize, msg.ExcludedUserID, msg.System).StructScan(&out)
	if err != nil {
		return models.GroupMessage{}, errors.Wrap(err, "insert group message")
	}
	return out, nil
}

// GetGroupMessage fetches a single message.
func (r *GroupMessageRepo) GetGroupMessage(ctx context.Context, messageID string) (models.GroupMessage, error) {
	var msg models.GroupMessage
	err := r.db.GetContext(ctx, &msg, `SELECT `+groupMessageColumns+` FROM group_messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GroupMessage{}, ErrMessageNotFound
	}
	return msg, errors.Wrap(err, "get group message")
}

// ListGroupMessages returns the messages visible to viewerID ordered by timestamp.
// A non-nil until caps the history at the viewer's disable date.
func (r *GroupMessageRepo) ListGroupMessages(ctx context.Context, groupID, viewerID string, until *time.Time) ([]models.GroupMessage, error) {
	msgs := []models.GroupMessage{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+groupMessageColumns+` FROM group_messages m
        WHERE m.group_id=$1`+visibleTo+`
          AND ($3::timestamptz IS NULL OR m."timestamp" <= $3)
        ORDER BY m."timestamp" ASC, m.id ASC`, groupID, viewerID, until)
	return msgs, errors.Wrap(err, "list group messages")
}

// UnreadMessageIDs returns visible messages of the group whose read_by lacks userID.
func (r *GroupMessageRepo) UnreadMessageIDs(ctx context.Context, groupID, userID string) ([]string, error) {
	ids := []string{}
	err := r.db.SelectContext(ctx, &ids, `SELECT m.id FROM group_messages m
        WHERE m.group_id=$1 AND NOT m.read_by @> jsonb_build_array($2::text)`+visibleTo+`
        ORDER BY m."timestamp" ASC`, groupID, userID)
	return ids, errors.Wrap(err, "list unread group messages")
}

// AddReader unions userID into read_by in one statement and reports whether the set grew.
func (r *GroupMessageRepo) AddReader(ctx context.Context, messageID, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE group_messages SET read_by = read_by || jsonb_build_array($2::text)
        WHERE id=$1 AND NOT read_by @> jsonb_build_array($2::text)`, messageID, userID)
	return affected(res, err, "add group reader")
}

// UnreadCounts returns unread visible messages keyed by group for groups where userID is active.
func (r *GroupMessageRepo) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	rows := []struct {
		GroupID string `db:"group_id"`
		Count   int    `db:"count"`
	}{}
	err := r.db.SelectContext(ctx, &rows, `SELECT m.group_id, COUNT(*) AS count FROM group_messages m
        INNER JOIN group_members gm ON gm.group_id = m.group_id AND gm.user_id = $1 AND gm.is_active = TRUE
        WHERE NOT m.read_by @> jsonb_build_array($1::text)
          AND (m.excluded_user_id IS NULL OR m.excluded_user_id <> $1)
          AND NOT EXISTS (SELECT 1 FROM group_message_hides h WHERE h.group_message_id = m.id AND h.user_id = $1)
        GROUP BY m.group_id`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "count unread group messages")
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.GroupID] = row.Count
	}
	return counts, nil
}

// DeleteGroupMessage removes the row. Hide markers cascade.
func (r *GroupMessageRepo) DeleteGroupMessage(ctx context.Context, messageID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM group_messages WHERE id=$1`, messageID)
	changed, err := affected(res, err, "delete group message")
	if err != nil {
		return err
	}
	if !changed {
		return ErrMessageNotFound
	}
	return nil
}

// HideGroupMessage records that userID no longer sees the message.
func (r *GroupMessageRepo) HideGroupMessage(ctx context.Context, messageID, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO group_message_hides (user_id, group_message_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, messageID)
	return errors.Wrap(err, "insert group hide marker")
}

// CountActiveWithoutHide counts active members of the message's group that still see it.
// The member a notice excludes never sees it and is not counted.
func (r *GroupMessageRepo) CountActiveWithoutHide(ctx context.Context, messageID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM group_members gm
        INNER JOIN group_messages m ON m.group_id = gm.group_id
        WHERE m.id=$1 AND gm.is_active = TRUE
          AND gm.user_id IS DISTINCT FROM m.excluded_user_id
          AND NOT EXISTS (SELECT 1 FROM group_message_hides h WHERE h.group_message_id = m.id AND h.user_id = gm.user_id)`, messageID)
	return n, errors.Wrap(err, "count active members without hide")
}

// CountFileRefs counts group messages carrying fileURL.
func (r *GroupMessageRepo) CountFileRefs(ctx context.Context, fileURL string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM group_messages WHERE file_url=$1`, fileURL)
	return n, errors.Wrap(err, "count group file refs")
}

// IsHidden reports whether userID has hidden the message.
func (r *GroupMessageRepo) IsHidden(ctx context.Context, messageID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM group_message_hides WHERE group_message_id=$1 AND user_id=$2)`, messageID, userID)
	return exists, errors.Wrap(err, "check group hide marker for user")
}
