package repositories

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"crm-chat/internal/models"
)

// GroupRepository abstracts group and membership persistence.
type GroupRepository interface {
	CreateGroup(ctx context.Context, group models.Group, memberIDs []string) (models.Group, error)
	GetGroup(ctx context.Context, groupID string) (models.Group, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error)
	GetMembership(ctx context.Context, groupID, userID string) (models.GroupMembership, bool, error)
	ListMembers(ctx context.Context, groupID string) ([]models.GroupMembership, error)
	ActiveMemberIDs(ctx context.Context, groupID string) ([]string, error)
	AddMember(ctx context.Context, groupID, userID string) error
	ReactivateMember(ctx context.Context, groupID, userID string) (bool, error)
	DisableMember(ctx context.Context, groupID, userID string, removedByAdmin bool, at time.Time) (bool, error)
	DeleteMember(ctx context.Context, groupID, userID string) error
	CountMembers(ctx context.Context, groupID string) (int, error)
	TransferOwnership(ctx context.Context, groupID, fromUserID, toUserID string) error
	DeleteGroup(ctx context.Context, groupID string) error
	CountImageRefs(ctx context.Context, imageURL string) (int, error)
}

// GroupRepo is a sqlx implementation of GroupRepository.
type GroupRepo struct {
	db *sqlx.DB
}

// NewGroupRepo constructs a GroupRepo.
func NewGroupRepo(db *sqlx.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

const (
	groupColumns  = `id, tenant_id, name, creator_id, created_at, image`
	memberColumns = `group_id, user_id, is_active, disable_date, removed_by_admin`
)

// CreateGroup creates a group and its active members atomically. The creator is always a member.
func (r *GroupRepo) CreateGroup(ctx context.Context, group models.Group, memberIDs []string) (out models.Group, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Group{}, errors.Wrap(err, "begin create group")
	}
	defer rollback(tx, &err)

	if err = tx.QueryRowxContext(ctx, `INSERT INTO chat_groups (`+groupColumns+`) VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+groupColumns,
		group.ID, group.TenantID, group.Name, group.CreatorID, group.CreatedAt, group.Image).StructScan(&out); err != nil {
		return models.Group{}, errors.Wrap(err, "insert group")
	}

	for _, id := range MemberSet(group.CreatorID, memberIDs) {
		if _, err = tx.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id, is_active) VALUES ($1, $2, TRUE)`, out.ID, id); err != nil {
			return models.Group{}, errors.Wrap(err, "insert group member")
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Group{}, errors.Wrap(err, "commit create group")
	}
	return out, nil
}

// MemberSet dedupes member ids and makes sure the creator is included.
func MemberSet(creatorID string, memberIDs []string) []string {
	set := map[string]struct{}{creatorID: {}}
	for _, id := range memberIDs {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetGroup fetches a single group.
func (r *GroupRepo) GetGroup(ctx context.Context, groupID string) (models.Group, error) {
	var group models.Group
	err := r.db.GetContext(ctx, &group, `SELECT `+groupColumns+` FROM chat_groups WHERE id=$1`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	return group, errors.Wrap(err, "get group")
}

// ListGroupsForUser returns groups where the user has a membership row, active or not.
func (r *GroupRepo) ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error) {
	groups := []models.Group{}
	err := r.db.SelectContext(ctx, &groups, `SELECT g.id, g.tenant_id, g.name, g.creator_id, g.created_at, g.image
        FROM chat_groups g INNER JOIN group_members gm ON gm.group_id = g.id
        WHERE gm.user_id=$1 ORDER BY g.created_at DESC`, userID)
	return groups, errors.Wrap(err, "list groups for user")
}

// GetMembership looks up the caller's row. found is false when no row exists.
func (r *GroupRepo) GetMembership(ctx context.Context, groupID, userID string) (models.GroupMembership, bool, error) {
	var m models.GroupMembership
	err := r.db.GetContext(ctx, &m, `SELECT `+memberColumns+` FROM group_members WHERE group_id=$1 AND user_id=$2`, groupID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GroupMembership{}, false, nil
	}
	if err != nil {
		return models.GroupMembership{}, false, errors.Wrap(err, "get membership")
	}
	return m, true, nil
}

// ListMembers returns every membership row of the group.
func (r *GroupRepo) ListMembers(ctx context.Context, groupID string) ([]models.GroupMembership, error) {
	members := []models.GroupMembership{}
	err := r.db.SelectContext(ctx, &members, `SELECT `+memberColumns+` FROM group_members WHERE group_id=$1 ORDER BY user_id`, groupID)
	return members, errors.Wrap(err, "list members")
}

// ActiveMemberIDs returns the ids of active members.
func (r *GroupRepo) ActiveMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	ids := []string{}
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM group_members WHERE group_id=$1 AND is_active = TRUE ORDER BY user_id`, groupID)
	return ids, errors.Wrap(err, "list active members")
}

// AddMember inserts a new active membership.
func (r *GroupRepo) AddMember(ctx context.Context, groupID, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id, is_active) VALUES ($1, $2, TRUE)`, groupID, userID)
	return errors.Wrap(err, "insert group member")
}

// ReactivateMember flips a disabled row back to active and reports whether it changed.
func (r *GroupRepo) ReactivateMember(ctx context.Context, groupID, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE group_members SET is_active = TRUE, disable_date = NULL, removed_by_admin = FALSE
        WHERE group_id=$1 AND user_id=$2 AND is_active = FALSE`, groupID, userID)
	return affected(res, err, "reactivate member")
}

// DisableMember soft-disables an active row and reports whether it changed.
func (r *GroupRepo) DisableMember(ctx context.Context, groupID, userID string, removedByAdmin bool, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE group_members SET is_active = FALSE, disable_date = $3, removed_by_admin = $4
        WHERE group_id=$1 AND user_id=$2 AND is_active = TRUE`, groupID, userID, at, removedByAdmin)
	return affected(res, err, "disable member")
}

// DeleteMember removes the membership row entirely.
func (r *GroupRepo) DeleteMember(ctx context.Context, groupID, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=$1 AND user_id=$2`, groupID, userID)
	return errors.Wrap(err, "delete member")
}

// CountMembers counts membership rows of any state.
func (r *GroupRepo) CountMembers(ctx context.Context, groupID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM group_members WHERE group_id=$1`, groupID)
	return n, errors.Wrap(err, "count members")
}

// TransferOwnership moves creator_id only if fromUserID still owns the group.
func (r *GroupRepo) TransferOwnership(ctx context.Context, groupID, fromUserID, toUserID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_groups SET creator_id=$3 WHERE id=$1 AND creator_id=$2`, groupID, fromUserID, toUserID)
	changed, err := affected(res, err, "transfer ownership")
	if err != nil {
		return err
	}
	if !changed {
		return ErrOwnershipConflict
	}
	return nil
}

// DeleteGroup hard-deletes the group with its members, messages, hide markers and personal notes.
func (r *GroupRepo) DeleteGroup(ctx context.Context, groupID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin delete group")
	}
	defer rollback(tx, &err)

	steps := []struct {
		op    string
		query string
	}{
		{"delete group hide markers", `DELETE FROM group_message_hides WHERE group_message_id IN (SELECT id FROM group_messages WHERE group_id=$1)`},
		{"delete group messages", `DELETE FROM group_messages WHERE group_id=$1`},
		{"delete personal notifications", `DELETE FROM personal_notifications WHERE group_id=$1`},
		{"delete group members", `DELETE FROM group_members WHERE group_id=$1`},
		{"delete group", `DELETE FROM chat_groups WHERE id=$1`},
	}
	for _, step := range steps {
		if _, err = tx.ExecContext(ctx, step.query, groupID); err != nil {
			return errors.Wrap(err, step.op)
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit delete group")
	}
	return nil
}

func affected(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, errors.Wrap(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, op)
	}
	return n > 0, nil
}

// CountImageRefs counts groups using imageURL as their image.
func (r *GroupRepo) CountImageRefs(ctx context.Context, imageURL string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM chat_groups WHERE image=$1`, imageURL)
	return n, errors.Wrap(err, "count group image refs")
}
