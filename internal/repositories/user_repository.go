package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"crm-chat/internal/models"
)

// UserRepository reads profiles and writes presence columns of the tenant users table.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
	GetUsers(ctx context.Context, userIDs []string) (map[string]models.User, error)
	SetPresence(ctx context.Context, userID string, online bool, lastActive time.Time) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, firstname, lastname, email, profile_image, online, last_active`

// GetUser fetches a single user.
func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, errors.Wrap(err, "get user")
}

// GetUsers returns the known users among userIDs keyed by id. Unknown ids are skipped.
func (r *UserRepo) GetUsers(ctx context.Context, userIDs []string) (map[string]models.User, error) {
	out := make(map[string]models.User, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE id IN (?)`, userIDs)
	if err != nil {
		return nil, errors.Wrap(err, "build users query")
	}
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// SetPresence updates the online flag and last-active timestamp.
func (r *UserRepo) SetPresence(ctx context.Context, userID string, online bool, lastActive time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET online=$2, last_active=$3 WHERE id=$1`, userID, online, lastActive)
	return errors.Wrap(err, "set presence")
}
