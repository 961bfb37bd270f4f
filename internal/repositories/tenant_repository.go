package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"crm-chat/internal/models"
)

var ErrTenantNotFound = errors.New("tenant not found")

// TenantRepository reads the control-plane tenants table.
type TenantRepository interface {
	GetTenant(ctx context.Context, tenantID string) (models.Tenant, error)
}

// TenantRepo is a sqlx implementation of TenantRepository.
type TenantRepo struct {
	db *sqlx.DB
}

// NewTenantRepo constructs a TenantRepo over the control-plane handle.
func NewTenantRepo(db *sqlx.DB) *TenantRepo {
	return &TenantRepo{db: db}
}

// GetTenant fetches a tenant row regardless of its active flag.
func (r *TenantRepo) GetTenant(ctx context.Context, tenantID string) (models.Tenant, error) {
	var t models.Tenant
	err := r.db.GetContext(ctx, &t, `SELECT id, name, schema_name, active, created_at FROM tenants WHERE id=$1`, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Tenant{}, ErrTenantNotFound
	}
	return t, errors.Wrap(err, "get tenant")
}
