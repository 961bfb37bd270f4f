// Package tenant maps a tenant id to a store scoped to that tenant's schema.
package tenant

import (
	"context"
	"regexp"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"crm-chat/internal/db"
	"crm-chat/internal/models"
	"crm-chat/internal/repositories"
)

var (
	ErrInactive      = errors.New("tenant inactive")
	ErrInvalidSchema = errors.New("tenant schema name is invalid")
)

var schemaName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Opener opens a pool scoped to the tenant schema.
type Opener func(ctx context.Context, t models.Tenant) (*sqlx.DB, error)

// Handle is a cached tenant pool and the store built on it.
type Handle struct {
	Tenant models.Tenant
	Store  *repositories.Store
	db     *sqlx.DB
}

type Resolver struct {
	tenants  repositories.TenantRepository
	open     Opener
	newStore func(*sqlx.DB) *repositories.Store
	logger   *zap.Logger

	mu      sync.RWMutex
	handles map[string]*Handle
	group   singleflight.Group
}

func NewResolver(tenants repositories.TenantRepository, open Opener, logger *zap.Logger) *Resolver {
	return &Resolver{
		tenants:  tenants,
		open:     open,
		newStore: repositories.NewStore,
		logger:   logger,
		handles:  map[string]*Handle{},
	}
}

// PostgresOpener connects with search_path set to the tenant schema and,
// when migrate is set, applies the chat migrations to it.
func PostgresOpener(schemaDSN func(schema string) string, migrate bool) Opener {
	return func(_ context.Context, t models.Tenant) (*sqlx.DB, error) {
		conn, err := db.Connect(schemaDSN(t.SchemaName))
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := db.MigrateTenant(conn); err != nil {
				_ = conn.Close()
				return nil, err
			}
		}
		return conn, nil
	}
}

// Resolve returns the tenant's store, opening its pool on first use.
// Concurrent first calls for one tenant share a single open.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*repositories.Store, error) {
	h, err := r.Handle(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return h.Store, nil
}

func (r *Resolver) Handle(ctx context.Context, tenantID string) (*Handle, error) {
	r.mu.RLock()
	h, ok := r.handles[tenantID]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	// The open is shared by every waiter, so it must outlive the caller that started it.
	openCtx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(tenantID, func() (interface{}, error) {
		r.mu.RLock()
		h, ok := r.handles[tenantID]
		r.mu.RUnlock()
		if ok {
			return h, nil
		}
		return r.openHandle(openCtx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (r *Resolver) openHandle(ctx context.Context, tenantID string) (*Handle, error) {
	t, err := r.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, ErrInactive
	}
	if !schemaName.MatchString(t.SchemaName) {
		return nil, errors.Wrapf(ErrInvalidSchema, "tenant %s", tenantID)
	}

	conn, err := r.open(ctx, t)
	if err != nil {
		return nil, errors.Wrapf(err, "open tenant %s", tenantID)
	}

	h := &Handle{Tenant: t, Store: r.newStore(conn), db: conn}
	r.mu.Lock()
	r.handles[tenantID] = h
	r.mu.Unlock()

	r.logger.Info("tenant pool opened", zap.String("tenant_id", tenantID), zap.String("schema", t.SchemaName))
	return h, nil
}

// Close closes every cached pool.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, h := range r.handles {
		if h.db != nil {
			if err := h.db.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(r.handles, id)
	}
	return firstErr
}
