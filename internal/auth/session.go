package auth

import (
	"context"

	"github.com/pkg/errors"

	"crm-chat/internal/domain"
	"crm-chat/internal/models"
	"crm-chat/internal/repositories"
	"crm-chat/internal/tenant"
)

// Session is the identity bound to one connection. It never changes after the handshake.
type Session struct {
	user     models.User
	tenantID string
	store    *repositories.Store
}

func NewSession(user models.User, tenantID string, store *repositories.Store) *Session {
	return &Session{user: user, tenantID: tenantID, store: store}
}

func (s *Session) User() models.User          { return s.user }
func (s *Session) UserID() string             { return s.user.ID }
func (s *Session) TenantID() string           { return s.tenantID }
func (s *Session) Store() *repositories.Store { return s.store }

// StoreResolver returns the tenant-scoped store for a tenant id.
type StoreResolver interface {
	Resolve(ctx context.Context, tenantID string) (*repositories.Store, error)
}

// Authenticator turns a bearer credential into a Session.
type Authenticator struct {
	verifier *Verifier
	stores   StoreResolver
}

func NewAuthenticator(verifier *Verifier, stores StoreResolver) *Authenticator {
	return &Authenticator{verifier: verifier, stores: stores}
}

// Authenticate fails with an authentication error when the token is missing or
// invalid, the tenant is unknown or inactive, or the user does not exist.
// Infrastructure failures come back as persistence errors.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Session, error) {
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return nil, domain.Authentication("invalid credentials", err)
	}

	store, err := a.stores.Resolve(ctx, claims.TenantID)
	if err != nil {
		if tenantRejected(err) {
			return nil, domain.Authentication("tenant unavailable", err)
		}
		return nil, domain.Persistence("resolve tenant", err)
	}

	user, err := store.Users.GetUser(ctx, claims.UserID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return nil, domain.Authentication("user not found", err)
	}
	if err != nil {
		return nil, domain.Persistence("load user", err)
	}
	return NewSession(user, claims.TenantID, store), nil
}

func tenantRejected(err error) bool {
	return errors.Is(err, repositories.ErrTenantNotFound) ||
		errors.Is(err, tenant.ErrInactive) ||
		errors.Is(err, tenant.ErrInvalidSchema)
}
