package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-chat/internal/domain"
	"crm-chat/internal/models"
	"crm-chat/internal/repositories"
	"crm-chat/internal/repositories/memstore"
	"crm-chat/internal/tenant"
)

type staticResolver map[string]*repositories.Store

type failingResolver struct{ err error }

func (f failingResolver) Resolve(context.Context, string) (*repositories.Store, error) {
	return nil, f.err
}

func (s staticResolver) Resolve(_ context.Context, tenantID string) (*repositories.Store, error) {
	store, ok := s[tenantID]
	if !ok {
		return nil, repositories.ErrTenantNotFound
	}
	return store, nil
}

func newAuthenticator(t *testing.T) (*Authenticator, *Verifier) {
	t.Helper()
	mem := memstore.New()
	mem.PutUser(models.User{ID: "u1", FirstName: "Ada"})
	verifier := NewVerifier("secret")
	return NewAuthenticator(verifier, staticResolver{"acme": mem.Repositories()}), verifier
}

func TestAuthenticateSuccess(t *testing.T) {
	a, v := newAuthenticator(t)
	token, err := v.Sign("u1", "acme", time.Minute)
	require.NoError(t, err)

	session, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UserID())
	assert.Equal(t, "acme", session.TenantID())
	assert.Equal(t, "Ada", session.User().FirstName)
	assert.NotNil(t, session.Store())
}

func TestAuthenticateFailures(t *testing.T) {
	a, v := newAuthenticator(t)
	other := NewVerifier("other-secret")

	expired, err := v.Sign("u1", "acme", -time.Minute)
	require.NoError(t, err)
	forged, err := other.Sign("u1", "acme", time.Minute)
	require.NoError(t, err)
	unknownTenant, err := v.Sign("u1", "nope", time.Minute)
	require.NoError(t, err)
	unknownUser, err := v.Sign("ghost", "acme", time.Minute)
	require.NoError(t, err)
	noTenant, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "u1"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	cases := map[string]string{
		"missing":        "",
		"garbage":        "not-a-jwt",
		"expired":        expired,
		"bad signature":  forged,
		"unknown tenant": unknownTenant,
		"unknown user":   unknownUser,
		"missing claims": noTenant,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), token)
			require.Error(t, err)
			assert.Equal(t, domain.KindAuthentication, domain.KindOf(err))
		})
	}
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1", TenantID: "acme"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewVerifier("secret").Verify(token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=query-token", nil)
	token, err := TokenFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "query-token", token)

	req.Header.Set("Authorization", "Bearer header-token")
	token, err = TokenFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "header-token", token)

	req.Header.Set("Authorization", "Token abc")
	_, err = TokenFromRequest(req)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	_, err = TokenFromRequest(httptest.NewRequest("GET", "/ws", nil))
	assert.True(t, errors.Is(err, ErrMissingToken))
}

func TestAuthenticateResolverErrorKinds(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Sign("u1", "acme", time.Minute)
	require.NoError(t, err)

	cases := map[string]struct {
		err  error
		kind domain.Kind
	}{
		"unknown tenant": {repositories.ErrTenantNotFound, domain.KindAuthentication},
		"inactive":       {tenant.ErrInactive, domain.KindAuthentication},
		"bad schema":     {errors.Wrap(tenant.ErrInvalidSchema, "tenant acme"), domain.KindAuthentication},
		"control db":     {errors.New("dial tcp: connection refused"), domain.KindPersistence},
		"pool open":      {errors.Wrap(context.DeadlineExceeded, "open tenant acme"), domain.KindPersistence},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			a := NewAuthenticator(v, failingResolver{err: tc.err})
			_, err := a.Authenticate(context.Background(), token)
			require.Error(t, err)
			assert.Equal(t, tc.kind, domain.KindOf(err))
		})
	}
}
