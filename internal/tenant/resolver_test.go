package tenant

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crm-chat/internal/models"
	"crm-chat/internal/repositories"
)

type fakeTenants map[string]models.Tenant

func (f fakeTenants) GetTenant(_ context.Context, tenantID string) (models.Tenant, error) {
	t, ok := f[tenantID]
	if !ok {
		return models.Tenant{}, repositories.ErrTenantNotFound
	}
	return t, nil
}

// lazyOpener returns pools that never dial; sqlx.Open does not connect.
func lazyOpener(calls *int32, delay time.Duration) Opener {
	return func(_ context.Context, t models.Tenant) (*sqlx.DB, error) {
		atomic.AddInt32(calls, 1)
		time.Sleep(delay)
		return sqlx.Open("postgres", "host=127.0.0.1 port=1 sslmode=disable search_path="+t.SchemaName)
	}
}

func newTestResolver(calls *int32, delay time.Duration) *Resolver {
	tenants := fakeTenants{
		"acme":   {ID: "acme", SchemaName: "tenant_acme", Active: true},
		"closed": {ID: "closed", SchemaName: "tenant_closed", Active: false},
		"weird":  {ID: "weird", SchemaName: "acme; DROP TABLE users", Active: true},
	}
	return NewResolver(tenants, lazyOpener(calls, delay), zap.NewNop())
}

func TestResolveCachesPerTenant(t *testing.T) {
	var calls int32
	r := newTestResolver(&calls, 0)
	defer r.Close()

	first, err := r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), "acme")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResolveConcurrentFirstUseOpensOnce(t *testing.T) {
	var calls int32
	r := newTestResolver(&calls, 20*time.Millisecond)
	defer r.Close()

	var wg sync.WaitGroup
	stores := make([]*repositories.Store, 16)
	for i := range stores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Resolve(context.Background(), "acme")
			assert.NoError(t, err)
			stores[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, s := range stores {
		assert.Same(t, stores[0], s)
	}
}

func TestResolveRejectsUnknownInactiveAndInvalid(t *testing.T) {
	var calls int32
	r := newTestResolver(&calls, 0)

	_, err := r.Resolve(context.Background(), "missing")
	assert.True(t, errors.Is(err, repositories.ErrTenantNotFound))

	_, err = r.Resolve(context.Background(), "closed")
	assert.True(t, errors.Is(err, ErrInactive))

	_, err = r.Resolve(context.Background(), "weird")
	assert.True(t, errors.Is(err, ErrInvalidSchema))

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestCloseDropsHandles(t *testing.T) {
	var calls int32
	r := newTestResolver(&calls, 0)

	_, err := r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.NoError(t, r.Close())
}

func TestResolveSharedOpenSurvivesFirstCallerCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	open := func(ctx context.Context, t models.Tenant) (*sqlx.DB, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return sqlx.Open("postgres", "host=127.0.0.1 port=1 sslmode=disable search_path="+t.SchemaName)
	}
	r := NewResolver(fakeTenants{"acme": {ID: "acme", SchemaName: "tenant_acme", Active: true}}, open, zap.NewNop())
	defer r.Close()

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(firstCtx, "acme")
		firstErr <- err
	}()
	<-started

	secondErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), "acme")
		secondErr <- err
	}()

	cancel()
	close(release)

	require.NoError(t, <-firstErr)
	require.NoError(t, <-secondErr)
}
