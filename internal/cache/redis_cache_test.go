package cache

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myduka/backend/internal/domain"
	"myduka/backend/internal/xid"
)

func TestNoopDashboardCacheAlwaysMisses(t *testing.T) {
	c := NoopDashboardCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", &domain.Dashboard{Date: "2024-03-01"}, time.Minute))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.NoError(t, c.DeletePrefix(ctx, "k"))
}

func TestRedisDashboardCacheRoundTrip(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("MYDUKA_TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("MYDUKA_TEST_REDIS_ADDR is not set")
	}

	ctx := context.Background()
	c := NewRedisDashboardCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	prefix := xid.New("test-dashboard") + ":"
	key := prefix + "2024-03-01"
	want := &domain.Dashboard{Date: "2024-03-01", TotalSalesCents: 9000, TotalProfitCents: 3000}

	require.NoError(t, c.Set(ctx, key, want, time.Minute))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.TotalSalesCents, got.TotalSalesCents)
	assert.Equal(t, want.Date, got.Date)

	require.NoError(t, c.DeletePrefix(ctx, prefix))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
