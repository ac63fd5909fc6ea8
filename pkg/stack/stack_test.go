package stack

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/canopy-network/lpreturns/pkg/cache"
	"github.com/canopy-network/lpreturns/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) *config.Config {
	t.Chdir(t.TempDir())
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestNew_MemoryCache(t *testing.T) {
	cfg := testConfig(t)

	s, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Nil(t, s.Redis)
	assert.IsType(t, &cache.Memory{}, s.Cache)
	assert.NotNil(t, s.Service)
	assert.Equal(t, 1, s.Executor.Parallelism())
}

func TestNew_RedisCache(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Addr = srv.Addr()

	s, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.NotNil(t, s.Redis)
	assert.IsType(t, &cache.Redis{}, s.Cache)
}

func TestNew_RedisUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Addr = srv.Addr()
	srv.Close()

	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}
