package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/config"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/core"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/logger"
)

// setupTestPool creates a pool backed by a shared-cache in-memory SQLite
// database. The shared cache keeps every pooled connection on the same
// database, which plain ":memory:" would not.
func setupTestPool(t *testing.T, maxConns int) (*Pool, func()) {
	t.Helper()

	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	pool, err := NewPool(context.Background(), config.DatabaseConfig{
		Driver:         "sqlite3",
		DSN:            fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		MinConnections: 1,
		MaxConnections: maxConns,
		AcquireTimeout: 2 * time.Second,
		InitRetries:    1,
	}, log)
	require.NoError(t, err)

	return pool, func() { _ = pool.Shutdown() }
}

func TestPoolAcquireRelease(t *testing.T) {
	pool, cleanup := setupTestPool(t, 4)
	defer cleanup()

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn)

	assert.NoError(t, pool.Release(conn))
}

func TestPoolDoubleReleaseReported(t *testing.T) {
	pool, cleanup := setupTestPool(t, 4)
	defer cleanup()

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, pool.Release(conn))

	// The second release is a caller bug and must be reported, not ignored.
	assert.Error(t, pool.Release(conn))
}

func TestPoolExhaustionBlocksThenRecovers(t *testing.T) {
	pool, cleanup := setupTestPool(t, 2)
	defer cleanup()

	ctx := context.Background()

	c1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	c2, err := pool.Acquire(ctx)
	require.NoError(t, err)

	// Pool is at max_size: the next acquire blocks until its deadline and
	// then fails with the retryable storage condition.
	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(shortCtx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrStorageUnavailable))

	// A blocked acquire completes once a connection is released.
	acquired := make(chan error, 1)
	go func() {
		c, err := pool.Acquire(ctx)
		if err == nil {
			defer pool.Release(c)
		}
		acquired <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, pool.Release(c1))

	select {
	case err := <-acquired:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("acquire did not unblock after release")
	}

	require.NoError(t, pool.Release(c2))
}

func TestPoolShutdownFailsFast(t *testing.T) {
	pool, cleanup := setupTestPool(t, 2)
	defer cleanup()

	require.NoError(t, pool.Shutdown())

	// Shutdown is idempotent.
	require.NoError(t, pool.Shutdown())

	_, err := pool.Acquire(context.Background())
	assert.ErrorIs(t, err, core.ErrPoolClosed)

	assert.ErrorIs(t, pool.Ping(context.Background()), core.ErrPoolClosed)
}

func TestPoolInvalidBounds(t *testing.T) {
	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	_, err = NewPool(context.Background(), config.DatabaseConfig{
		Driver:         "sqlite3",
		DSN:            ":memory:",
		MinConnections: 10,
		MaxConnections: 2,
	}, log)
	assert.Error(t, err)
}

func TestPoolInitRetryExhaustion(t *testing.T) {
	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	start := time.Now()
	_, err = NewPool(context.Background(), config.DatabaseConfig{
		Driver:      "postgres",
		DSN:         "postgres://nobody@127.0.0.1:1/does_not_exist?sslmode=disable&connect_timeout=1",
		InitRetries: 2,
	}, log)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrStorageUnavailable))

	// One retry means one 2^1 second backoff was taken before giving up.
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
}

func TestPoolPing(t *testing.T) {
	pool, cleanup := setupTestPool(t, 2)
	defer cleanup()

	assert.NoError(t, pool.Ping(context.Background()))
}

func TestDegradedPoolReportsStorageUnavailable(t *testing.T) {
	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	pool := NewDegradedPool(config.DatabaseConfig{Driver: "postgres"}, log)

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, core.ErrStorageUnavailable)

	err = pool.WithConn(context.Background(), func(*Conn) error { return nil })
	assert.ErrorIs(t, err, core.ErrStorageUnavailable)

	assert.ErrorIs(t, pool.Ping(context.Background()), core.ErrStorageUnavailable)

	// Shutdown of a pool that never opened is still a clean no-op, and
	// afterwards acquires fail fast like any closed pool.
	require.NoError(t, pool.Shutdown())
	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, core.ErrPoolClosed)
}
