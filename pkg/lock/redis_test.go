package lock_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowgate/pkg/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	return "redis://" + endpoint + "/0"
}

func TestRedis_Lock(t *testing.T) {
	redisURL := setupRedis(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	first, err := lock.NewRedisFromURL(ctx, logger, redisURL, time.Second)
	require.NoError(t, err)

	defer func() { require.NoError(t, first.Close()) }()

	second, err := lock.NewRedisFromURL(ctx, logger, redisURL, time.Second)
	require.NoError(t, err)

	defer func() { require.NoError(t, second.Close()) }()

	t.Run("excludes other processes", func(t *testing.T) {
		release, err := first.Lock(ctx, "instance-1")
		require.NoError(t, err)

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()

		_, err = second.Lock(waitCtx, "instance-1")
		require.ErrorIs(t, err, context.DeadlineExceeded)

		release()

		release, err = second.Lock(ctx, "instance-1")
		require.NoError(t, err)
		release()
	})

	t.Run("expires abandoned locks", func(t *testing.T) {
		_, err := first.Lock(ctx, "instance-2")
		require.NoError(t, err)

		start := time.Now()

		release, err := second.Lock(ctx, "instance-2")
		require.NoError(t, err)
		release()

		assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("serializes writers", func(t *testing.T) {
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			active  int
			maxSeen int
		)

		for i := range 10 {
			locker := first
			if i%2 == 0 {
				locker = second
			}

			wg.Add(1)

			go func() {
				defer wg.Done()

				release, err := locker.Lock(ctx, "instance-3")
				if !assert.NoError(t, err) {
					return
				}
				defer release()

				mu.Lock()
				active++
				maxSeen = max(maxSeen, active)
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
			}()
		}

		wg.Wait()
		assert.Equal(t, 1, maxSeen)
	})
}
