package coordination

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

var testRedisURL string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	code := m.Run()

	_ = container.Terminate(ctx)
	os.Exit(code)
}

func setupTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	opts, err := goredis.ParseURL(testRedisURL)
	require.NoError(t, err)
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.FlushAll(context.Background()).Err())
	return client
}

func TestInstanceHeartbeatLifecycle(t *testing.T) {
	rdb := setupTestRedis(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var sessions atomic.Int64
	reg := NewInstanceRegistry(rdb, "instance-a", 50*time.Millisecond, "test", func() int { return int(sessions.Load()) })

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		reg.Start(runCtx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		active, err := reg.GetActiveInstances(ctx)
		return err == nil && len(active) == 1
	}, 5*time.Second, 20*time.Millisecond)

	sessions.Store(42)
	require.Eventually(t, func() bool {
		infos, err := reg.GetInstanceInfo(ctx)
		return err == nil && len(infos) == 1 && infos[0].Sessions == 42
	}, 5*time.Second, 20*time.Millisecond)

	infos, err := reg.GetInstanceInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "instance-a", infos[0].InstanceID)
	assert.Equal(t, "test", infos[0].Version)

	// Shutdown unregisters the instance.
	stop()
	<-done

	active, err := reg.GetActiveInstances(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestMultipleInstancesVisibleToEachOther(t *testing.T) {
	rdb := setupTestRedis(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := NewInstanceRegistry(rdb, "instance-a", time.Minute, "test", func() int { return 1 })
	b := NewInstanceRegistry(rdb, "instance-b", time.Minute, "test", func() int { return 2 })

	a.register(ctx)
	b.register(ctx)

	active, err := a.GetActiveInstances(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"instance-a", "instance-b"}, active)
}

func TestStaleInstancesAreFiltered(t *testing.T) {
	rdb := setupTestRedis(t)

	ctx := context.Background()

	// Write a heartbeat from two minutes ago directly.
	stale := InstanceInfo{InstanceID: "instance-old", Timestamp: time.Now().Add(-2 * time.Minute).Unix(), Version: "test"}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, rdb.HSet(ctx, instancesKey, stale.InstanceID, data).Err())

	fresh := NewInstanceRegistry(rdb, "instance-new", time.Minute, "test", func() int { return 0 })
	fresh.register(ctx)

	active, err := fresh.GetActiveInstances(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"instance-new"}, active)
}
