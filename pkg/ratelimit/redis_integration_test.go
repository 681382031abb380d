//go:build integration

package ratelimit

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestTracker_Integration_PublishesToRedis(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := NewRedisStore(redisClient, "")
	tracker := NewTracker(store, zerolog.New(os.Stderr).Level(zerolog.Disabled))
	ctx := context.Background()

	for remaining := 300; remaining > 295; remaining-- {
		if err := tracker.Update(ctx, remaining, 300); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Remaining != 296 {
		t.Errorf("Remaining = %d, want 296 (last update wins)", loaded.Remaining)
	}

	raw, err := redisClient.Get(ctx, "se:quota:max").Int()
	if err != nil {
		t.Fatalf("Get quota max: %v", err)
	}
	if raw != 300 {
		t.Errorf("se:quota:max = %d, want 300", raw)
	}
}
