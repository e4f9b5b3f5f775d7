//go:build integration

package containers

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisContainer wraps a testcontainers Redis instance.
type RedisContainer struct {
	container testcontainers.Container
	addr      string
}

// RedisConfig holds configuration for Redis container creation.
type RedisConfig struct {
	// Image tag (default: "7-alpine")
	ImageTag string
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{ImageTag: "7-alpine"}
}

// NewRedisContainer creates and starts a Redis container.
// If config is nil, uses DefaultRedisConfig().
func NewRedisContainer(ctx context.Context, config *RedisConfig) (*RedisContainer, error) {
	if config == nil {
		defaultCfg := DefaultRedisConfig()
		config = &defaultCfg
	}

	req := testcontainers.ContainerRequest{
		Image:        fmt.Sprintf("redis:%s", config.ImageTag),
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, "6379")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	rc := &RedisContainer{
		container: container,
		addr:      net.JoinHostPort(host, strconv.Itoa(mappedPort.Int())),
	}

	// Verify the server answers before handing it out
	if err := RetryWithBackoff(ctx, 5, 200*time.Millisecond, 2*time.Second, func() error {
		client := rc.NewClient()
		defer func() { _ = client.Close() }()
		return client.Ping(ctx).Err()
	}); err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	return rc, nil
}

// Addr returns the host:port Redis listens on.
func (c *RedisContainer) Addr() string {
	return c.addr
}

// NewClient returns a client for this server. The caller closes it.
func (c *RedisContainer) NewClient() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: c.addr})
}

// Terminate stops and removes the Redis container.
func (c *RedisContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
