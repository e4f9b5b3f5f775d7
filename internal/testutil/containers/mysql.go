//go:build integration

package containers

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/colossusbot/modwatch/internal/conf"
)

// MySQLContainer wraps a testcontainers MySQL instance.
type MySQLContainer struct {
	container *mysql.MySQLContainer
	settings  conf.MySQLSettings
}

// MySQLConfig holds configuration for MySQL container creation.
type MySQLConfig struct {
	// Image (default: "mysql:8.0")
	Image    string
	Database string
	Username string
	Password string
}

// DefaultMySQLConfig returns a MySQLConfig with test defaults.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		Image:    "mysql:8.0",
		Database: "modwatch_test",
		Username: "modwatch",
		Password: "modwatch",
	}
}

// NewMySQLContainer starts MySQL and waits until it accepts connections.
// If config is nil, uses DefaultMySQLConfig().
func NewMySQLContainer(ctx context.Context, config *MySQLConfig) (*MySQLContainer, error) {
	if config == nil {
		defaultCfg := DefaultMySQLConfig()
		config = &defaultCfg
	}

	container, err := mysql.Run(ctx, config.Image,
		mysql.WithDatabase(config.Database),
		mysql.WithUsername(config.Username),
		mysql.WithPassword(config.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start MySQL container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "3306/tcp")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	return &MySQLContainer{
		container: container,
		settings: conf.MySQLSettings{
			Host:     host,
			Port:     port.Int(),
			Username: config.Username,
			Password: config.Password,
			Database: config.Database,
		},
	}, nil
}

// Settings returns connection settings for datastore.Open.
func (c *MySQLContainer) Settings() conf.DatabaseSettings {
	return conf.DatabaseSettings{Driver: "mysql", MySQL: c.settings}
}

// Terminate stops and removes the container.
func (c *MySQLContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
