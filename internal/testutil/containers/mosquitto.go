//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// anonymousBrokerConf lets any client connect without credentials.
const anonymousBrokerConf = "listener 1883\nallow_anonymous true\n"

// MosquittoContainer wraps an Eclipse Mosquitto broker.
type MosquittoContainer struct {
	container testcontainers.Container
	brokerURL string
}

// MosquittoConfig holds configuration for Mosquitto container creation.
type MosquittoConfig struct {
	// ImageTag (default: "2.0")
	ImageTag string
}

// NewMosquittoContainer starts an anonymous broker. If config is nil the
// default image tag is used.
func NewMosquittoContainer(ctx context.Context, config *MosquittoConfig) (*MosquittoContainer, error) {
	tag := "2.0"
	if config != nil && config.ImageTag != "" {
		tag = config.ImageTag
	}

	req := testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:" + tag,
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-test.conf"},
		Files: []testcontainers.ContainerFile{{
			Reader:            strings.NewReader(anonymousBrokerConf),
			ContainerFilePath: "/mosquitto-test.conf",
			FileMode:          0o644,
		}},
		WaitingFor: wait.ForLog("mosquitto version").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Mosquitto container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "1883")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	mc := &MosquittoContainer{
		container: container,
		brokerURL: "tcp://" + net.JoinHostPort(host, port.Port()),
	}
	if err := RetryWithBackoff(ctx, 5, 200*time.Millisecond, 2*time.Second, mc.healthCheck); err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	return mc, nil
}

// GetBrokerURL returns the broker URL, e.g. "tcp://localhost:32768".
func (c *MosquittoContainer) GetBrokerURL(t *testing.T) string {
	t.Helper()
	if c.brokerURL == "" {
		t.Fatal("broker URL is empty")
	}
	return c.brokerURL
}

func (c *MosquittoContainer) healthCheck() error {
	client, err := c.CreateClient("healthcheck", func(o *mqtt.ClientOptions) {
		o.SetAutoReconnect(false)
	})
	if err != nil {
		return err
	}
	client.Disconnect(250)
	return nil
}

// CreateClient returns a connected paho client. The caller disconnects it.
func (c *MosquittoContainer) CreateClient(clientID string, opts ...func(*mqtt.ClientOptions)) (mqtt.Client, error) {
	o := mqtt.NewClientOptions()
	o.AddBroker(c.brokerURL)
	o.SetClientID(clientID)
	o.SetConnectTimeout(10 * time.Second)
	o.SetAutoReconnect(true)
	for _, opt := range opts {
		opt(o)
	}

	client := mqtt.NewClient(o)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect timeout for client %s", clientID)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect client: %w", err)
	}
	return client, nil
}

// ClearRetainedMessages removes every retained message on the broker by
// publishing empty retained payloads to the topics that hold one.
func (c *MosquittoContainer) ClearRetainedMessages(ctx context.Context) error {
	client, err := c.CreateClient("cleaner")
	if err != nil {
		return fmt.Errorf("failed to create cleaner client: %w", err)
	}
	defer client.Disconnect(250)

	var (
		mu     sync.Mutex
		topics []string
	)
	token := client.Subscribe("#", 0, func(_ mqtt.Client, msg mqtt.Message) {
		if msg.Retained() {
			mu.Lock()
			topics = append(topics, msg.Topic())
			mu.Unlock()
		}
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout after 5s")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	// retained messages arrive right after the subscription
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for retained messages: %w", ctx.Err())
	}

	if t := client.Unsubscribe("#"); !t.WaitTimeout(5*time.Second) || t.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %v", t.Error())
	}

	mu.Lock()
	pending := append([]string(nil), topics...)
	mu.Unlock()

	for _, topic := range pending {
		t := client.Publish(topic, 0, true, nil)
		if !t.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("publish timeout for topic %s after 5s", topic)
		}
		if err := t.Error(); err != nil {
			return fmt.Errorf("failed to clear topic %s: %w", topic, err)
		}
	}
	return nil
}

// Terminate stops and removes the container.
func (c *MosquittoContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
