// Package mqtt publishes moderation lifecycle events to an MQTT broker.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/colossusbot/modwatch/internal/conf"
	"github.com/colossusbot/modwatch/internal/errors"
	"github.com/colossusbot/modwatch/internal/logger"
)

const (
	connectTimeout  = 10 * time.Second
	connectCooldown = 5 * time.Second
	disconnectQuiet = 250 // milliseconds
)

// Client is the subset of MQTT operations the publisher needs.
type Client interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic, payload string) error
	IsConnected() bool
	Disconnect()
}

type client struct {
	settings conf.MQTTSettings
	log      logger.Logger

	mu          sync.Mutex
	paho        paho.Client
	lastAttempt time.Time
}

// NewClient validates settings and prepares a client. It does not connect.
func NewClient(settings *conf.MQTTSettings, log logger.Logger) (Client, error) {
	if settings == nil || settings.Broker == "" {
		return nil, errors.Newf("mqtt broker is not configured").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.QoS > 2 {
		return nil, errors.Newf("invalid mqtt qos %d", settings.QoS).
			Component("mqtt").
			Category(errors.CategoryValidation).
			Build()
	}
	s := *settings
	if s.ClientID == "" {
		s.ClientID = "modwatch-" + uuid.NewString()[:8]
	}
	return &client{settings: s, log: log.Module("mqtt")}, nil
}

func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paho != nil && c.paho.IsConnected() {
		return nil
	}
	if since := time.Since(c.lastAttempt); since < connectCooldown {
		return fmt.Errorf("connection attempt too recent, retry in %s", (connectCooldown - since).Round(time.Second))
	}
	c.lastAttempt = time.Now()

	opts := paho.NewClientOptions()
	opts.AddBroker(c.settings.Broker)
	opts.SetClientID(c.settings.ClientID)
	opts.SetUsername(c.settings.Username)
	opts.SetPassword(c.settings.Password)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("mqtt connection lost", logger.Error(err))
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		c.log.Info("mqtt connected", logger.String("broker", c.settings.Broker))
	})

	pc := paho.NewClient(opts)
	token := pc.Connect()
	if err := wait(ctx, token); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("broker", c.settings.Broker).
			Build()
	}
	c.paho = pc
	return nil
}

func (c *client) Publish(ctx context.Context, topic, payload string) error {
	c.mu.Lock()
	pc := c.paho
	c.mu.Unlock()

	if pc == nil || !pc.IsConnected() {
		return fmt.Errorf("mqtt client is not connected")
	}
	token := pc.Publish(topic, c.settings.QoS, c.settings.Retain, payload)
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paho != nil && c.paho.IsConnected()
}

func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paho != nil {
		c.paho.Disconnect(disconnectQuiet)
		c.paho = nil
	}
}

// wait blocks until token completes or ctx ends.
func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
