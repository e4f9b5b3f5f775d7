package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/colossusbot/modwatch/internal/logger"
	"github.com/colossusbot/modwatch/internal/moderation"
)

const publishTimeout = 5 * time.Second

// Publisher forwards lifecycle events to <prefix>/<guild>/<event type>.
type Publisher struct {
	client Client
	prefix string
	log    logger.Logger
	failed atomic.Uint64
}

// NewPublisher creates a publisher writing under prefix.
func NewPublisher(client Client, prefix string, log logger.Logger) *Publisher {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "modwatch"
	}
	return &Publisher{client: client, prefix: prefix, log: log.Module("mqtt")}
}

// Subscribe attaches the publisher to bus.
func (p *Publisher) Subscribe(bus *moderation.EventBus) {
	bus.Subscribe(p.Handle)
}

// Topic returns the topic an event is published on.
func (p *Publisher) Topic(event *moderation.LifecycleEvent) string {
	guild := event.GuildID
	if guild == "" {
		guild = "global"
	}
	return p.prefix + "/" + guild + "/" + event.Type
}

// Handle publishes one event. Failures are logged and counted.
func (p *Publisher) Handle(event *moderation.LifecycleEvent) {
	if event == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error("failed to encode lifecycle event", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if !p.client.IsConnected() {
		if err := p.client.Connect(ctx); err != nil {
			p.failed.Add(1)
			p.log.Debug("mqtt not connected, event skipped",
				logger.String("type", event.Type),
				logger.Error(err))
			return
		}
	}
	if err := p.client.Publish(ctx, p.Topic(event), string(payload)); err != nil {
		p.failed.Add(1)
		p.log.Warn("failed to publish lifecycle event",
			logger.String("type", event.Type),
			logger.String("alert_id", event.AlertID),
			logger.Error(err))
	}
}

// Failed returns how many events could not be published.
func (p *Publisher) Failed() uint64 { return p.failed.Load() }
