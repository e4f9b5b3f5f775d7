package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/colossusbot/modwatch/internal/errors"
	"github.com/colossusbot/modwatch/internal/logger"
	"github.com/colossusbot/modwatch/internal/moderation"
)

const (
	defaultQueueSize = 100
	sendTimeout      = 30 * time.Second
)

// DefaultEvents are pushed when no event filter is configured.
var DefaultEvents = []string{moderation.EventAlertCreated}

// Service queues lifecycle events and pushes the selected ones to every
// provider on a single worker goroutine, so slow destinations never stall the bus.
type Service struct {
	providers []Provider
	events    map[string]bool
	log       logger.Logger

	queue    chan *moderation.LifecycleEvent
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewService creates the service and starts its worker. An empty events list
// selects DefaultEvents.
func NewService(providers []Provider, events []string, log logger.Logger) *Service {
	if len(events) == 0 {
		events = DefaultEvents
	}
	s := &Service{
		providers: providers,
		events:    make(map[string]bool, len(events)),
		log:       log.Module("notification"),
		queue:     make(chan *moderation.LifecycleEvent, defaultQueueSize),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, e := range events {
		s.events[e] = true
	}
	go s.run()
	return s
}

// Subscribe attaches the service to bus.
func (s *Service) Subscribe(bus *moderation.EventBus) {
	bus.Subscribe(s.Handle)
}

// Handle enqueues event when its type is selected. Full queues drop the event.
func (s *Service) Handle(event *moderation.LifecycleEvent) {
	if event == nil || !s.events[event.Type] || len(s.providers) == 0 {
		return
	}
	select {
	case <-s.stopCh:
		return
	default:
	}
	select {
	case s.queue <- event:
	default:
		s.log.Warn("notification queue full, event dropped",
			logger.String("type", event.Type),
			logger.String("alert_id", event.AlertID))
	}
}

// Stop delivers queued events and waits for the worker.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Service) run() {
	defer close(s.doneCh)
	for {
		select {
		case event := <-s.queue:
			s.deliver(event)
		case <-s.stopCh:
			for {
				select {
				case event := <-s.queue:
					s.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) deliver(event *moderation.LifecycleEvent) {
	n := Format(event)
	for _, p := range s.providers {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := p.Send(ctx, n)
		cancel()
		if err != nil {
			err = errors.New(err).
				Component("notification").
				Category(errors.CategoryNotification).
				Context("provider", p.Name()).
				Context("event", event.Type).
				Build()
			s.log.Warn("push notification failed",
				logger.String("provider", p.Name()),
				logger.String("type", event.Type),
				logger.Error(err))
		}
	}
}

// Format renders a lifecycle event as a push message.
func Format(event *moderation.LifecycleEvent) *Notification {
	title := fmt.Sprintf("modwatch: %s", event.Type)
	if event.Kind != "" {
		title = fmt.Sprintf("modwatch: %s (%s)", event.Type, event.Kind.Title())
	}

	msg := fmt.Sprintf("guild %s", event.GuildID)
	if event.AlertID != "" {
		msg += fmt.Sprintf(", alert %s", event.AlertID)
	}
	if event.ChannelID != "" {
		msg += fmt.Sprintf(", channel %s", event.ChannelID)
	}
	if event.TargetUserID != "" {
		msg += fmt.Sprintf(", user %s", event.TargetUserID)
	}
	if event.Action != "" {
		msg += fmt.Sprintf(", action %s", event.Action)
	}
	if event.Detail != "" {
		msg += "\n" + event.Detail
	}
	return &Notification{Title: title, Message: msg}
}
