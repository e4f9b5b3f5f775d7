package moderation

import (
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle event types.
const (
	EventAlertCreated         = "alert.created"
	EventAlertFolded          = "alert.folded"
	EventAlertEscalated       = "alert.escalated"
	EventAlertNotified        = "alert.notified"
	EventNotificationFailed   = "alert.notification_failed"
	EventAlertConfirmed       = "alert.confirmed"
	EventAlertDismissed       = "alert.dismissed"
	EventAlertPenalized       = "alert.penalized"
	EventPenaltyFailed        = "alert.penalty_failed"
	EventAlertExpired         = "alert.expired"
	EventClaimReleased        = "alert.claim_released"
	EventTransitionRejected   = "alert.transition_rejected"
	EventDetectorFault        = "detector.fault"
	EventStoreUnavailable     = "store.unavailable"
	EventTicketReminderPosted = "ticket.reminder_posted"
	EventTicketClosed         = "ticket.closed"
)

// LifecycleEvent describes something that happened to an alert or ticket.
type LifecycleEvent struct {
	Type         string    `json:"type"`
	GuildID      string    `json:"guild_id"`
	AlertID      string    `json:"alert_id,omitempty"`
	ChannelID    string    `json:"channel_id,omitempty"`
	Kind         Kind      `json:"kind,omitempty"`
	State        State     `json:"state,omitempty"`
	TargetUserID string    `json:"target_user_id,omitempty"`
	ActorID      string    `json:"actor_id,omitempty"`
	Action       Action    `json:"action,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// EventHandler consumes lifecycle events.
type EventHandler func(event *LifecycleEvent)

// eventBusBufferSize is the capacity of the async event channel.
const eventBusBufferSize = 1000

// EventBus fans lifecycle events out to subscribers on a worker goroutine.
// Publish never blocks: when the buffer is full the event is dropped and counted.
type EventBus struct {
	handlers []EventHandler
	mu       sync.RWMutex
	eventCh  chan *LifecycleEvent
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// NewEventBus creates a bus and starts its worker.
func NewEventBus() *EventBus {
	b := &EventBus{
		eventCh: make(chan *LifecycleEvent, eventBusBufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler.
func (b *EventBus) Subscribe(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues an event. Events published after Stop are discarded.
// A nil bus discards everything.
func (b *EventBus) Publish(event *LifecycleEvent) {
	if b == nil {
		return
	}
	select {
	case <-b.stopCh:
		return
	default:
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Stop drains queued events and waits for the worker to exit. Safe to call multiple times.
func (b *EventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

func (b *EventBus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.dispatch(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *EventBus) dispatch(event *LifecycleEvent) {
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.safeCall(handler, event)
	}
}

// safeCall keeps the worker alive when a handler panics.
func (b *EventBus) safeCall(handler EventHandler, event *LifecycleEvent) {
	defer func() {
		recover() //nolint:errcheck // handlers log their own failures
	}()
	handler(event)
}
