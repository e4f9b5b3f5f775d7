package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/colossusbot/modwatch/internal/logger"
	"github.com/colossusbot/modwatch/internal/moderation"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamBuffer     = 64
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// non-browser clients send no Origin
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

type streamClient struct {
	guildID string
	send    chan []byte
}

// StreamHub fans lifecycle events out to websocket clients. A client that
// cannot keep up loses events instead of slowing the bus.
type StreamHub struct {
	clients *xsync.MapOf[string, *streamClient]
	dropped atomic.Uint64
	log     logger.Logger
}

func NewStreamHub(log logger.Logger) *StreamHub {
	return &StreamHub{
		clients: xsync.NewMapOf[string, *streamClient](),
		log:     log.Module("stream"),
	}
}

// Subscribe attaches the hub to bus.
func (h *StreamHub) Subscribe(bus *moderation.EventBus) {
	bus.Subscribe(h.Broadcast)
}

// Broadcast queues event for every client watching its guild.
func (h *StreamHub) Broadcast(event *moderation.LifecycleEvent) {
	if event == nil || h.clients.Size() == 0 {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to encode lifecycle event", logger.Error(err))
		return
	}
	h.clients.Range(func(_ string, c *streamClient) bool {
		if c.guildID != "" && c.guildID != event.GuildID {
			return true
		}
		select {
		case c.send <- payload:
		default:
			h.dropped.Add(1)
		}
		return true
	})
}

// Clients returns the number of connected clients.
func (h *StreamHub) Clients() int { return h.clients.Size() }

// Dropped returns how many events slow clients missed.
func (h *StreamHub) Dropped() uint64 { return h.dropped.Load() }

// HandleStream upgrades to a websocket and streams events as JSON text
// messages. guild_id limits the stream to one guild.
func (h *StreamHub) HandleStream(ctx echo.Context) error {
	conn, err := streamUpgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		h.log.Warn("failed to upgrade stream connection", logger.Error(err))
		return nil
	}
	defer func() { _ = conn.Close() }()

	id := uuid.NewString()
	client := &streamClient{guildID: ctx.QueryParam("guild_id"), send: make(chan []byte, streamBuffer)}
	h.clients.Store(id, client)
	defer h.clients.Delete(id)
	h.log.Debug("stream client connected", logger.String("client_id", id), logger.String("guild_id", client.guildID))

	// the read side only handles pongs and close frames
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case payload := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-closed:
			return nil
		case <-ctx.Request().Context().Done():
			return nil
		}
	}
}
