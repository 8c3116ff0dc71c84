package events

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// WebSocket bridge: pushes hub events to external subscribers
// ---------------------------------------------------------------------------

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
)

// Bridge exposes the hub over a websocket endpoint. A client connects with
// one or more ?topic= query parameters and receives every event on those
// topics as a JSON frame. Same contract as the hub: best effort, no replay.
type Bridge struct {
	hub *Hub
	log zerolog.Logger

	upgrader websocket.Upgrader
	clients  atomic.Int64
}

// NewBridge creates a bridge over hub.
func NewBridge(hub *Hub, logger zerolog.Logger) *Bridge {
	return &Bridge{
		hub: hub,
		log: logger.With().Str("component", "ws_bridge").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The API is an internal front door; origin policy is the
			// deployment proxy's concern.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Clients returns the number of connected websocket clients.
func (b *Bridge) Clients() int64 { return b.clients.Load() }

// ServeHTTP upgrades the connection and streams the requested topics.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		http.Error(w, "at least one topic query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	b.clients.Add(1)
	b.log.Debug().Strs("topics", topics).Msg("websocket client connected")

	subs := make([]*Subscription, 0, len(topics))
	merged := make(chan Event, 64)
	done := make(chan struct{})
	for _, topic := range topics {
		sub := b.hub.Subscribe(topic)
		subs = append(subs, sub)
		go func(s *Subscription) {
			for e := range s.C {
				select {
				case merged <- e:
				case <-done:
					return
				}
			}
		}(sub)
	}

	cleanup := func() {
		close(done)
		for _, s := range subs {
			s.Close()
		}
		conn.Close()
		b.clients.Add(-1)
	}

	// Reader only services control frames and surfaces the close.
	go func() {
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				select {
				case merged <- nil:
				case <-done:
				}
				return
			}
		}
	}()

	go b.writeLoop(conn, merged, cleanup)
}

func (b *Bridge) writeLoop(conn *websocket.Conn, merged <-chan Event, cleanup func()) {
	defer cleanup()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case e := <-merged:
			if e == nil {
				// Reader saw the peer go away.
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				b.log.Debug().Err(err).Msg("websocket write failed, dropping client")
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
