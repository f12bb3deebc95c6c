package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"screening-session-service/internal/models"
	"screening-session-service/internal/observability/logging"
	"screening-session-service/internal/service/coordinator"
)

const (
	writeWait      = 5 * time.Second
	broadcastDepth = 256
)

// Stream message types.
const (
	MessageSnapshot = "snapshot"
	MessageTurn     = "turn"
	MessageInterim  = "interim"
	MessageAffect   = "affect"
	MessageState    = "state"
	MessageClosed   = "closed"
)

// StreamMessage is one update pushed to live transcript clients.
type StreamMessage struct {
	Type    string                 `json:"type"`
	View    *coordinator.View      `json:"view,omitempty"`
	Turn    *models.Turn           `json:"turn,omitempty"`
	Affect  *models.AffectSnapshot `json:"affect,omitempty"`
	State   string                 `json:"state,omitempty"`
	Outcome *models.CloseOutcome   `json:"outcome,omitempty"`
}

// Hub fans coordinator updates out to websocket clients. It implements
// coordinator.Observer.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan StreamMessage
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	snapshot   func() coordinator.View
	logger     zerolog.Logger
	running    atomic.Bool
	mu         sync.RWMutex
}

var _ coordinator.Observer = (*Hub)(nil)

// NewHub creates a hub. snapshot provides the view sent to newly connected clients.
func NewHub(snapshot func() coordinator.View) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan StreamMessage, broadcastDepth),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		snapshot:   snapshot,
		logger:     logging.WithComponent("stream"),
	}
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer close(h.done)
	defer h.running.Store(false)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			v := h.snapshot()
			if err := write(conn, StreamMessage{Type: MessageSnapshot, View: &v}); err != nil {
				conn.Close()
				continue
			}
			h.mu.Lock()
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", total).Msg("Stream client connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", total).Msg("Stream client disconnected")

		case msg := <-h.broadcast:
			var failed []*websocket.Conn
			h.mu.RLock()
			for conn := range h.clients {
				if err := write(conn, msg); err != nil {
					h.logger.Debug().Err(err).Msg("Stream write failed")
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()

			if len(failed) > 0 {
				h.mu.Lock()
				for _, conn := range failed {
					delete(h.clients, conn)
					conn.Close()
				}
				h.mu.Unlock()
			}
		}
	}
}

func write(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// publish queues msg for broadcast, dropping it if the hub is backed up so
// the conversation never waits on slow clients. Updates are queued even with
// no clients connected: one registering concurrently must not miss an update
// that postdates its snapshot. Nothing is queued while Run is not serving.
func (h *Hub) publish(msg StreamMessage) {
	if !h.running.Load() {
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn().Str("type", msg.Type).Msg("Stream backlog full, dropping update")
	}
}

func (h *Hub) TurnAppended(turn models.Turn) {
	h.publish(StreamMessage{Type: MessageTurn, Turn: &turn})
}

func (h *Hub) InterimUpdated(interim *models.Turn) {
	h.publish(StreamMessage{Type: MessageInterim, Turn: interim})
}

func (h *Hub) AffectUpdated(snapshot models.AffectSnapshot) {
	h.publish(StreamMessage{Type: MessageAffect, Affect: &snapshot})
}

func (h *Hub) StateChanged(state coordinator.State) {
	h.publish(StreamMessage{Type: MessageState, State: state.String()})
}

func (h *Hub) SessionClosed(outcome models.CloseOutcome) {
	h.publish(StreamMessage{Type: MessageClosed, Outcome: &outcome})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

// ServeWS upgrades the request and registers the connection. Client messages
// are read and discarded so disconnects are noticed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
