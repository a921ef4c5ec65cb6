package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/signal_trader/internal/domain"
	"go.uber.org/zap"
)

const (
	hubClientBuffer = 32
	hubWriteTimeout = 5 * time.Second
)

// OutcomeEvent is one message on the /ws/outcomes stream.
type OutcomeEvent struct {
	Type      string          `json:"type"`
	Attempt   *domain.Attempt `json:"attempt,omitempty"`
	Order     *domain.Order   `json:"order,omitempty"`
	ElapsedMs int64           `json:"elapsed_ms,omitempty"`
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// OutcomeHub fans reconciliation activity out to websocket subscribers. It is
// registered as a reconciler observer, so publishing never blocks: a client
// whose buffer is full is dropped.
type OutcomeHub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[*hubClient]struct{}
	closed   bool
	logger   *zap.Logger
}

func NewOutcomeHub(logger *zap.Logger) *OutcomeHub {
	return &OutcomeHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
		logger:  logger,
	}
}

func (h *OutcomeHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	c := &hubClient{conn: conn, send: make(chan []byte, hubClientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("Outcome subscriber connected", zap.String("remote", r.RemoteAddr))

	go h.writeLoop(c)
	go h.readLoop(c)
}

// readLoop discards inbound messages and notices the peer going away.
func (h *OutcomeHub) readLoop(c *hubClient) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *OutcomeHub) writeLoop(c *hubClient) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *OutcomeHub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *OutcomeHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *OutcomeHub) publish(ev OutcomeEvent) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode outcome event", zap.Error(err))
		return
	}

	var slow []*hubClient
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Dropping slow outcome subscriber")
		h.remove(c)
	}
}

func (h *OutcomeHub) AttemptFinished(attempt domain.Attempt, elapsed time.Duration) {
	h.publish(OutcomeEvent{Type: "attempt", Attempt: &attempt, ElapsedMs: elapsed.Milliseconds()})
}

func (h *OutcomeHub) OrderSubmitted(order domain.Order) {
	h.publish(OutcomeEvent{Type: "order", Order: &order})
}

// Close disconnects every subscriber and refuses new ones.
func (h *OutcomeHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
