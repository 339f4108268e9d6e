package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"nft-shop/internal/metrics"
	"nft-shop/pkg"
)

const (
	clientSendBuf = 64
	writeDeadline = 5 * time.Second
	pongWait      = 60 * time.Second
	pingInterval  = 25 * time.Second
	maxFrameSize  = 4096
)

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Hub fans out shop events to every connected realtime client.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	quit    chan struct{}

	token    string
	log      pkg.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	PingInterval time.Duration
	PongWait     time.Duration
}

// NewHub builds a hub that only admits sockets presenting token. An empty
// token admits everyone.
func NewHub(token string, log pkg.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		quit:    make(chan struct{}),
		token:   token,
		log:     log,
		metrics: m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		PingInterval: pingInterval,
		PongWait:     pongWait,
	}
}

// Broadcast enqueues the event for every client without blocking. Clients
// whose buffer is full are dropped.
func (h *Hub) Broadcast(t FrameType, payload any) {
	data, err := MarshalFrame(t, payload)
	if err != nil {
		h.log.Warn("realtime: marshal error", zap.String("type", string(t)), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("realtime: dropping slow client", zap.String("type", string(t)))
			h.metrics.FrameDropped()
			h.dropLocked(c)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades GET /ws?token=... requests.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && r.URL.Query().Get("token") != h.token {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("realtime: upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameSize)

	c := &client{
		conn: conn,
		send: make(chan []byte, clientSendBuf),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeDeadline))
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.ClientConnected()
	h.log.Info("realtime: client connected", zap.String("remote", r.RemoteAddr))

	go h.writePump(c)
	go h.readPump(c)
}

// Close sends a going-away close frame to every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.quit)
}

// writePump owns the connection: it is the only writer and it closes the
// socket on exit.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.PingInterval)
	defer func() {
		ticker.Stop()
		h.removeClient(c)
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "slow consumer"), time.Now().Add(writeDeadline))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug("realtime: write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-h.quit:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeDeadline))
			return
		case <-c.done:
			return
		}
	}
}

// readPump answers application pings, echoes anything else and keeps the
// read deadline fresh on transport pongs.
func (h *Hub) readPump(c *client) {
	defer close(c.done)

	c.conn.SetReadDeadline(time.Now().Add(h.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(h.PongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("realtime: read error", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(h.PongWait))

		reply, err := replyTo(msg)
		if err != nil {
			h.log.Warn("realtime: reply marshal error", zap.Error(err))
			continue
		}
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			select {
			case c.send <- reply:
			default:
				h.metrics.FrameDropped()
			}
		}
		h.mu.Unlock()
	}
}

func replyTo(msg []byte) ([]byte, error) {
	if f, err := ParseFrame(msg); err == nil && f.Type == FramePing {
		return MarshalFrame(FramePong, nil)
	}
	return MarshalFrame(FrameEcho, EchoPayload{Message: "Echo: " + string(msg)})
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	if ok {
		h.metrics.ClientDisconnected()
		h.log.Info("realtime: client disconnected")
	}
}

// dropLocked detaches c and closes its send channel so writePump exits.
// Callers hold h.mu.
func (h *Hub) dropLocked(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.metrics.ClientDisconnected()
}
