package fanout

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/domain"
	"github.com/ernie/warden/internal/metrics"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HubOptions size the backlog and client buffers
type HubOptions struct {
	RingSize       int
	ClientBuffer   int
	PingInterval   time.Duration
	MaxMissedPongs int
}

// HubStats describes the hub for the dashboard
type HubStats struct {
	Capacity int   `json:"capacity"`
	Size     int   `json:"size"`
	Clients  int   `json:"clients"`
	Dropped  int64 `json:"dropped"`
}

// Hub fans events out to WebSocket viewers and keeps the most recent ones
// for late joiners. Publish never blocks: a viewer whose buffer is full is
// disconnected.
type Hub struct {
	opts HubOptions

	mu      sync.Mutex
	ring    [][]byte
	head    int
	size    int
	clients map[*Client]struct{}
	closed  bool

	dropped atomic.Int64
}

// Client is one connected viewer
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	missed     atomic.Int32
}

// NewHub creates a hub
func NewHub(opts HubOptions) *Hub {
	if opts.RingSize <= 0 {
		opts.RingSize = 500
	}
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = 256
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.MaxMissedPongs <= 0 {
		opts.MaxMissedPongs = 2
	}
	return &Hub{
		opts:    opts,
		ring:    make([][]byte, opts.RingSize),
		clients: make(map[*Client]struct{}),
	}
}

// Publish records the event and sends it to every viewer
func (h *Hub) Publish(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("Error marshaling event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.ring[(h.head+h.size)%len(h.ring)] = data
	if h.size < len(h.ring) {
		h.size++
	} else {
		h.head = (h.head + 1) % len(h.ring)
	}

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropLocked(c, "slow_consumer")
		}
	}
}

// Backlog returns the buffered events, oldest first
func (h *Hub) Backlog() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.backlogLocked()
}

func (h *Hub) backlogLocked() [][]byte {
	out := make([][]byte, 0, h.size)
	for i := 0; i < h.size; i++ {
		out = append(out, h.ring[(h.head+i)%len(h.ring)])
	}
	return out
}

// Stats returns ring and client counts
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HubStats{
		Capacity: len(h.ring),
		Size:     h.size,
		Clients:  len(h.clients),
		Dropped:  h.dropped.Load(),
	}
}

// ServeWS upgrades the request and streams events to the viewer
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	c := h.register(conn, clientIP(r))
	if c == nil {
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// register adds a viewer and queues the backlog ahead of live events
func (h *Hub) register(conn *websocket.Conn, remoteAddr string) *Client {
	c := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, h.opts.ClientBuffer),
		remoteAddr: remoteAddr,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	backlog := h.backlogLocked()
	if len(backlog) > cap(c.send) {
		backlog = backlog[len(backlog)-cap(c.send):]
	}
	for _, msg := range backlog {
		c.send <- msg
	}
	h.clients[c] = struct{}{}
	metrics.WebSocketClients.Set(float64(len(h.clients)))
	log.Info().Str("remote", remoteAddr).Int("clients", len(h.clients)).Msg("WebSocket client connected")
	return c
}

// unregister removes a viewer that went away on its own
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		metrics.WebSocketClients.Set(float64(len(h.clients)))
		log.Info().Str("remote", c.remoteAddr).Int("clients", len(h.clients)).Msg("WebSocket client disconnected")
	}
}

// evict drops a viewer for a protocol reason
func (h *Hub) evict(c *Client, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.dropLocked(c, reason)
	}
}

func (h *Hub) dropLocked(c *Client, reason string) {
	delete(h.clients, c)
	close(c.send)
	h.dropped.Add(1)
	metrics.WebSocketDropsTotal.WithLabelValues(reason).Inc()
	metrics.WebSocketClients.Set(float64(len(h.clients)))
	log.Warn().Str("remote", c.remoteAddr).Str("reason", reason).Msg("WebSocket client dropped")
}

// Close disconnects every viewer
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	metrics.WebSocketClients.Set(0)
}

// readPump consumes control frames; viewers never send data
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetPongHandler(func(string) error {
		c.missed.Store(0)
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Str("remote", c.remoteAddr).Msg("WebSocket read error")
			}
			return
		}
	}
}

// writePump sends queued events and pings; a viewer that misses too many
// pongs in a row is evicted
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if int(c.missed.Load()) >= c.hub.opts.MaxMissedPongs {
				c.hub.evict(c, "pong_timeout")
				continue
			}
			c.missed.Add(1)
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// clientIP extracts the real client IP, checking proxy headers first
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
