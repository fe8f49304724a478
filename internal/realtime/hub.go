package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Linhhh07/Iot/internal/observability"
)

const (
	EventNewSensor    = "new_sensor"
	EventDeviceStatus = "device_status"
)

// Event is pushed verbatim to every connected websocket client.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

// Options tunes the per-client queue and keepalive. Zero fields take the
// defaults below.
type Options struct {
	// SendQueue is how many events may wait for one client before it is
	// treated as stalled and disconnected.
	SendQueue    int
	PingInterval time.Duration
	WriteTimeout time.Duration
	// ReadLimit caps inbound frames; subscribers only ever send control frames.
	ReadLimit int64
}

const (
	defaultSendQueue    = 64
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 512
)

func (o Options) withDefaults() Options {
	if o.SendQueue <= 0 {
		o.SendQueue = defaultSendQueue
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	return o
}

// pongWait is how long a client may stay silent: two missed pings.
func (o Options) pongWait() time.Duration {
	return 2*o.PingInterval + o.WriteTimeout
}

// Hub fans events out to websocket subscribers. There is no replay: a client only
// sees events broadcast while it is connected.
type Hub struct {
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*subscriber]struct{}
}

type subscriber struct {
	id    string
	conn  *websocket.Conn
	queue chan []byte
	once  sync.Once
}

func NewHub(opts Options) *Hub {
	return &Hub{
		opts: opts.withDefaults(),
		upgrader: websocket.Upgrader{
			// Any origin may subscribe; the feed is read-only.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: map[*subscriber]struct{}{},
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s := &subscriber{id: uuid.NewString(), conn: conn, queue: make(chan []byte, h.opts.SendQueue)}
	h.mu.Lock()
	h.clients[s] = struct{}{}
	h.mu.Unlock()
	observability.WSClients.Inc()
	slog.Info("ws client connected", "client_id", s.id, "remote", r.RemoteAddr)

	go h.deliver(s)
	h.drainInbound(s)
	h.detach(s, "disconnected")
}

// Broadcast queues ev for every subscriber without blocking. A subscriber whose
// queue is full is disconnected.
func (h *Hub) Broadcast(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("ws event marshal failed", "type", ev.Type, "error", err)
		return
	}

	var stalled []*subscriber
	h.mu.Lock()
	for s := range h.clients {
		select {
		case s.queue <- b:
			observability.WSEventsTotal.WithLabelValues(ev.Type, "queued").Inc()
		default:
			observability.WSEventsTotal.WithLabelValues(ev.Type, "dropped").Inc()
			stalled = append(stalled, s)
		}
	}
	h.mu.Unlock()

	for _, s := range stalled {
		h.detach(s, "send queue full")
	}
}

// Clients reports the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// detach removes s once; later calls are no-ops. Closing the queue stops the
// delivery goroutine and closing the conn unblocks the inbound reader.
func (h *Hub) detach(s *subscriber, reason string) {
	s.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, s)
		close(s.queue)
		h.mu.Unlock()
		_ = s.conn.Close()
		observability.WSClients.Dec()
		slog.Info("ws client detached", "client_id", s.id, "reason", reason)
	})
}

// drainInbound discards client frames until the connection fails or the client
// misses its pongs.
func (h *Hub) drainInbound(s *subscriber) {
	s.conn.SetReadLimit(h.opts.ReadLimit)
	extend := func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(h.opts.pongWait()))
	}
	_ = extend("")
	s.conn.SetPongHandler(extend)

	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}

// deliver writes queued events in order and pings on every idle interval.
func (h *Hub) deliver(s *subscriber) {
	ping := time.NewTicker(h.opts.PingInterval)
	defer ping.Stop()

	write := func(kind int, b []byte) error {
		_ = s.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		return s.conn.WriteMessage(kind, b)
	}

	for {
		select {
		case b, ok := <-s.queue:
			if !ok {
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := write(websocket.TextMessage, b); err != nil {
				h.detach(s, "write failed")
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				h.detach(s, "ping failed")
				return
			}
		}
	}
}
