package httpapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/herrald/beacon/internal/events"
)

const writeTimeout = 10 * time.Second

// Frame is one event on the wire: the event kind plus its payload, encoded
// as msgpack.
type Frame struct {
	Kind string       `msgpack:"kind" json:"kind"`
	Body events.Event `msgpack:"body" json:"body"`
}

// Hub fans runtime events out to every connected websocket client. Slow
// clients are dropped rather than allowed to stall the feed.
type Hub struct {
	bus *events.Bus

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	stop     func()
	stopOnce sync.Once
	done     chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is same-host tooling, not a browser-facing product surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func NewHub(bus *events.Bus) *Hub {
	return &Hub{
		bus:   bus,
		conns: make(map[*websocket.Conn]struct{}),
		done:  make(chan struct{}),
	}
}

// Run starts relaying bus events to connected clients.
func (h *Hub) Run() {
	sub, cancel := h.bus.Subscribe()
	h.stop = cancel

	go func() {
		defer close(h.done)
		for ev := range sub {
			h.broadcast(ev)
		}
	}()
}

// Stop unsubscribes from the bus and closes every client connection.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		if h.stop != nil {
			h.stop()
			<-h.done
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		for conn := range h.conns {
			conn.Close()
		}
		h.conns = make(map[*websocket.Conn]struct{})
	})
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws: upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()
	slog.Info("ws: client connected", "total", total)

	// The feed is one-way. The read loop only notices disconnects.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) broadcast(ev events.Event) {
	data, err := msgpack.Marshal(Frame{Kind: ev.Kind(), Body: ev})
	if err != nil {
		slog.Error("ws: encode frame", "kind", ev.Kind(), "error", err)
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			slog.Warn("ws: dropping client", "error", err)
			h.drop(conn)
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	_, present := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()
	if present {
		conn.Close()
	}
}
