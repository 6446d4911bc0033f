package admin

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/avaropoint/camlink/internal/logging"
)

const (
	viewerBuffer  = 4
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	readLimit     = 512
)

// viewer is one WebSocket preview observer.
type viewer struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// push queues jpeg, discarding the oldest frame when the viewer lags.
func (v *viewer) push(jpeg []byte) (dropped bool) {
	for {
		select {
		case v.send <- jpeg:
			return dropped
		default:
		}
		select {
		case <-v.send:
			dropped = true
		default:
		}
	}
}

func (v *viewer) close() {
	v.once.Do(func() { close(v.done) })
}

// Hub fans preview frames out to WebSocket viewers.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	viewers map[string]*viewer
	closed  bool
	wg      sync.WaitGroup
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 << 10,
			// Same-origin checks do not apply: access is gated by API key.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		viewers: make(map[string]*viewer),
	}
}

// Publish sends a copy of jpeg to every viewer. It never blocks.
func (h *Hub) Publish(jpeg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.viewers) == 0 {
		return
	}
	frame := append([]byte(nil), jpeg...)
	for _, v := range h.viewers {
		if v.push(frame) {
			logging.Debug("preview viewer lagging", logging.Component("admin"), "viewer", v.id)
		}
	}
}

// Viewers is the number of connected observers.
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// ServeHTTP upgrades the request and streams frames until the viewer
// leaves or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", logging.Component("admin"), logging.Err(err))
		return
	}
	v := &viewer{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, viewerBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close() //nolint:errcheck
		return
	}
	h.viewers[v.id] = v
	h.wg.Add(2)
	h.mu.Unlock()

	log := logging.With(logging.Component("admin"), "viewer", v.id, logging.Remote(r.RemoteAddr))
	log.Info("preview viewer connected")

	go func() {
		defer h.wg.Done()
		h.readPump(v)
	}()
	go func() {
		defer h.wg.Done()
		h.writePump(v)
		h.remove(v)
		log.Info("preview viewer disconnected")
	}()
}

func (h *Hub) remove(v *viewer) {
	h.mu.Lock()
	delete(h.viewers, v.id)
	h.mu.Unlock()
	v.close()
	v.conn.Close() //nolint:errcheck
}

// readPump only services control frames; viewers send nothing useful.
func (h *Hub) readPump(v *viewer) {
	defer v.close()
	v.conn.SetReadLimit(readLimit)
	v.conn.SetReadDeadline(time.Now().Add(readDeadline)) //nolint:errcheck
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("viewer read ended", logging.Component("admin"), "viewer", v.id, logging.Err(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(v *viewer) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-v.done:
			v.conn.SetWriteDeadline(time.Now().Add(writeDeadline)) //nolint:errcheck
			v.conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeDeadline)) //nolint:errcheck
			if err := v.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeDeadline)) //nolint:errcheck
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every viewer and waits for their pumps.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for _, v := range h.viewers {
		v.close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}
