package preview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
	sendBuf    = 4
)

// hub fans encoded snapshots out to websocket clients. Clients that cannot
// keep up are disconnected.
type hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	done chan struct{}

	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		logger:     logger,
		broadcast:  make(chan []byte, 1),
		register:   make(chan *client, 16),
		unregister: make(chan *client, 16),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
}

func (h *hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("preview client connected", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.remove(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*client
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()
			for _, c := range slow {
				h.remove(c, "slow_client")
			}
		}
	}
}

// publish queues msg, replacing a snapshot the hub has not picked up yet.
func (h *hub) publish(msg []byte) {
	for {
		select {
		case h.broadcast <- msg:
			return
		default:
		}
		select {
		case <-h.broadcast:
		default:
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *hub) remove(c *client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.conn.Close()
		h.logger.Info("preview client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

type client struct {
	hub        *hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
}

// writePump sends snapshots as binary frames and keeps the connection alive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				c.logWriteErr(err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logWriteErr(err)
				return
			}
		}
	}
}

func (c *client) logWriteErr(err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	c.hub.logger.Debug("preview write failed", "remote_addr", c.remoteAddr, "error", err)
}

// readPump discards client messages and unregisters on disconnect.
func (c *client) readPump() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			select {
			case c.hub.unregister <- c:
			case <-c.hub.done:
			}
			return
		}
	}
}
