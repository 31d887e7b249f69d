// Package realtime pushes broadcaster messages to WebSocket sessions.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"taskpulse/internal/events"
	"taskpulse/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	sendBufferSize = 64
)

// Subscriber identifies who is behind a session.
type Subscriber struct {
	UserID     string
	Privileged bool
}

// Envelope is the frame written to clients.
type Envelope struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

// Hub is an events.Sink. Each session receives the "all" channel, its own
// user channel and, for privileged users, the privileged channel.
type Hub struct {
	// Authenticate resolves the subscriber before the upgrade. An error rejects
	// the request with 401.
	Authenticate func(r *http.Request) (Subscriber, error)

	upgrader websocket.Upgrader
	log      *logrus.Entry

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	hub      *Hub
	conn     *websocket.Conn
	sub      Subscriber
	channels mapset.Set[string]
	send     chan []byte
	once     sync.Once
}

func NewHub(log *logrus.Entry, authenticate func(r *http.Request) (Subscriber, error)) *Hub {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		Authenticate: authenticate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log.WithField("component", "realtime"),
		clients: map[*client]struct{}{},
	}
}

func (h *Hub) Name() string { return "websocket" }

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Authenticate == nil {
		http.Error(w, "realtime authentication not configured", http.StatusUnauthorized)
		return
	}
	sub, err := h.Authenticate(r)
	if err != nil || sub.UserID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("upgrade failed")
		return
	}
	c := &client{
		hub:      h,
		conn:     conn,
		sub:      sub,
		channels: mapset.NewSet(events.ChannelAll, events.UserChannel(sub.UserID)),
		send:     make(chan []byte, sendBufferSize),
	}
	if sub.Privileged {
		c.channels.Add(events.ChannelPrivileged)
	}
	h.register(c)
	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeClients.Inc()
	h.log.WithField("user_id", c.sub.UserID).Debug("client connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		metrics.RealtimeClients.Dec()
		h.log.WithField("user_id", c.sub.UserID).Debug("client disconnected")
	}
}

// Clients reports the number of connected sessions.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Deliver writes msg to every session subscribed to its channel. A session
// whose buffer is full is disconnected; it refetches on reconnect.
func (h *Hub) Deliver(_ context.Context, msg events.Message) error {
	data, err := json.Marshal(Envelope{Event: msg.Event, Channel: msg.Channel, Payload: msg.Payload})
	if err != nil {
		return err
	}
	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if !c.channels.Contains(msg.Channel) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.log.WithField("user_id", c.sub.UserID).Warn("client too slow, disconnecting")
		c.close()
	}
	return nil
}

// Close disconnects every session.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}

func (c *client) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.send)
	})
}

func (c *client) readPump() {
	defer func() {
		c.close()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
