// Package hub fans events out to attached browser clients over websockets.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/xrpldash/xrpldash/internal/app/metrics"
	"github.com/xrpldash/xrpldash/internal/app/sessions"
	"github.com/xrpldash/xrpldash/pkg/logger"
)

// Event is the typed outbound envelope. Panel-scoped events carry the
// owning panel id and serialize as "panelTransaction:<id>" on the wire for
// client compatibility; dispatch inside the server is by Kind.
type Event struct {
	Kind    string
	PanelID string
	Payload any
}

// KindPanelTransaction is the panel-scoped event kind.
const KindPanelTransaction = "panelTransaction"

// WireName renders the event name sent to clients.
func (e Event) WireName() string {
	if e.Kind == KindPanelTransaction && e.PanelID != "" {
		return e.Kind + ":" + e.PanelID
	}
	return e.Kind
}

// MessageHandler routes one inbound client request.
type MessageHandler interface {
	HandleMessage(ctx context.Context, sub *sessions.Subscriber, event string, data gjson.Result)
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type client struct {
	sub  *sessions.Subscriber
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub upgrades client connections, owns their lifecycle in the session
// registry, and delivers broadcast and per-subscriber events.
type Hub struct {
	registry *sessions.Registry
	handler  MessageHandler
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

// New creates a hub over the given registry.
func New(registry *sessions.Registry, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("hub")
	}
	return &Hub{
		registry: registry,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// SetHandler wires the inbound request router. Must be called before the
// hub serves connections.
func (h *Hub) SetHandler(handler MessageHandler) {
	h.handler = handler
}

// ServeHTTP upgrades the connection and attaches a subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sub := h.registry.Attach()
	c := &client{sub: sub, conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	h.clients[sub.ID] = c
	h.mu.Unlock()
	metrics.ConnectedClients.Set(float64(h.registry.Count()))

	h.log.WithField("subscriber", sub.ID).Info("client attached")

	go h.writePump(c)
	// The request context is cancelled once ServeHTTP returns, even for a
	// hijacked connection, so the read pump runs under its own context.
	go h.readPump(context.Background(), c)
}

// Broadcast delivers an event to every attached client.
func (h *Hub) Broadcast(e Event) {
	data, err := encode(e)
	if err != nil {
		h.log.WithError(err).WithField("event", e.Kind).Warn("encode broadcast failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.deliver(c, data, e.Kind)
	}
}

// Send delivers an event to a single subscriber, if still attached.
func (h *Hub) Send(subscriberID string, e Event) {
	data, err := encode(e)
	if err != nil {
		h.log.WithError(err).WithField("event", e.Kind).Warn("encode event failed")
		return
	}

	h.mu.RLock()
	c, ok := h.clients[subscriberID]
	h.mu.RUnlock()
	if ok {
		h.deliver(c, data, e.Kind)
	}
}

// deliver enqueues without blocking the event path; a slow client drops
// frames rather than stalling the pipeline.
func (h *Hub) deliver(c *client, data []byte, kind string) {
	select {
	case c.send <- data:
	default:
		h.log.WithField("subscriber", c.sub.ID).WithField("event", kind).Debug("dropping frame for slow client")
	}
}

func encode(e Event) ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Event: e.WireName(), Data: payload})
}

func (h *Hub) writePump(c *client) {
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
	_ = c.conn.Close()
}

func (h *Hub) readPump(ctx context.Context, c *client) {
	defer h.detach(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		msg := gjson.ParseBytes(data)
		event := msg.Get("event").String()
		if event == "" || h.handler == nil {
			continue
		}
		h.handler.HandleMessage(ctx, c.sub, event, msg.Get("data"))
	}
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	delete(h.clients, c.sub.ID)
	h.mu.Unlock()

	h.registry.Detach(c.sub.ID)
	metrics.ConnectedClients.Set(float64(h.registry.Count()))
	c.close()
	h.log.WithField("subscriber", c.sub.ID).Info("client detached")
}
