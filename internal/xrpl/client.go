package xrpl

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/xrpldash/xrpldash/internal/app/metrics"
)

// Client is a websocket session to a single XRPL endpoint. Requests are
// correlated to responses by id; push messages are dispatched to Events
// from a dedicated goroutine so handlers may issue requests without
// starving the read loop.
type Client struct {
	conn   *websocket.Conn
	events Events
	push   chan gjson.Result

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan gjson.Result
	nextID  int64
	closed  bool
}

var _ Conn = (*Client)(nil)

// Dial opens a session to the endpoint and starts its read loop.
func Dial(ctx context.Context, endpoint string, events Events) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	// The rich-list fallback endpoint serves a self-signed certificate.
	if strings.Contains(endpoint, "rich-list") {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	wsConn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", endpoint, err)
	}

	c := &Client{
		conn:    wsConn,
		events:  events,
		push:    make(chan gjson.Result, 128),
		pending: make(map[int64]chan gjson.Result),
	}
	go c.dispatchLoop()
	go c.readLoop()
	return c, nil
}

// Request sends a command and waits for the matching response.
func (c *Client) Request(ctx context.Context, params map[string]any) (gjson.Result, error) {
	command, _ := params["command"].(string)
	start := time.Now()
	defer func() {
		metrics.UpstreamRequestDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
	}()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return gjson.Result{}, fmt.Errorf("xrpl: connection closed")
	}
	c.nextID++
	id := c.nextID
	reply := make(chan gjson.Result, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	msg := make(map[string]any, len(params)+1)
	for k, v := range params {
		msg[k] = v
	}
	msg["id"] = id

	payload, err := json.Marshal(msg)
	if err != nil {
		c.dropPending(id)
		return gjson.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(id)
		return gjson.Result{}, fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.dropPending(id)
		return gjson.Result{}, ctx.Err()
	case resp, ok := <-reply:
		if !ok {
			return gjson.Result{}, fmt.Errorf("xrpl: connection closed")
		}
		if resp.Get("status").String() == "error" || resp.Get("error").Exists() {
			return gjson.Result{}, &RequestError{
				Code:    resp.Get("error").String(),
				Message: resp.Get("error_message").String(),
			}
		}
		return resp.Get("result"), nil
	}
}

// Close tears the session down. Pending requests fail; the Disconnected
// callback does not fire for a local close.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) dropPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop only correlates responses and enqueues push events. Handlers
// run on the dispatch goroutine, so a handler issuing a request still has
// its response read here.
func (c *Client) readLoop() {
	defer close(c.push)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			c.closed = true
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.mu.Unlock()

			if !wasClosed && c.events.Disconnected != nil {
				c.events.Disconnected(err)
			}
			return
		}

		msg := gjson.ParseBytes(data)
		if id := msg.Get("id"); id.Exists() {
			c.mu.Lock()
			reply, ok := c.pending[id.Int()]
			if ok {
				delete(c.pending, id.Int())
			}
			c.mu.Unlock()
			if ok {
				reply <- msg
			}
			continue
		}

		switch msg.Get("type").String() {
		case "ledgerClosed", "transaction":
			c.push <- msg
		}
	}
}

// dispatchLoop delivers push events to the handlers in arrival order.
func (c *Client) dispatchLoop() {
	for msg := range c.push {
		switch msg.Get("type").String() {
		case "ledgerClosed":
			if c.events.LedgerClosed != nil {
				c.events.LedgerClosed(msg)
			}
		case "transaction":
			if c.events.Transaction != nil {
				c.events.Transaction(msg)
			}
		}
	}
}
