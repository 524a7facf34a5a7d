package xrpl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// echoServer answers every request immediately and pushes the given
// messages once the first request has been seen.
func echoServer(t *testing.T, pushes []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		pushed := false
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			id := gjson.GetBytes(data, "id").Int()
			resp := fmt.Sprintf(`{"id":%d,"status":"success","result":{"ledger":{"transactions":[]}}}`, id)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(resp)); err != nil {
				return
			}
			if !pushed {
				pushed = true
				for _, push := range pushes {
					if err := conn.WriteMessage(websocket.TextMessage, []byte(push)); err != nil {
						return
					}
				}
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRequestFromLedgerClosedCallback(t *testing.T) {
	srv := echoServer(t, []string{`{"type":"ledgerClosed","ledger_index":92000000}`})
	defer srv.Close()

	connCh := make(chan Conn, 1)
	done := make(chan error, 1)
	events := Events{
		LedgerClosed: func(msg gjson.Result) {
			conn := <-connCh
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := conn.Request(ctx, map[string]any{
				"command":      "ledger",
				"ledger_index": msg.Get("ledger_index").Uint(),
				"transactions": true,
				"expand":       true,
			})
			done <- err
		},
	}

	conn, err := Dial(context.Background(), wsURL(srv), events)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	connCh <- conn

	// The push only arrives after a first request has been answered.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := conn.Request(ctx, map[string]any{"command": "subscribe"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ledger fetch from ledgerClosed callback failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("ledgerClosed handler never completed")
	}
}

func TestPushEventsKeepArrivalOrder(t *testing.T) {
	srv := echoServer(t, []string{
		`{"type":"ledgerClosed","ledger_index":1}`,
		`{"type":"transaction","ledger_index":1}`,
		`{"type":"ledgerClosed","ledger_index":2}`,
	})
	defer srv.Close()

	order := make(chan string, 3)
	events := Events{
		LedgerClosed: func(msg gjson.Result) {
			order <- fmt.Sprintf("ledger:%d", msg.Get("ledger_index").Int())
		},
		Transaction: func(msg gjson.Result) {
			order <- fmt.Sprintf("tx:%d", msg.Get("ledger_index").Int())
		},
	}

	conn, err := Dial(context.Background(), wsURL(srv), events)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := conn.Request(ctx, map[string]any{"command": "subscribe"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	want := []string{"ledger:1", "tx:1", "ledger:2"}
	for _, expected := range want {
		select {
		case got := <-order:
			if got != expected {
				t.Fatalf("event order: got %q, want %q", got, expected)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", expected)
		}
	}
}

func TestRequestErrorResponse(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			id := gjson.GetBytes(data, "id").Int()
			resp := fmt.Sprintf(`{"id":%d,"status":"error","error":"tooBusy","error_message":"The server is too busy."}`, id)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(resp)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn, err := Dial(context.Background(), wsURL(srv), Events{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = conn.Request(ctx, map[string]any{"command": "account_tx"})
	if !IsTooBusy(err) {
		t.Fatalf("err = %v, want tooBusy request error", err)
	}
}
