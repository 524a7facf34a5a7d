package hub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/xrpldash/xrpldash/internal/app/sessions"
)

type handlerFunc func(ctx context.Context, sub *sessions.Subscriber, event string, data gjson.Result)

func (f handlerFunc) HandleMessage(ctx context.Context, sub *sessions.Subscriber, event string, data gjson.Result) {
	f(ctx, sub, event, data)
}

func TestWireName(t *testing.T) {
	cases := []struct {
		event Event
		want  string
	}{
		{Event{Kind: "priceUpdate"}, "priceUpdate"},
		{Event{Kind: KindPanelTransaction, PanelID: "p1"}, "panelTransaction:p1"},
		{Event{Kind: KindPanelTransaction}, "panelTransaction"},
		{Event{Kind: "ledgerInfo", PanelID: "ignored"}, "ledgerInfo"},
	}
	for _, tc := range cases {
		if got := tc.event.WireName(); got != tc.want {
			t.Fatalf("WireName(%+v) = %q, want %q", tc.event, got, tc.want)
		}
	}
}

func TestHandlerContextOutlivesUpgradeRequest(t *testing.T) {
	h := New(sessions.NewRegistry(), nil)

	ctxErrs := make(chan error, 1)
	h.SetHandler(handlerFunc(func(ctx context.Context, sub *sessions.Subscriber, event string, data gjson.Result) {
		ctxErrs <- ctx.Err()
	}))

	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give ServeHTTP time to return so the upgrade request's context is
	// already cancelled before the message arrives.
	time.Sleep(50 * time.Millisecond)

	msg := `{"event":"getLatestPrice","data":{}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case err := <-ctxErrs:
		if err != nil {
			t.Fatalf("handler context already cancelled: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never invoked")
	}
}

func TestEncodeFrame(t *testing.T) {
	data, err := encode(Event{Kind: "priceUpdate", Payload: 2.5})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var f struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if f.Event != "priceUpdate" {
		t.Fatalf("event = %q", f.Event)
	}
	if string(f.Data) != "2.5" {
		t.Fatalf("data = %s", f.Data)
	}
}

func TestEncodePanelFrame(t *testing.T) {
	data, err := encode(Event{Kind: KindPanelTransaction, PanelID: "p9", Payload: map[string]int{"ledger": 1}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var f struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if f.Event != "panelTransaction:p9" {
		t.Fatalf("event = %q", f.Event)
	}
}
