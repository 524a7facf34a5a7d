package ledgers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/xrpldash/xrpldash/internal/app/domain/ledger"
	"github.com/xrpldash/xrpldash/internal/app/domain/subscriber"
	"github.com/xrpldash/xrpldash/internal/app/hub"
	"github.com/xrpldash/xrpldash/internal/app/services/prices"
	"github.com/xrpldash/xrpldash/internal/app/sessions"
	"github.com/xrpldash/xrpldash/internal/app/storage/memory"
	"github.com/xrpldash/xrpldash/internal/xrpl"
)

const testOracle = "rXUMMaPpZqPutoRszR29jtC8amWq3APkx"

type fakeConn struct {
	response string
	err      error
	requests []map[string]any
}

func (c *fakeConn) Request(ctx context.Context, params map[string]any) (gjson.Result, error) {
	c.requests = append(c.requests, params)
	if c.err != nil {
		return gjson.Result{}, c.err
	}
	return gjson.Parse(c.response), nil
}

func (c *fakeConn) Close() error { return nil }

type fakeConns struct {
	conn *fakeConn
}

func (f *fakeConns) Conn() xrpl.Conn {
	if f.conn == nil {
		return nil
	}
	return f.conn
}

type capture struct {
	broadcasts []hub.Event
	sends      map[string][]hub.Event
}

func newCapture() *capture {
	return &capture{sends: make(map[string][]hub.Event)}
}

func (c *capture) Broadcast(e hub.Event) {
	c.broadcasts = append(c.broadcasts, e)
}

func (c *capture) Send(id string, e hub.Event) {
	c.sends[id] = append(c.sends[id], e)
}

func (c *capture) lastBroadcast(kind string) (hub.Event, bool) {
	for i := len(c.broadcasts) - 1; i >= 0; i-- {
		if c.broadcasts[i].Kind == kind {
			return c.broadcasts[i], true
		}
	}
	return hub.Event{}, false
}

type recordedFunnel struct {
	values  []float64
	ledgers []uint32
}

func (f *recordedFunnel) EmitPriceUpdate(ctx context.Context, value float64, ledgerIndex uint32) {
	f.values = append(f.values, value)
	f.ledgers = append(f.ledgers, ledgerIndex)
}

func newTestPipeline(conn *fakeConn) (*Pipeline, *memory.Store, *sessions.Registry, *capture, *recordedFunnel) {
	store := memory.New()
	registry := sessions.NewRegistry()
	emitter := newCapture()
	funnel := &recordedFunnel{}
	extractor := prices.NewExtractor(testOracle, "USD")
	p := New(&fakeConns{conn: conn}, store, extractor, funnel, registry, emitter, nil)
	return p, store, registry, emitter, funnel
}

const ledgerResponse = `{
	"ledger": {
		"transactions": [
			{"tx_json": {"TransactionType": "Payment", "Account": "rAlice",
				"Destination": "rBob", "Amount": "5000000", "Fee": "12"}},
			{"tx_json": {"TransactionType": "Payment", "Account": "rCarol",
				"Destination": "rDave",
				"Amount": {"currency": "USD", "issuer": "rIssuer", "value": "100"},
				"Fee": "10"}},
			{"tx_json": {"TransactionType": "OfferCreate", "Account": "rTrader",
				"TakerPays": "1000000",
				"TakerGets": {"currency": "USD", "issuer": "rIssuer", "value": "2"},
				"Fee": "15", "date": 790000000}}
		]
	}
}`

func closedEvent() gjson.Result {
	return gjson.Parse(`{"type": "ledgerClosed", "ledger_index": 92000000}`)
}

func TestHandleLedgerClosedStats(t *testing.T) {
	conn := &fakeConn{response: ledgerResponse}
	p, _, _, emitter, _ := newTestPipeline(conn)

	p.HandleLedgerClosed(context.Background(), closedEvent())

	e, ok := emitter.lastBroadcast("ledgerInfo")
	if !ok {
		t.Fatalf("no ledgerInfo broadcast")
	}
	stats, ok := e.Payload.(ledger.Stats)
	if !ok {
		t.Fatalf("payload type %T", e.Payload)
	}
	if stats.Ledger != 92000000 {
		t.Fatalf("ledger = %d", stats.Ledger)
	}
	if stats.TxCount != 3 {
		t.Fatalf("txCount = %d, want 3", stats.TxCount)
	}
	if stats.XRPPayments != 1 {
		t.Fatalf("xrpPayments = %d, want 1 (issued-currency payment excluded)", stats.XRPPayments)
	}
	if stats.TotalXRP != 5.0 {
		t.Fatalf("totalXRP = %v, want 5.0", stats.TotalXRP)
	}
	if want := (12.0 + 10.0 + 15.0) / 1e6; stats.TotalBurned != want {
		t.Fatalf("totalBurned = %v, want %v", stats.TotalBurned, want)
	}
}

func TestHandleLedgerClosedFundsPriceFunnel(t *testing.T) {
	conn := &fakeConn{response: ledgerResponse}
	p, _, _, _, funnel := newTestPipeline(conn)

	p.HandleLedgerClosed(context.Background(), closedEvent())

	if len(funnel.values) != 1 {
		t.Fatalf("funnel observations = %d, want 1", len(funnel.values))
	}
	if funnel.values[0] != 2.0 {
		t.Fatalf("funnel price = %v, want 2.0", funnel.values[0])
	}
	if funnel.ledgers[0] != 92000000 {
		t.Fatalf("funnel ledger = %d, want event index fallback", funnel.ledgers[0])
	}
}

func TestHandleLedgerClosedFetchFailureStillBroadcasts(t *testing.T) {
	conn := &fakeConn{err: errors.New("noNetwork")}
	p, _, _, emitter, _ := newTestPipeline(conn)

	p.HandleLedgerClosed(context.Background(), closedEvent())

	e, ok := emitter.lastBroadcast("ledgerInfo")
	if !ok {
		t.Fatalf("ledgerInfo must go out even when the fetch fails")
	}
	stats := e.Payload.(ledger.Stats)
	if stats.Ledger != 92000000 || stats.TxCount != 0 {
		t.Fatalf("stats = %+v, want zeroed with ledger index", stats)
	}

	if _, _, ok := p.Snapshot(); ok {
		t.Fatalf("failed fetch must not install a snapshot")
	}
}

func TestHandleLedgerClosedNoConnection(t *testing.T) {
	p, _, _, emitter, _ := newTestPipeline(nil)

	p.HandleLedgerClosed(context.Background(), closedEvent())

	if _, ok := emitter.lastBroadcast("ledgerInfo"); !ok {
		t.Fatalf("ledgerInfo must go out without a connection")
	}
}

func TestLedgerInfoCarriesLatestPrice(t *testing.T) {
	conn := &fakeConn{response: `{"ledger": {"transactions": []}}`}
	p, store, _, emitter, _ := newTestPipeline(conn)

	if _, err := store.InsertPrice(context.Background(), 2.42, time.Now(), 91999999); err != nil {
		t.Fatalf("insert: %v", err)
	}

	p.HandleLedgerClosed(context.Background(), closedEvent())

	e, _ := emitter.lastBroadcast("ledgerInfo")
	stats := e.Payload.(ledger.Stats)
	if stats.LatestPrice == nil || *stats.LatestPrice != 2.42 {
		t.Fatalf("latestPrice = %v, want 2.42", stats.LatestPrice)
	}
}

func TestWalletActivityTargetsWatchers(t *testing.T) {
	conn := &fakeConn{response: ledgerResponse}
	p, _, registry, emitter, _ := newTestPipeline(conn)

	watcher := registry.Attach()
	watcher.SetAddresses([]string{"rBob"})
	bystander := registry.Attach()
	bystander.SetAddresses([]string{"rNobody"})

	p.HandleLedgerClosed(context.Background(), closedEvent())

	events := emitter.sends[watcher.ID]
	if len(events) != 1 {
		t.Fatalf("watcher events = %d, want 1", len(events))
	}
	activity := events[0].Payload.(ledger.Activity)
	if activity.Account != "rAlice" || activity.Destination != "rBob" {
		t.Fatalf("activity = %+v", activity)
	}

	if len(emitter.sends[bystander.ID]) != 0 {
		t.Fatalf("bystander received %d events", len(emitter.sends[bystander.ID]))
	}
}

func TestWalletActivityHonorsThreshold(t *testing.T) {
	conn := &fakeConn{response: ledgerResponse}
	p, _, registry, emitter, _ := newTestPipeline(conn)

	sub := registry.Attach()
	// The only matching payment moves 5 XRP; threshold above that mutes it.
	sub.StartTracking(subscriber.TrackingRequest{
		Addresses:    []string{"rBob"},
		MinThreshold: 10,
	})

	p.HandleLedgerClosed(context.Background(), closedEvent())

	if len(emitter.sends[sub.ID]) != 0 {
		t.Fatalf("below-threshold activity delivered: %v", emitter.sends[sub.ID])
	}
}

func TestWalletActivityHonorsStartLedger(t *testing.T) {
	conn := &fakeConn{response: ledgerResponse}
	p, _, registry, emitter, _ := newTestPipeline(conn)

	sub := registry.Attach()
	start := uint32(92000001)
	sub.StartTracking(subscriber.TrackingRequest{
		Addresses:   []string{"rBob"},
		StartLedger: &start,
	})

	p.HandleLedgerClosed(context.Background(), closedEvent())

	if len(emitter.sends[sub.ID]) != 0 {
		t.Fatalf("activity before start ledger delivered")
	}
}

func TestPanelMatches(t *testing.T) {
	conn := &fakeConn{response: ledgerResponse}
	p, _, registry, emitter, _ := newTestPipeline(conn)

	sub := registry.Attach()
	sub.SetPanels([]subscriber.Panel{
		{ID: "p1", Currency: "XRP", Limit: 1},
		{ID: "p2", Currency: "USD", Issuer: "rIssuer", Limit: 50},
		{ID: "p3", Currency: "USD", Issuer: "rOther", Limit: 0},
	})

	p.HandleLedgerClosed(context.Background(), closedEvent())

	events := emitter.sends[sub.ID]
	byPanel := make(map[string][]ledger.PanelMatch)
	for _, e := range events {
		if e.Kind != hub.KindPanelTransaction {
			continue
		}
		byPanel[e.PanelID] = append(byPanel[e.PanelID], e.Payload.(ledger.PanelMatch))
	}

	if len(byPanel["p1"]) != 1 {
		t.Fatalf("p1 matches = %d, want 1", len(byPanel["p1"]))
	}
	if m := byPanel["p1"][0]; m.Amount != 5.0 || m.Sender != "rAlice" {
		t.Fatalf("p1 match = %+v", m)
	}
	if len(byPanel["p2"]) != 1 {
		t.Fatalf("p2 matches = %d, want 1", len(byPanel["p2"]))
	}
	if m := byPanel["p2"][0]; m.Amount != 100.0 || m.Receiver != "rDave" {
		t.Fatalf("p2 match = %+v", m)
	}
	if len(byPanel["p3"]) != 0 {
		t.Fatalf("p3 matched despite issuer mismatch")
	}
}

func TestPanelMatchWireName(t *testing.T) {
	e := hub.Event{Kind: hub.KindPanelTransaction, PanelID: "abc"}
	if got := e.WireName(); got != "panelTransaction:abc" {
		t.Fatalf("wire name = %q", got)
	}
}

func TestSnapshotInstalled(t *testing.T) {
	conn := &fakeConn{response: ledgerResponse}
	p, _, _, _, _ := newTestPipeline(conn)

	p.HandleLedgerClosed(context.Background(), closedEvent())

	index, txs, ok := p.Snapshot()
	if !ok {
		t.Fatalf("snapshot missing after successful fetch")
	}
	if index != 92000000 {
		t.Fatalf("snapshot ledger = %d", index)
	}
	if len(txs) != 3 {
		t.Fatalf("snapshot txs = %d, want 3", len(txs))
	}
}

func TestHandleTransactionFunnelsOracleQuote(t *testing.T) {
	p, _, _, _, funnel := newTestPipeline(nil)

	msg := gjson.Parse(`{
		"tx_json": {
			"TransactionType": "TrustSet",
			"Account": "` + testOracle + `",
			"LimitAmount": {"currency": "USD", "value": "2.33"}
		},
		"ledger_index": 92000003
	}`)
	p.HandleTransaction(context.Background(), msg)

	if len(funnel.values) != 1 || funnel.values[0] != 2.33 {
		t.Fatalf("funnel = %v", funnel.values)
	}

	p.HandleTransaction(context.Background(), gjson.Parse(`{
		"tx": {"TransactionType": "Payment", "Account": "rAlice", "Amount": "1"}
	}`))
	if len(funnel.values) != 1 {
		t.Fatalf("non-oracle transaction reached the funnel")
	}
}
