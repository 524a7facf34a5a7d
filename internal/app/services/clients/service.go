// Package clients routes inbound subscriber requests from the websocket
// hub to the pipeline, store and session registry.
package clients

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/xrpldash/xrpldash/internal/app/domain/ledger"
	"github.com/xrpldash/xrpldash/internal/app/domain/subscriber"
	"github.com/xrpldash/xrpldash/internal/app/hub"
	"github.com/xrpldash/xrpldash/internal/app/services/ledgers"
	"github.com/xrpldash/xrpldash/internal/app/sessions"
	"github.com/xrpldash/xrpldash/internal/app/storage"
	"github.com/xrpldash/xrpldash/internal/xrpl"
	"github.com/xrpldash/xrpldash/pkg/logger"
)

const dropsPerXRP = 1_000_000

// Sender delivers an event to a single subscriber.
type Sender interface {
	Send(subscriberID string, e hub.Event)
}

// ConnProvider yields the current live upstream session.
type ConnProvider interface {
	Conn() xrpl.Conn
}

// SnapshotProvider serves the current ledger's transaction list.
type SnapshotProvider interface {
	Snapshot() (uint32, []gjson.Result, bool)
}

// Service handles every inbound client request type.
type Service struct {
	store    storage.PriceStore
	conns    ConnProvider
	snapshot SnapshotProvider
	sender   Sender
	log      *logger.Logger
}

var _ hub.MessageHandler = (*Service)(nil)

// New constructs the client request service.
func New(store storage.PriceStore, conns ConnProvider, snapshot SnapshotProvider, sender Sender, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("clients")
	}
	return &Service{
		store:    store,
		conns:    conns,
		snapshot: snapshot,
		sender:   sender,
		log:      log,
	}
}

// HandleMessage dispatches one inbound request. Unknown events are
// ignored.
func (s *Service) HandleMessage(ctx context.Context, sub *sessions.Subscriber, event string, data gjson.Result) {
	switch event {
	case "setWatchedAddresses":
		s.setWatchedAddresses(ctx, sub, data)
	case "updateWalletData":
		s.updateWalletData(sub, data)
	case "trackWalletActivity":
		s.trackWalletActivity(sub, data)
	case "exportData":
		s.sender.Send(sub.ID, hub.Event{Kind: "exportDataResponse", Payload: sub.Profile()})
	case "importData":
		s.importData(sub, data)
	case "updatePanels":
		s.updatePanels(sub, data)
	case "getLatestPrice":
		s.getLatestPrice(ctx, sub)
	case "getGraphData":
		s.getGraphData(ctx, sub, data)
	case "requestLedgerInspection":
		s.requestLedgerInspection(sub)
	case "getCurrentLedgerTransactions":
		s.currentLedgerTransactions(sub)
	default:
		s.log.WithField("event", event).Debug("ignoring unknown client event")
	}
}

// setWatchedAddresses replaces the watched set and reports a balance per
// address. Invalid addresses are marked per item, never failing the batch.
func (s *Service) setWatchedAddresses(ctx context.Context, sub *sessions.Subscriber, data gjson.Result) {
	var addresses []string
	for _, entry := range data.Array() {
		addresses = append(addresses, entry.String())
	}
	sub.SetAddresses(addresses)

	latest, hasLatest, err := s.store.LatestPrice(ctx)
	if err != nil {
		s.log.WithError(err).Warn("latest price lookup failed")
		hasLatest = false
	}

	conn := s.conns.Conn()
	balances := make([]subscriber.Balance, 0, len(addresses))
	for _, addr := range addresses {
		balances = append(balances, s.lookupBalance(ctx, conn, addr, latest, hasLatest))
	}
	s.sender.Send(sub.ID, hub.Event{Kind: "balances", Payload: balances})
}

func (s *Service) lookupBalance(ctx context.Context, conn xrpl.Conn, addr string, latest float64, hasLatest bool) subscriber.Balance {
	invalid := subscriber.Balance{Address: addr, Balance: "Invalid", Sequence: nil, USDValue: "N/A"}
	if conn == nil {
		return invalid
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := conn.Request(reqCtx, map[string]any{
		"command": "account_info",
		"account": addr,
	})
	if err != nil {
		return invalid
	}

	drops, err := strconv.ParseFloat(result.Get("account_data.Balance").String(), 64)
	if err != nil {
		return invalid
	}
	balance := drops / dropsPerXRP

	out := subscriber.Balance{
		Address:  addr,
		Balance:  balance,
		Sequence: result.Get("account_data.Sequence").Int(),
		USDValue: "N/A",
	}
	if hasLatest {
		out.USDValue = balance * latest
	}
	return out
}

func (s *Service) updateWalletData(sub *sessions.Subscriber, data gjson.Result) {
	var profile subscriber.Profile
	if err := json.Unmarshal([]byte(data.Raw), &profile); err != nil {
		s.log.WithError(err).Warn("malformed wallet data")
		return
	}
	sub.SetProfile(profile)
}

func (s *Service) trackWalletActivity(sub *sessions.Subscriber, data gjson.Result) {
	var req subscriber.TrackingRequest
	if err := json.Unmarshal([]byte(data.Raw), &req); err != nil {
		s.log.WithError(err).Warn("malformed tracking request")
		return
	}
	sub.StartTracking(req)

	s.sender.Send(sub.ID, hub.Event{Kind: "walletTrackingStarted", Payload: map[string]any{
		"message":   "Tracking wallet activities for " + strconv.Itoa(len(req.Addresses)) + " addresses",
		"addresses": req.Addresses,
	}})
}

func (s *Service) importData(sub *sessions.Subscriber, data gjson.Result) {
	var profile subscriber.Profile
	if err := json.Unmarshal([]byte(data.Raw), &profile); err != nil {
		s.log.WithError(err).Warn("malformed import payload")
		return
	}
	if len(profile.Addresses) == 0 {
		return
	}
	sub.SetProfile(profile)
	s.sender.Send(sub.ID, hub.Event{Kind: "walletData", Payload: sub.Profile()})
}

func (s *Service) updatePanels(sub *sessions.Subscriber, data gjson.Result) {
	var panels []subscriber.Panel
	if err := json.Unmarshal([]byte(data.Raw), &panels); err != nil {
		s.log.WithError(err).Warn("malformed panels payload")
		return
	}
	for i := range panels {
		if panels[i].ID == "" {
			panels[i].ID = uuid.NewString()
		}
	}
	sub.SetPanels(panels)
}

func (s *Service) getLatestPrice(ctx context.Context, sub *sessions.Subscriber) {
	latest, ok, err := s.store.LatestPrice(ctx)
	if err != nil {
		s.log.WithError(err).Warn("latest price lookup failed")
		return
	}
	// An empty store still answers, with a null price.
	var payload any
	if ok {
		payload = latest
	}
	s.sender.Send(sub.ID, hub.Event{Kind: "latestPrice", Payload: payload})
}

func (s *Service) getGraphData(ctx context.Context, sub *sessions.Subscriber, data gjson.Result) {
	period := data.Get("period").String()
	interval := data.Get("interval").String()

	graph, err := s.store.GraphData(ctx, period, interval)
	if err != nil {
		s.log.WithError(err).Warn("graph data query failed")
		return
	}
	s.sender.Send(sub.ID, hub.Event{Kind: "graphData", Payload: graph})
}

func (s *Service) requestLedgerInspection(sub *sessions.Subscriber) {
	_, txs, ok := s.snapshot.Snapshot()
	if !ok {
		s.sender.Send(sub.ID, hub.Event{Kind: "inspectLedgerResponse", Payload: map[string]any{
			"transactions": []ledger.TxSummary{},
			"message":      "No ledger data available yet. Please try again shortly.",
		}})
		return
	}

	summaries := make([]ledger.TxSummary, 0, len(txs))
	for _, tx := range txs {
		summaries = append(summaries, ledgers.Summarize(tx))
	}
	s.sender.Send(sub.ID, hub.Event{Kind: "inspectLedgerResponse", Payload: map[string]any{
		"transactions": summaries,
	}})
}

func (s *Service) currentLedgerTransactions(sub *sessions.Subscriber) {
	_, txs, ok := s.snapshot.Snapshot()
	summaries := make([]ledger.TxSummary, 0, len(txs))
	if ok {
		for _, tx := range txs {
			summaries = append(summaries, ledgers.Summarize(tx))
		}
	}
	s.sender.Send(sub.ID, hub.Event{Kind: "currentLedgerTransactions", Payload: summaries})
}
