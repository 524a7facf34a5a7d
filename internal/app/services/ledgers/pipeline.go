// Package ledgers processes closed-ledger events into statistics, wallet
// activity and panel matches.
package ledgers

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/xrpldash/xrpldash/internal/app/domain/ledger"
	"github.com/xrpldash/xrpldash/internal/app/hub"
	"github.com/xrpldash/xrpldash/internal/app/metrics"
	"github.com/xrpldash/xrpldash/internal/app/sessions"
	"github.com/xrpldash/xrpldash/internal/app/services/prices"
	"github.com/xrpldash/xrpldash/internal/app/storage"
	"github.com/xrpldash/xrpldash/internal/xrpl"
	"github.com/xrpldash/xrpldash/pkg/logger"
)

const dropsPerXRP = 1_000_000

// Emitter delivers events to attached clients, broadcast or targeted.
type Emitter interface {
	Broadcast(e hub.Event)
	Send(subscriberID string, e hub.Event)
}

// ConnProvider yields the current live upstream session.
type ConnProvider interface {
	Conn() xrpl.Conn
}

// PriceFunnel is the single entry point for live price observations.
type PriceFunnel interface {
	EmitPriceUpdate(ctx context.Context, value float64, ledgerIndex uint32)
}

// Pipeline reacts to ledgerClosed events: it fetches the ledger's
// transactions, refreshes the inspection snapshot, derives prices, and
// emits activity, panel and statistics events.
type Pipeline struct {
	conns     ConnProvider
	store     storage.PriceStore
	extractor *prices.Extractor
	funnel    PriceFunnel
	registry  *sessions.Registry
	emitter   Emitter
	log       *logger.Logger

	mu             sync.RWMutex
	snapshot       []gjson.Result
	snapshotLedger uint32
}

// New constructs the ledger processing pipeline.
func New(conns ConnProvider, store storage.PriceStore, extractor *prices.Extractor, funnel PriceFunnel, registry *sessions.Registry, emitter Emitter, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewDefault("ledgers")
	}
	return &Pipeline{
		conns:     conns,
		store:     store,
		extractor: extractor,
		funnel:    funnel,
		registry:  registry,
		emitter:   emitter,
		log:       log,
	}
}

// HandleLedgerClosed processes one closed-ledger event end to end. The
// statistics broadcast always goes out, with zero values when the
// transaction fetch fails.
func (p *Pipeline) HandleLedgerClosed(ctx context.Context, msg gjson.Result) {
	index := uint32(msg.Get("ledger_index").Uint())
	stats := ledger.Stats{Ledger: index}

	txs, err := p.fetchTransactions(ctx, index)
	if err != nil {
		metrics.LedgerFetchFailures.Inc()
		p.log.WithError(err).WithField("ledger", index).Warn("ledger fetch failed")
	} else {
		p.setSnapshot(index, txs)

		for _, tx := range txs {
			if obs, ok := p.extractor.Extract(tx); ok {
				obsLedger := obs.Ledger
				if obsLedger == 0 {
					obsLedger = index
				}
				p.funnel.EmitPriceUpdate(ctx, obs.Price, obsLedger)
			}
		}

		stats = computeStats(index, txs)
		p.emitWalletActivity(index, txs)
		p.emitPanelMatches(index, txs)
	}

	if latest, ok, err := p.store.LatestPrice(ctx); err != nil {
		p.log.WithError(err).Warn("latest price lookup failed")
	} else if ok {
		stats.LatestPrice = &latest
	}

	p.emitter.Broadcast(hub.Event{Kind: "ledgerInfo", Payload: stats})
	metrics.LedgersProcessed.Inc()
}

// HandleTransaction funnels a live stream transaction into the price
// broadcast path when it carries an oracle quote.
func (p *Pipeline) HandleTransaction(ctx context.Context, msg gjson.Result) {
	if value, ledgerIndex, ok := p.extractor.LiveQuote(msg); ok {
		p.funnel.EmitPriceUpdate(ctx, value, ledgerIndex)
	}
}

// Snapshot returns the current ledger's transaction list for inspection.
func (p *Pipeline) Snapshot() (uint32, []gjson.Result, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snapshot == nil {
		return 0, nil, false
	}
	return p.snapshotLedger, p.snapshot, true
}

// setSnapshot replaces the snapshot wholesale. A stale fetch racing a
// newer one simply loses; the snapshot is look-aside data.
func (p *Pipeline) setSnapshot(index uint32, txs []gjson.Result) {
	p.mu.Lock()
	p.snapshot = txs
	p.snapshotLedger = index
	p.mu.Unlock()
}

func (p *Pipeline) fetchTransactions(ctx context.Context, index uint32) ([]gjson.Result, error) {
	conn := p.conns.Conn()
	if conn == nil {
		return nil, fmt.Errorf("no live connection")
	}

	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	result, err := conn.Request(reqCtx, map[string]any{
		"command":      "ledger",
		"ledger_index": index,
		"transactions": true,
		"expand":       true,
	})
	if err != nil {
		return nil, err
	}
	return result.Get("ledger.transactions").Array(), nil
}

func computeStats(index uint32, txs []gjson.Result) ledger.Stats {
	stats := ledger.Stats{Ledger: index, TxCount: len(txs)}
	for _, tx := range txs {
		body := txBody(tx)

		if body.Get("TransactionType").String() == "Payment" {
			if amt := body.Get("Amount"); amt.Type == gjson.String {
				if drops, err := strconv.ParseFloat(amt.String(), 64); err == nil {
					stats.XRPPayments++
					stats.TotalXRP += drops / dropsPerXRP
				}
			}
		}
		if fee := body.Get("Fee"); fee.Exists() {
			if drops, err := strconv.ParseFloat(fee.String(), 64); err == nil {
				stats.TotalBurned += drops / dropsPerXRP
			}
		}
	}
	return stats
}

func (p *Pipeline) emitWalletActivity(index uint32, txs []gjson.Result) {
	p.registry.ForEach(func(sub *sessions.Subscriber) {
		minThreshold, startLedger := sub.Tracking()
		if startLedger != nil && index < *startLedger {
			return
		}

		for _, tx := range txs {
			body := txBody(tx)
			account := body.Get("Account").String()
			destination := body.Get("Destination").String()
			if !sub.Watches(account) && !sub.Watches(destination) {
				continue
			}
			if minThreshold > 0 {
				if xrpAmount, ok := paymentXRP(body); ok && xrpAmount < minThreshold {
					continue
				}
			}

			p.emitter.Send(sub.ID, hub.Event{Kind: "walletActivity", Payload: ledger.Activity{
				Ledger:      index,
				Account:     account,
				Destination: destination,
				Amount:      amountValue(body.Get("Amount")),
				Type:        body.Get("TransactionType").String(),
			}})
		}
	})
}

func (p *Pipeline) emitPanelMatches(index uint32, txs []gjson.Result) {
	p.registry.ForEach(func(sub *sessions.Subscriber) {
		panels := sub.Panels()
		if len(panels) == 0 {
			return
		}

		for _, panel := range panels {
			for _, tx := range txs {
				body := txBody(tx)
				amount, ok := deliveredAmount(tx, body, panel.Currency, panel.Issuer)
				if !ok || amount <= panel.Limit {
					continue
				}

				txLedger := index
				if v := body.Get("ledger_index"); v.Exists() {
					txLedger = uint32(v.Uint())
				}
				p.emitter.Send(sub.ID, hub.Event{
					Kind:    hub.KindPanelTransaction,
					PanelID: panel.ID,
					Payload: ledger.PanelMatch{
						Ledger:    txLedger,
						Sender:    body.Get("Account").String(),
						Receiver:  body.Get("Destination").String(),
						Amount:    amount,
						Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
					},
				})
			}
		}
	})
}

// deliveredAmount resolves the delivered amount of a transaction against a
// panel's currency/issuer, preferring metadata over the declared Amount.
func deliveredAmount(tx, body gjson.Result, currency, issuer string) (float64, bool) {
	delivered := tx.Get("meta.delivered_amount")
	if !delivered.Exists() {
		delivered = tx.Get("metaData.delivered_amount")
	}

	if currency == "XRP" {
		if body.Get("TransactionType").String() != "Payment" {
			return 0, false
		}
		if delivered.Type == gjson.String {
			if drops, err := strconv.ParseFloat(delivered.String(), 64); err == nil {
				return drops / dropsPerXRP, true
			}
		}
		// Fall back to the declared Amount when metadata is unusable.
		if xrp, ok := paymentXRP(body); ok {
			return xrp, true
		}
		return 0, false
	}

	candidate := delivered
	if !candidate.Exists() {
		candidate = body.Get("Amount")
	}
	if candidate.Type != gjson.JSON {
		return 0, false
	}
	if candidate.Get("currency").String() != currency {
		return 0, false
	}
	if issuer != "" && candidate.Get("issuer").String() != issuer {
		return 0, false
	}
	v, err := strconv.ParseFloat(candidate.Get("value").String(), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func paymentXRP(body gjson.Result) (float64, bool) {
	if body.Get("TransactionType").String() != "Payment" {
		return 0, false
	}
	amt := body.Get("Amount")
	if amt.Type != gjson.String {
		return 0, false
	}
	drops, err := strconv.ParseFloat(amt.String(), 64)
	if err != nil {
		return 0, false
	}
	return drops / dropsPerXRP, true
}

// amountValue renders a tx Amount for the walletActivity payload: XRP
// amounts as drops strings pass through, issued amounts as objects.
func amountValue(amt gjson.Result) any {
	switch amt.Type {
	case gjson.String:
		return amt.String()
	case gjson.JSON:
		return amt.Value()
	default:
		return nil
	}
}

func txBody(tx gjson.Result) gjson.Result {
	if body := tx.Get("tx_json"); body.Exists() {
		return body
	}
	if body := tx.Get("tx"); body.Exists() {
		return body
	}
	return tx
}
