// Package prices derives, persists and broadcasts the price series.
package prices

import (
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/xrpldash/xrpldash/internal/app/domain/price"
)

// rippleEpochOffset converts XRPL ledger time to unix seconds.
const rippleEpochOffset = 946684800

// dropsPerXRP is the native asset's subdivision factor.
const dropsPerXRP = 1_000_000

// Memo type tags recognized as price carriers, matched after hex decoding.
const (
	memoTagPrice       = "price"
	memoTagVendor      = "xumm.app"
	memoTagRatesPrefix = "rates:"
)

// Extractor maps raw transaction envelopes to optional price observations.
// All decode failures yield "no observation"; nothing propagates.
type Extractor struct {
	OracleAccount string
	QuoteCurrency string

	// RLUSD trust lines quote USD directly; when set, a TrustSet limit in
	// this issued currency counts as a quote alongside the fiat code.
	RLUSDCurrency string
	RLUSDIssuer   string
}

// NewExtractor creates an extractor quoting the oracle account in the
// given fiat code.
func NewExtractor(oracleAccount, quoteCurrency string) *Extractor {
	if quoteCurrency == "" {
		quoteCurrency = "USD"
	}
	return &Extractor{OracleAccount: oracleAccount, QuoteCurrency: quoteCurrency}
}

// Extract derives a price observation from a transaction envelope. The
// envelope may be an account_tx entry, a stream event, or an expanded
// ledger transaction; the tx body is found under tx_json, tx, or the
// envelope itself.
func (e *Extractor) Extract(msg gjson.Result) (price.Observation, bool) {
	tx := txBody(msg)
	if !tx.Exists() {
		return price.Observation{}, false
	}

	ts, tsOK := txTimestamp(msg, tx)
	if !tsOK {
		return price.Observation{}, false
	}
	ledgerIndex := txLedger(msg, tx)

	if p, ok := e.trustLinePrice(tx); ok {
		return price.Observation{Price: p, Time: ts, Ledger: ledgerIndex}, true
	}
	if p, ok := e.offerPrice(tx); ok {
		return price.Observation{Price: p, Time: ts, Ledger: ledgerIndex}, true
	}
	if p, ok := memoPrice(tx); ok {
		return price.Observation{Price: p, Time: ts, Ledger: ledgerIndex}, true
	}
	return price.Observation{}, false
}

// LiveQuote derives an oracle quote from a stream transaction event. Live
// events are stamped with the receive time by the broadcast funnel, so no
// timestamp is required here.
func (e *Extractor) LiveQuote(msg gjson.Result) (value float64, ledgerIndex uint32, ok bool) {
	tx := txBody(msg)
	if !tx.Exists() {
		return 0, 0, false
	}
	p, ok := e.trustLinePrice(tx)
	if !ok {
		return 0, 0, false
	}
	return p, txLedger(msg, tx), true
}

// trustLinePrice handles oracle TrustSet quotes: the trust-line limit in
// the quote currency is the price.
func (e *Extractor) trustLinePrice(tx gjson.Result) (float64, bool) {
	if tx.Get("TransactionType").String() != "TrustSet" {
		return 0, false
	}
	if e.OracleAccount != "" && tx.Get("Account").String() != e.OracleAccount {
		return 0, false
	}
	limit := tx.Get("LimitAmount")
	if !limit.Exists() || !e.quoteLimit(limit) {
		return 0, false
	}
	return validPrice(limit.Get("value").String())
}

// quoteLimit reports whether a trust-line limit is denominated in the
// quote currency, either as the fiat code or as the RLUSD issued asset.
func (e *Extractor) quoteLimit(limit gjson.Result) bool {
	currency := limit.Get("currency").String()
	if currency == e.QuoteCurrency {
		return true
	}
	if e.RLUSDCurrency != "" && currency == e.RLUSDCurrency {
		return e.RLUSDIssuer == "" || limit.Get("issuer").String() == e.RLUSDIssuer
	}
	return false
}

// offerPrice handles XRP/fiat offers, oriented to fiat-per-XRP.
func (e *Extractor) offerPrice(tx gjson.Result) (float64, bool) {
	if tx.Get("TransactionType").String() != "OfferCreate" {
		return 0, false
	}

	paysCur, paysAmt, paysOK := offerLeg(tx.Get("TakerPays"))
	getsCur, getsAmt, getsOK := offerLeg(tx.Get("TakerGets"))
	if !paysOK || !getsOK {
		return 0, false
	}

	var fiat, xrpUnits float64
	switch {
	case paysCur == "XRP" && getsCur == e.QuoteCurrency:
		fiat, xrpUnits = getsAmt, paysAmt/dropsPerXRP
	case paysCur == e.QuoteCurrency && getsCur == "XRP":
		fiat, xrpUnits = paysAmt, getsAmt/dropsPerXRP
	default:
		return 0, false
	}
	if xrpUnits <= 0 {
		return 0, false
	}
	p := fiat / xrpUnits
	if !isPositiveFinite(p) {
		return 0, false
	}
	return p, true
}

// offerLeg decodes one side of an offer. String legs are native drops;
// object legs carry an explicit currency, with XRP values also expressed
// in drops by the upstream encoding.
func offerLeg(leg gjson.Result) (currency string, amount float64, ok bool) {
	switch leg.Type {
	case gjson.String:
		v, err := strconv.ParseFloat(leg.String(), 64)
		if err != nil {
			return "", 0, false
		}
		return "XRP", v, true
	case gjson.JSON:
		cur := leg.Get("currency").String()
		if cur == "" {
			cur = "XRP"
		}
		v, err := strconv.ParseFloat(leg.Get("value").String(), 64)
		if err != nil {
			return "", 0, false
		}
		return cur, v, true
	default:
		return "", 0, false
	}
}

// memoPrice scans Memos for a recognized price tag. The rates tag carries
// a semicolon-delimited list; the first parseable entry wins.
func memoPrice(tx gjson.Result) (float64, bool) {
	var out float64
	var found bool
	tx.Get("Memos").ForEach(func(_, entry gjson.Result) bool {
		memo := entry.Get("Memo")
		tag, err := decodeHex(memo.Get("MemoType").String())
		if err != nil {
			return true
		}
		data, err := decodeHex(memo.Get("MemoData").String())
		if err != nil {
			return true
		}

		switch {
		case tag == memoTagPrice || tag == memoTagVendor:
			if p, ok := validPrice(data); ok {
				out, found = p, true
				return false
			}
		case strings.HasPrefix(tag, memoTagRatesPrefix):
			for _, part := range strings.Split(data, ";") {
				if p, ok := validPrice(strings.TrimSpace(part)); ok {
					out, found = p, true
					return false
				}
			}
		}
		return true
	})
	return out, found
}

func txBody(msg gjson.Result) gjson.Result {
	if tx := msg.Get("tx_json"); tx.Exists() {
		return tx
	}
	if tx := msg.Get("tx"); tx.Exists() {
		return tx
	}
	if msg.Get("TransactionType").Exists() {
		return msg
	}
	return gjson.Result{}
}

func txTimestamp(msg, tx gjson.Result) (time.Time, bool) {
	for _, field := range []string{"close_time_iso", "close_time_human"} {
		if raw := msg.Get(field).String(); raw != "" {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				return ts.UTC(), true
			}
		}
	}
	if date := tx.Get("date"); date.Exists() {
		return time.Unix(date.Int()+rippleEpochOffset, 0).UTC(), true
	}
	return time.Time{}, false
}

func txLedger(msg, tx gjson.Result) uint32 {
	if v := tx.Get("ledger_index"); v.Exists() {
		return uint32(v.Uint())
	}
	return uint32(msg.Get("ledger_index").Uint())
}

func decodeHex(s string) (string, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func validPrice(s string) (float64, bool) {
	p, err := strconv.ParseFloat(s, 64)
	if err != nil || !isPositiveFinite(p) {
		return 0, false
	}
	return p, true
}

func isPositiveFinite(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
