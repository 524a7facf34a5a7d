package ledgers

import (
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/xrpldash/xrpldash/internal/app/domain/ledger"
)

// Summarize renders a transaction as the human-readable row served by the
// ledger inspection views.
func Summarize(tx gjson.Result) ledger.TxSummary {
	body := txBody(tx)

	txType := body.Get("TransactionType").String()
	if txType == "" {
		txType = "Unknown"
	}
	account := body.Get("Account").String()
	if account == "" {
		account = "N/A"
	}

	amount := "N/A"
	switch txType {
	case "Payment":
		amt := body.Get("Amount")
		if !amt.Exists() {
			amt = body.Get("DeliverMax")
		}
		amount = formatAmount(amt)
	case "OfferCreate":
		amount = formatAmount(body.Get("TakerGets"))
	case "TrustSet":
		if limit := body.Get("LimitAmount"); limit.Type == gjson.JSON {
			amount = fmt.Sprintf("%s %s", limit.Get("value").String(), limit.Get("currency").String())
		}
	}

	counterparty := body.Get("Destination").String()
	if counterparty == "" {
		counterparty = body.Get("LimitAmount.issuer").String()
	}
	fee := body.Get("Fee").String()
	if fee == "" {
		fee = "N/A"
	}

	return ledger.TxSummary{
		Type:    txType,
		Account: account,
		Amount:  amount,
		Details: fmt.Sprintf("%s Fee: %s", counterparty, fee),
	}
}

func formatAmount(amt gjson.Result) string {
	switch amt.Type {
	case gjson.String:
		if drops, err := strconv.ParseFloat(amt.String(), 64); err == nil {
			return fmt.Sprintf("%g XRP", drops/dropsPerXRP)
		}
	case gjson.JSON:
		return fmt.Sprintf("%s %s", amt.Get("value").String(), amt.Get("currency").String())
	}
	return "N/A"
}
