package ledgers

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestSummarizePayment(t *testing.T) {
	s := Summarize(gjson.Parse(`{
		"tx_json": {"TransactionType": "Payment", "Account": "rAlice",
			"Destination": "rBob", "Amount": "5000000", "Fee": "12"}
	}`))

	if s.Type != "Payment" || s.Account != "rAlice" {
		t.Fatalf("summary = %+v", s)
	}
	if s.Amount != "5 XRP" {
		t.Fatalf("amount = %q, want 5 XRP", s.Amount)
	}
	if s.Details != "rBob Fee: 12" {
		t.Fatalf("details = %q", s.Details)
	}
}

func TestSummarizeIssuedPayment(t *testing.T) {
	s := Summarize(gjson.Parse(`{
		"tx": {"TransactionType": "Payment", "Account": "rAlice",
			"Destination": "rBob",
			"DeliverMax": {"currency": "USD", "issuer": "rIssuer", "value": "100"},
			"Fee": "10"}
	}`))

	if s.Amount != "100 USD" {
		t.Fatalf("amount = %q, want 100 USD", s.Amount)
	}
}

func TestSummarizeOfferCreate(t *testing.T) {
	s := Summarize(gjson.Parse(`{
		"tx": {"TransactionType": "OfferCreate", "Account": "rTrader",
			"TakerGets": "2000000", "Fee": "15"}
	}`))

	if s.Type != "OfferCreate" {
		t.Fatalf("type = %q", s.Type)
	}
	if s.Amount != "2 XRP" {
		t.Fatalf("amount = %q, want 2 XRP", s.Amount)
	}
}

func TestSummarizeTrustSet(t *testing.T) {
	s := Summarize(gjson.Parse(`{
		"tx": {"TransactionType": "TrustSet", "Account": "rAlice",
			"LimitAmount": {"currency": "USD", "issuer": "rIssuer", "value": "11.5"},
			"Fee": "12"}
	}`))

	if s.Amount != "11.5 USD" {
		t.Fatalf("amount = %q", s.Amount)
	}
	if s.Details != "rIssuer Fee: 12" {
		t.Fatalf("details = %q (issuer is the counterparty)", s.Details)
	}
}

func TestSummarizeUnknown(t *testing.T) {
	s := Summarize(gjson.Parse(`{"tx": {}}`))

	if s.Type != "Unknown" || s.Account != "N/A" || s.Amount != "N/A" {
		t.Fatalf("summary = %+v", s)
	}
	if s.Details != " Fee: N/A" {
		t.Fatalf("details = %q", s.Details)
	}
}
