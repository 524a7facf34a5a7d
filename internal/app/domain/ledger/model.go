// Package ledger defines views over closed XRPL ledgers.
package ledger

// Stats are the per-ledger aggregates broadcast to every client.
type Stats struct {
	Ledger      uint32   `json:"ledger"`
	TxCount     int      `json:"txCount"`
	XRPPayments int      `json:"xrpPayments"`
	TotalXRP    float64  `json:"totalXRP"`
	TotalBurned float64  `json:"totalBurned"`
	LatestPrice *float64 `json:"latestPrice"`
}

// TxSummary is the human-readable transaction row served by the
// current-ledger inspection views.
type TxSummary struct {
	Type    string `json:"type"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
	Details string `json:"details"`
}

// Activity describes a watched-wallet transaction delivered to a single
// subscriber.
type Activity struct {
	Ledger      uint32 `json:"ledger"`
	Account     string `json:"account"`
	Destination string `json:"destination"`
	Amount      any    `json:"amount"`
	Type        string `json:"type"`
}

// PanelMatch is a transaction matched against a subscriber panel filter.
type PanelMatch struct {
	Ledger    uint32  `json:"ledger"`
	Sender    string  `json:"sender"`
	Receiver  string  `json:"receiver"`
	Amount    float64 `json:"amount"`
	Timestamp string  `json:"timestamp"`
}
