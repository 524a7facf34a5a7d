// Package subscriber defines per-client state owned by the session
// registry.
package subscriber

// Profile is the exportable wallet configuration of one client. It is the
// unit of import/export; durability lives client-side.
type Profile struct {
	Addresses []string          `json:"addresses"`
	Nicknames map[string]string `json:"nicknames"`
	Alerts    map[string]bool   `json:"alerts"`
}

// Panel is a client-defined currency filter. Transactions whose delivered
// amount exceeds Limit in the panel currency are surfaced to the owner.
type Panel struct {
	ID       string  `json:"id"`
	Currency string  `json:"currency"`
	Issuer   string  `json:"issuer,omitempty"`
	Limit    float64 `json:"limit"`
}

// Balance reports one watched address. Invalid addresses carry the literal
// "Invalid" balance and "N/A" USD value instead of failing the batch.
type Balance struct {
	Address  string `json:"address"`
	Balance  any    `json:"balance"`
	Sequence any    `json:"sequence"`
	USDValue any    `json:"usdValue"`
}

// TrackingRequest starts wallet-activity tracking for a client.
type TrackingRequest struct {
	Addresses    []string `json:"addresses"`
	MinThreshold float64  `json:"minThreshold"`
	StartLedger  *uint32  `json:"startLedger"`
}
