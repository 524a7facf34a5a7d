// Package price defines the derived price time series model.
package price

import "time"

// Observation is a single derived price point. Ledger 0 marks synthetic
// rows seeded from historical imports rather than live ledger data.
type Observation struct {
	Price  float64
	Time   time.Time
	Ledger uint32
}

// Graph is a bucketed view of the price series served to clients.
type Graph struct {
	Labels      []string  `json:"labels"`
	Prices      []float64 `json:"prices"`
	LatestPrice *float64  `json:"latestPrice"`
}
