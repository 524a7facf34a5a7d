// Package storage defines persistence contracts for the price series.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/xrpldash/xrpldash/internal/app/domain/price"
)

// InsertResult reports whether an insert actually added a row.
type InsertResult struct {
	Inserted bool
}

// PriceStore persists the append-only (price, time, ledger) series.
// InsertPrice is idempotent on the full triple; duplicates are absorbed
// silently with Inserted=false.
type PriceStore interface {
	InsertPrice(ctx context.Context, p float64, t time.Time, ledgerIndex uint32) (InsertResult, error)
	// LatestPrice returns the most recent price by ledger ordering. The
	// second return is false when no rows exist.
	LatestPrice(ctx context.Context) (float64, bool, error)
	// HasHistory reports whether any row carries a real ledger index
	// (synthetic ledger-0 import rows do not count).
	HasHistory(ctx context.Context) (bool, error)
	// GraphData buckets rows newer than now-period into interval-width
	// buckets, averaging price per bucket, ascending.
	GraphData(ctx context.Context, period, interval string) (price.Graph, error)
	// ListSyntheticDaily returns one ledger-0 row per distinct calendar
	// day, ordered by day. Used by minute interpolation.
	ListSyntheticDaily(ctx context.Context) ([]price.Observation, error)
}

// intervalSeconds maps graph interval names to bucket widths. Unknown
// intervals fall back to four hours, matching the public API contract.
var intervalSeconds = map[string]int64{
	"1m":  60,
	"1h":  3600,
	"4h":  14400,
	"12h": 43200,
	"1d":  86400,
}

// IntervalSeconds resolves an interval name to a bucket width in seconds.
func IntervalSeconds(interval string) int64 {
	if secs, ok := intervalSeconds[interval]; ok {
		return secs
	}
	return intervalSeconds["4h"]
}

// PeriodStart resolves a period name ("1d", "7d", "30d", "90d") into the
// inclusive lower time bound. The second return is false for "all".
func PeriodStart(now time.Time, period string) (time.Time, bool) {
	if period == "all" || period == "" {
		return time.Time{}, false
	}
	var days int
	if _, err := fmt.Sscanf(period, "%dd", &days); err != nil || days <= 0 {
		return time.Time{}, false
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour), true
}

// BucketLabel formats a bucket start for graph labels.
func BucketLabel(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format("2006-01-02 15:04:05")
}
