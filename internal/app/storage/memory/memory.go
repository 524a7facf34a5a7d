// Package memory provides an in-memory PriceStore used for tests and for
// running without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xrpldash/xrpldash/internal/app/domain/price"
	"github.com/xrpldash/xrpldash/internal/app/storage"
)

type rowKey struct {
	price  float64
	time   int64
	ledger uint32
}

// Store is a mutex-guarded in-memory price series.
type Store struct {
	mu   sync.RWMutex
	rows []price.Observation
	seen map[rowKey]struct{}
}

var _ storage.PriceStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{seen: make(map[rowKey]struct{})}
}

func (s *Store) InsertPrice(ctx context.Context, p float64, t time.Time, ledgerIndex uint32) (storage.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rowKey{price: p, time: t.UTC().UnixNano(), ledger: ledgerIndex}
	if _, dup := s.seen[key]; dup {
		return storage.InsertResult{Inserted: false}, nil
	}
	s.seen[key] = struct{}{}
	s.rows = append(s.rows, price.Observation{Price: p, Time: t.UTC(), Ledger: ledgerIndex})
	return storage.InsertResult{Inserted: true}, nil
}

func (s *Store) LatestPrice(ctx context.Context) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.rows) == 0 {
		return 0, false, nil
	}
	best := s.rows[0]
	for _, row := range s.rows[1:] {
		// Ties on ledger resolve to the later insertion.
		if row.Ledger >= best.Ledger {
			best = row
		}
	}
	return best.Price, true, nil
}

func (s *Store) HasHistory(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.rows {
		if row.Ledger > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GraphData(ctx context.Context, period, interval string) (price.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, bounded := storage.PeriodStart(time.Now().UTC(), period)
	width := storage.IntervalSeconds(interval)

	sums := make(map[int64]float64)
	counts := make(map[int64]int)
	for _, row := range s.rows {
		if bounded && row.Time.Before(start) {
			continue
		}
		bucket := (row.Time.Unix() / width) * width
		sums[bucket] += row.Price
		counts[bucket]++
	}

	buckets := make([]int64, 0, len(sums))
	for bucket := range sums {
		buckets = append(buckets, bucket)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	graph := price.Graph{
		Labels: make([]string, 0, len(buckets)),
		Prices: make([]float64, 0, len(buckets)),
	}
	for _, bucket := range buckets {
		graph.Labels = append(graph.Labels, storage.BucketLabel(bucket))
		graph.Prices = append(graph.Prices, sums[bucket]/float64(counts[bucket]))
	}

	if latest, ok, _ := s.latestLocked(); ok {
		graph.LatestPrice = &latest
	}
	return graph, nil
}

// latestLocked mirrors LatestPrice without re-acquiring the lock.
func (s *Store) latestLocked() (float64, bool, error) {
	if len(s.rows) == 0 {
		return 0, false, nil
	}
	best := s.rows[0]
	for _, row := range s.rows[1:] {
		if row.Ledger >= best.Ledger {
			best = row
		}
	}
	return best.Price, true, nil
}

func (s *Store) ListSyntheticDaily(ctx context.Context) ([]price.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDay := make(map[string]price.Observation)
	for _, row := range s.rows {
		if row.Ledger != 0 {
			continue
		}
		day := row.Time.UTC().Format("2006-01-02")
		if _, ok := byDay[day]; !ok {
			byDay[day] = row
		}
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	out := make([]price.Observation, 0, len(days))
	for _, day := range days {
		out = append(out, byDay[day])
	}
	return out, nil
}

// Len reports the current row count. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
