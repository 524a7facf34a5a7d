// Package postgres implements the price store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/xrpldash/xrpldash/internal/app/domain/price"
	"github.com/xrpldash/xrpldash/internal/app/storage"
)

// Store implements storage.PriceStore backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.PriceStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the price table and its uniqueness index.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS xrp_price (
			id     BIGSERIAL PRIMARY KEY,
			price  DOUBLE PRECISION NOT NULL,
			time   TIMESTAMPTZ NOT NULL,
			ledger BIGINT NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS xrp_price_triple_idx
		ON xrp_price (price, time, ledger)
	`)
	return err
}

func (s *Store) InsertPrice(ctx context.Context, p float64, t time.Time, ledgerIndex uint32) (storage.InsertResult, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO xrp_price (price, time, ledger)
		VALUES ($1, $2, $3)
		ON CONFLICT (price, time, ledger) DO NOTHING
	`, p, t.UTC(), int64(ledgerIndex))
	if err != nil {
		return storage.InsertResult{}, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storage.InsertResult{}, err
	}
	return storage.InsertResult{Inserted: rows > 0}, nil
}

func (s *Store) LatestPrice(ctx context.Context) (float64, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT price FROM xrp_price
		ORDER BY ledger DESC, id DESC
		LIMIT 1
	`)

	var p float64
	if err := row.Scan(&p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return p, true, nil
}

func (s *Store) HasHistory(ctx context.Context) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM xrp_price WHERE ledger > 0)
	`)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) GraphData(ctx context.Context, period, interval string) (price.Graph, error) {
	width := storage.IntervalSeconds(interval)

	query := `
		SELECT (floor(extract(epoch FROM time) / $1)::bigint * $1) AS bucket,
		       avg(price) AS avg_price
		FROM xrp_price
	`
	args := []any{width}
	if start, bounded := storage.PeriodStart(time.Now().UTC(), period); bounded {
		query += ` WHERE time >= $2`
		args = append(args, start)
	}
	query += ` GROUP BY bucket ORDER BY bucket`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return price.Graph{}, err
	}
	defer rows.Close()

	graph := price.Graph{Labels: []string{}, Prices: []float64{}}
	for rows.Next() {
		var (
			bucket int64
			avg    float64
		)
		if err := rows.Scan(&bucket, &avg); err != nil {
			return price.Graph{}, err
		}
		graph.Labels = append(graph.Labels, storage.BucketLabel(bucket))
		graph.Prices = append(graph.Prices, avg)
	}
	if err := rows.Err(); err != nil {
		return price.Graph{}, err
	}

	if latest, ok, err := s.LatestPrice(ctx); err != nil {
		return price.Graph{}, err
	} else if ok {
		graph.LatestPrice = &latest
	}
	return graph, nil
}

func (s *Store) ListSyntheticDaily(ctx context.Context) ([]price.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (date_trunc('day', time)) price, time, ledger
		FROM xrp_price
		WHERE ledger = 0
		ORDER BY date_trunc('day', time), id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []price.Observation
	for rows.Next() {
		var (
			obs    price.Observation
			ledger int64
		)
		if err := rows.Scan(&obs.Price, &obs.Time, &ledger); err != nil {
			return nil, err
		}
		obs.Ledger = uint32(ledger)
		out = append(out, obs)
	}
	return out, rows.Err()
}
