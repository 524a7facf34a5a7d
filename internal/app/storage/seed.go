package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xrpldash/xrpldash/pkg/logger"
)

// ImportCSV seeds the store from a daily price export. Rows are stored at
// midnight UTC with ledger 0, marking them as synthetic. Returns the number
// of rows actually inserted.
func ImportCSV(ctx context.Context, store PriceStore, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read csv header: %w", err)
	}

	priceIdx, timeIdx := -1, -1
	for i, col := range header {
		switch col {
		case "PriceUSD":
			priceIdx = i
		case "time":
			timeIdx = i
		}
	}
	if priceIdx < 0 || timeIdx < 0 {
		return 0, fmt.Errorf("csv missing PriceUSD or time column")
	}

	inserted := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return inserted, fmt.Errorf("read csv row: %w", err)
		}
		if priceIdx >= len(record) || timeIdx >= len(record) || record[priceIdx] == "" {
			continue
		}

		p, err := strconv.ParseFloat(record[priceIdx], 64)
		if err != nil || p <= 0 {
			continue
		}
		day, err := time.Parse("2006-01-02", record[timeIdx])
		if err != nil {
			continue
		}

		result, err := store.InsertPrice(ctx, p, day.UTC(), 0)
		if err != nil {
			return inserted, err
		}
		if result.Inserted {
			inserted++
		}
	}
	return inserted, nil
}

// InterpolateMinutes expands each synthetic daily row into per-minute rows
// so short graph intervals have data before any live history exists. The
// scan runs one day at a time and honours ctx between days, keeping the
// work off the request path.
func InterpolateMinutes(ctx context.Context, store PriceStore, log *logger.Logger) (int, error) {
	if log == nil {
		log = logger.NewDefault("interpolate")
	}

	daily, err := store.ListSyntheticDaily(ctx)
	if err != nil {
		return 0, fmt.Errorf("list synthetic daily rows: %w", err)
	}

	inserted := 0
	for _, row := range daily {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		day := time.Date(row.Time.Year(), row.Time.Month(), row.Time.Day(), 0, 0, 0, 0, time.UTC)
		for minute := 0; minute < 24*60; minute++ {
			result, err := store.InsertPrice(ctx, row.Price, day.Add(time.Duration(minute)*time.Minute), 0)
			if err != nil {
				return inserted, err
			}
			if result.Inserted {
				inserted++
			}
		}
	}

	log.WithField("rows", inserted).Info("minute interpolation complete")
	return inserted, nil
}
