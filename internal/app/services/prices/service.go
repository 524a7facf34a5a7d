package prices

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xrpldash/xrpldash/internal/app/hub"
	"github.com/xrpldash/xrpldash/internal/app/metrics"
	"github.com/xrpldash/xrpldash/internal/app/storage"
	"github.com/xrpldash/xrpldash/internal/xrpl"
	"github.com/xrpldash/xrpldash/pkg/logger"
)

// Broadcast thresholds. The live funnel debounces by value+time; the poll
// path deduplicates by value distance instead. The two are intentionally
// not unified.
const (
	debounceWindow = 1000 * time.Millisecond
	pollEpsilon    = 0.0001
)

// Pagination pacing for the historical backfill.
const (
	backfillPageLimit = 400
	backfillPageDelay = 200 * time.Millisecond
	backfillBusyDelay = time.Second
	backfillBusyCeil  = 30 * time.Second
)

// Emitter delivers events to attached clients.
type Emitter interface {
	Broadcast(e hub.Event)
}

// Service is the single funnel turning raw price observations into
// persisted rows and rate-limited broadcasts.
type Service struct {
	store       storage.PriceStore
	emitter     Emitter
	extractor   *Extractor
	limit       int
	pageLimiter *rate.Limiter
	log         *logger.Logger

	now func() time.Time

	mu        sync.Mutex
	lastValue float64
	lastEmit  time.Time
	hasLast   bool
}

// New constructs the price broadcast service.
func New(store storage.PriceStore, emitter Emitter, extractor *Extractor, backfillLimit int, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("prices")
	}
	if backfillLimit <= 0 {
		backfillLimit = 100
	}
	return &Service{
		store:       store,
		emitter:     emitter,
		extractor:   extractor,
		limit:       backfillLimit,
		pageLimiter: rate.NewLimiter(rate.Every(backfillPageDelay), 1),
		log:         log,
		now:         time.Now,
	}
}

// Extractor exposes the price extractor for the pipeline.
func (s *Service) Extractor() *Extractor { return s.extractor }

// EmitPriceUpdate validates, debounces, persists and broadcasts a live
// price observation. Re-broadcast of the same numeric value within the
// debounce window is suppressed regardless of ledger.
func (s *Service) EmitPriceUpdate(ctx context.Context, value float64, ledgerIndex uint32) {
	if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}

	now := s.now()

	s.mu.Lock()
	if s.hasLast && value == s.lastValue && now.Sub(s.lastEmit) < debounceWindow {
		s.mu.Unlock()
		metrics.PriceBroadcasts.WithLabelValues("suppressed").Inc()
		return
	}
	s.lastValue = value
	s.lastEmit = now
	s.hasLast = true
	s.mu.Unlock()

	result, err := s.store.InsertPrice(ctx, value, now, ledgerIndex)
	if err != nil {
		s.log.WithError(err).Warn("persist price failed")
	} else if result.Inserted {
		metrics.PricesPersisted.WithLabelValues("stream").Inc()
	}

	metrics.PriceBroadcasts.WithLabelValues("accepted").Inc()
	s.emitter.Broadcast(hub.Event{Kind: "priceUpdate", Payload: value})
	s.emitter.Broadcast(hub.Event{Kind: "priceUpdateMeta", Payload: map[string]any{
		"price":     value,
		"source":    "oracle",
		"timestamp": isoTime(now),
		"ledger":    ledgerIndex,
	}})
}

// HandleTransaction funnels a live stream transaction into the broadcast
// path when it is an oracle quote.
func (s *Service) HandleTransaction(ctx context.Context, obsValue float64, ledgerIndex uint32) {
	s.EmitPriceUpdate(ctx, obsValue, ledgerIndex)
}

// Backfill seeds the price series from the oracle's most recent history.
// Request failure is logged, never propagated.
func (s *Service) Backfill(ctx context.Context, conn xrpl.Conn) {
	if conn == nil {
		return
	}

	result, err := conn.Request(ctx, map[string]any{
		"command": "account_tx",
		"account": s.extractor.OracleAccount,
		"limit":   s.limit,
		"forward": false,
	})
	if err != nil {
		s.log.WithError(err).Warn("backfill prices failed")
		return
	}

	inserted := 0
	for _, entry := range result.Get("transactions").Array() {
		obs, ok := s.extractor.Extract(entry)
		if !ok {
			continue
		}
		res, err := s.store.InsertPrice(ctx, obs.Price, obs.Time, obs.Ledger)
		if err != nil {
			s.log.WithError(err).Warn("backfill insert failed")
			continue
		}
		if res.Inserted {
			inserted++
			metrics.PricesPersisted.WithLabelValues("backfill").Inc()
		}
	}
	s.log.WithField("inserted", inserted).Info("price backfill complete")
}

// BackfillRange walks the oracle's full history from ledgerMin forward,
// paginating by marker. Page requests go through the rate limiter, with
// exponential backoff layered on top for the upstream's overload signal.
func (s *Service) BackfillRange(ctx context.Context, conn xrpl.Conn, ledgerMin uint32) (int, error) {
	if conn == nil {
		return 0, nil
	}

	inserted := 0
	busyDelay := backfillBusyDelay
	var marker json.RawMessage

	for {
		if err := s.pageLimiter.Wait(ctx); err != nil {
			return inserted, err
		}

		params := map[string]any{
			"command":          "account_tx",
			"account":          s.extractor.OracleAccount,
			"ledger_index_min": ledgerMin,
			"ledger_index_max": -1,
			"forward":          false,
			"limit":            backfillPageLimit,
		}
		if marker != nil {
			params["marker"] = marker
		}

		result, err := conn.Request(ctx, params)
		if err != nil {
			if xrpl.IsTooBusy(err) {
				s.log.WithField("delay", busyDelay).Info("upstream busy, backing off")
				if !sleepCtx(ctx, busyDelay) {
					return inserted, ctx.Err()
				}
				if busyDelay *= 2; busyDelay > backfillBusyCeil {
					busyDelay = backfillBusyCeil
				}
				continue
			}
			return inserted, err
		}
		busyDelay = backfillBusyDelay

		for _, entry := range result.Get("transactions").Array() {
			obs, ok := s.extractor.Extract(entry)
			if !ok {
				continue
			}
			res, err := s.store.InsertPrice(ctx, obs.Price, obs.Time, obs.Ledger)
			if err != nil {
				return inserted, err
			}
			if res.Inserted {
				inserted++
				metrics.PricesPersisted.WithLabelValues("backfill").Inc()
			}
		}

		next := result.Get("marker")
		if !next.Exists() {
			return inserted, nil
		}
		marker = json.RawMessage(next.Raw)
	}
}

// PollOraclePrice is the fallback path against missed push events. It
// persists only when the polled value diverges from the stored latest by
// more than the epsilon, and never re-broadcasts.
func (s *Service) PollOraclePrice(ctx context.Context, conn xrpl.Conn) {
	if conn == nil {
		return
	}

	result, err := conn.Request(ctx, map[string]any{
		"command": "account_tx",
		"account": s.extractor.OracleAccount,
		"limit":   1,
		"forward": false,
	})
	if err != nil {
		s.log.WithError(err).Warn("poll oracle price failed")
		return
	}

	entries := result.Get("transactions").Array()
	if len(entries) == 0 {
		return
	}
	obs, ok := s.extractor.Extract(entries[0])
	if !ok {
		return
	}

	latest, hasLatest, err := s.store.LatestPrice(ctx)
	if err != nil {
		s.log.WithError(err).Warn("poll latest lookup failed")
		return
	}
	if hasLatest && math.Abs(obs.Price-latest) <= pollEpsilon {
		return
	}

	res, err := s.store.InsertPrice(ctx, obs.Price, obs.Time, obs.Ledger)
	if err != nil {
		s.log.WithError(err).Warn("poll insert failed")
		return
	}
	if res.Inserted {
		metrics.PricesPersisted.WithLabelValues("poll").Inc()
		s.log.WithField("price", obs.Price).WithField("ledger", obs.Ledger).Info("polled new price")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func isoTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
