// Package refresh re-checks the current price of every booking whose stay has
// not concluded yet and records the result on the booking row.
package refresh

import (
	"context"
	"log"
	"stay-hunter/pkg/clock"
	"stay-hunter/pkg/config"
	"stay-hunter/pkg/fetch"
	"stay-hunter/pkg/lock"
	"stay-hunter/pkg/logger"
	"stay-hunter/pkg/lookup"
	"stay-hunter/pkg/metrics"
	"stay-hunter/pkg/models"
	"stay-hunter/pkg/price"
	"stay-hunter/pkg/store"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize  = 5
	DefaultBatchDelay = 5 * time.Second

	StrategyCache = "cache"

	ReasonInvalidDates = "invalid booking dates"
	ReasonNoPrices     = "no prices found"
	ReasonStoreWrite   = "failed to save price"
)

// PriceCache is satisfied by *cache.Cache.
type PriceCache interface {
	Get(url string) (*models.PriceObservation, bool)
	Set(obs models.PriceObservation)
	Invalidate(url string)
}

type Refresher struct {
	Store     store.Store
	Fetcher   fetch.Fetcher
	Deriver   *lookup.Deriver
	Extractor *price.Extractor
	// Cache and Locker are optional.
	Cache  PriceCache
	Locker lock.Locker
	Clock  clock.Clock
	Sleep  clock.SleepFunc

	BatchSize  int
	BatchDelay time.Duration
}

// Outcome is the result of refreshing one booking. Reason is empty on
// success and otherwise names the failure the way it is tallied in a
// summary.
type Outcome struct {
	BookingID string   `json:"booking_id,omitempty"`
	URL       string   `json:"url"`
	Price     *float64 `json:"price"`
	Strategy  string   `json:"strategy,omitempty"`
	Degraded  bool     `json:"degraded,omitempty"`
	Reason    string   `json:"error,omitempty"`
}

func (o Outcome) OK() bool {
	return o.Reason == ""
}

func New(cfg config.RefreshConfig, st store.Store, f fetch.Fetcher, c PriceCache, l lock.Locker) *Refresher {
	r := &Refresher{
		Store:      st,
		Fetcher:    f,
		Deriver:    lookup.NewDeriver(cfg.BaseURL, cfg.FallbackHotelID, cfg.Adults, cfg.Currency),
		Extractor:  price.NewExtractor(cfg.SynthesizePrices),
		Cache:      c,
		Locker:     l,
		Clock:      clock.NewRealClock(),
		Sleep:      clock.Sleep,
		BatchSize:  cfg.BatchSize,
		BatchDelay: cfg.BatchDelay,
	}
	r.SetClock(r.Clock)
	return r
}

// SetClock replaces the clock and hands it to the cache when the cache
// tracks expiry itself, so observations are stamped and expired on the same
// time line.
func (r *Refresher) SetClock(clk clock.Clock) {
	r.Clock = clk
	if c, ok := r.Cache.(interface{ UseClock(clock.Clock) }); ok {
		c.UseClock(clk)
	}
}

// RefreshAll processes every eligible booking in fixed-size batches. A batch
// runs concurrently and is awaited in full before the inter-batch delay.
// Per-booking failures never abort the run; they are tallied by reason.
func (r *Refresher) RefreshAll(ctx context.Context) (*models.RefreshSummary, error) {
	if r.Locker != nil {
		release, err := r.Locker.Acquire(ctx, lock.RefreshKey())
		if err != nil {
			return nil, err
		}
		defer release()
	}

	start := time.Now()
	defer func() { metrics.RefreshDuration.Observe(time.Since(start).Seconds()) }()
	defer logger.Flush()

	bookings, err := r.Store.ListEligible(ctx, r.Clock.Now())
	if err != nil {
		return nil, errors.Wrap(err, "failed to load eligible bookings")
	}

	summary := models.NewRefreshSummary()
	summary.Total = len(bookings)
	log.Printf("[REFRESH] %d eligible bookings", len(bookings))

	size := r.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	for i := 0; i < len(bookings); i += size {
		if i > 0 {
			if err := r.Sleep(ctx, r.BatchDelay); err != nil {
				return summary, errors.Wrap(err, "refresh interrupted")
			}
		}

		batch := bookings[i:min(i+size, len(bookings))]
		outcomes := make([]Outcome, len(batch))

		var g errgroup.Group
		for j := range batch {
			g.Go(func() error {
				outcomes[j] = r.refresh(ctx, &batch[j])
				return nil
			})
		}
		g.Wait()

		for _, o := range outcomes {
			if o.OK() {
				summary.Successful++
			} else {
				summary.AddFailure(o.Reason)
			}
		}
		log.Printf("[REFRESH] batch %d done (%d/%d)", i/size+1, min(i+size, len(bookings)), len(bookings))
	}

	log.Printf("[REFRESH] finished: %d successful, %d failed", summary.Successful, summary.Failed)
	return summary, nil
}

// RefreshOne processes a single booking regardless of its eligibility.
func (r *Refresher) RefreshOne(ctx context.Context, id string) (Outcome, error) {
	b, err := r.Store.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	defer logger.Flush()
	return r.refresh(ctx, b), nil
}

// SelfTest fetches the fallback listing for a one-night stay starting
// tomorrow. Nothing is persisted or cached.
func (r *Refresher) SelfTest(ctx context.Context) (Outcome, error) {
	now := r.Clock.Now()
	checkIn := now.AddDate(0, 0, 1)
	checkOut := now.AddDate(0, 0, 2)

	u, err := r.Deriver.Build(r.Deriver.FallbackHotelID, checkIn, checkOut, r.Deriver.Adults, r.Deriver.Currency)
	if err != nil {
		return Outcome{}, err
	}

	o := Outcome{URL: u}
	p, strategy, reason := r.fetchPrice(ctx, u)
	o.Price, o.Strategy, o.Reason = p, strategy, reason
	log.Printf("[REFRESH] self-test %s: price=%v strategy=%s error=%q", u, deref(p), strategy, reason)
	return o, nil
}

func (r *Refresher) refresh(ctx context.Context, b *models.Booking) Outcome {
	o := Outcome{BookingID: b.ID}

	lk, err := r.Deriver.Derive(b)
	if err != nil {
		logger.Dedup("[REFRESH] cannot derive lookup for %s: %v", b.ID, err)
		o.Reason = ReasonInvalidDates
		r.recordFailure(ctx, b.ID, o.Reason)
		return o
	}
	o.URL, o.Degraded = lk.URL, lk.Degraded
	if lk.Degraded {
		logger.Dedup("[REFRESH] no listing id in %q, using fallback hotel", b.HotelURL)
	}
	if lk.Fresh {
		if err := r.Store.UpdateLookup(ctx, b.ID, lk.URL, lk.HotelID); err != nil {
			log.Printf("[REFRESH] failed to persist lookup for %s: %v", b.ID, err)
		} else {
			b.TripURL, b.TripHotelID = lk.URL, lk.HotelID
		}
	}

	o.Price, o.Strategy, o.Reason = r.fetchPrice(ctx, lk.URL)
	if !o.OK() {
		r.recordFailure(ctx, b.ID, o.Reason)
		return o
	}

	err = r.Store.UpdatePrice(ctx, b.ID, models.PriceUpdate{
		FetchedPrice: o.Price,
		CheckedAt:    r.Clock.Now(),
	})
	if err != nil {
		log.Printf("[REFRESH] failed to save price for %s: %v", b.ID, err)
		o.Reason = ReasonStoreWrite
		metrics.BookingsRefreshed.WithLabelValues("failure").Inc()
		return o
	}

	metrics.BookingsRefreshed.WithLabelValues("success").Inc()
	return o
}

// fetchPrice returns a price, the strategy that found it, or a failure
// reason. A cached observation for the same URL short-circuits the fetch.
func (r *Refresher) fetchPrice(ctx context.Context, url string) (*float64, string, string) {
	if r.Cache != nil {
		if obs, ok := r.Cache.Get(url); ok {
			metrics.PriceCacheHits.Inc()
			p := obs.Price
			return &p, StrategyCache, ""
		}
	}

	body, err := r.Fetcher.Fetch(ctx, url)
	if err != nil {
		reason := failureReason(err)
		logger.Dedup("[REFRESH] fetch failed: %s", reason)
		r.invalidate(url)
		return nil, "", reason
	}

	res, err := r.Extractor.Extract(body)
	if err != nil {
		reason := ReasonNoPrices
		if !errors.Is(err, price.ErrNoPrices) {
			reason = err.Error()
		}
		logger.Dedup("[REFRESH] extraction failed: %s", reason)
		r.invalidate(url)
		return nil, "", reason
	}

	metrics.PriceStrategy.WithLabelValues(res.Strategy).Inc()
	if r.Cache != nil && res.Strategy != price.StrategySynthetic {
		r.Cache.Set(models.PriceObservation{
			URL:        url,
			Price:      res.Price,
			Currency:   r.Deriver.Currency,
			Strategy:   res.Strategy,
			ObservedAt: r.Clock.Now(),
		})
	}
	return &res.Price, res.Strategy, ""
}

// recordFailure clears the comparison price and stamps last_checked, so the
// booking reads as checked-but-unavailable rather than never checked.
func (r *Refresher) recordFailure(ctx context.Context, id, reason string) {
	metrics.BookingsRefreshed.WithLabelValues("failure").Inc()
	err := r.Store.UpdatePrice(ctx, id, models.PriceUpdate{
		Error:     reason,
		CheckedAt: r.Clock.Now(),
	})
	if err != nil {
		log.Printf("[REFRESH] failed to record failure for %s: %v", id, err)
	}
}

func (r *Refresher) invalidate(url string) {
	if r.Cache != nil {
		r.Cache.Invalidate(url)
	}
}

func failureReason(err error) string {
	var fe *fetch.Error
	if errors.As(err, &fe) {
		return fe.Reason()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "network error: timeout"
	}
	return err.Error()
}

func deref(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
