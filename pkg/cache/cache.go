package cache

import (
	"database/sql"
	"log"
	"stay-hunter/pkg/clock"
	"stay-hunter/pkg/models"
	"time"

	_ "modernc.org/sqlite"
)

// Cache keeps the latest price observation per lookup URL so that bookings
// sharing a listing, or a retried refresh, do not hit the site again inside
// the TTL window.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func New(dbPath string, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS price_observations (
			url TEXT NOT NULL PRIMARY KEY,
			price REAL NOT NULL,
			currency TEXT NOT NULL,
			strategy TEXT NOT NULL,
			observed_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db, ttl: ttl, now: time.Now}, nil
}

// UseClock makes expiry follow clk, which should be the clock that stamps
// ObservedAt.
func (c *Cache) UseClock(clk clock.Clock) {
	c.now = clk.Now
}

func (c *Cache) Get(url string) (*models.PriceObservation, bool) {
	obs := models.PriceObservation{URL: url}

	err := c.db.QueryRow(
		`SELECT price, currency, strategy, observed_at FROM price_observations WHERE url = ?`,
		url,
	).Scan(&obs.Price, &obs.Currency, &obs.Strategy, &obs.ObservedAt)

	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("Cache: failed to read observation for %s: %v", url, err)
		}
		return nil, false
	}

	if c.now().Sub(obs.ObservedAt) > c.ttl {
		return nil, false
	}

	return &obs, true
}

func (c *Cache) Set(obs models.PriceObservation) {
	_, err := c.db.Exec(
		`INSERT INTO price_observations (url, price, currency, strategy, observed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(url)
		 DO UPDATE SET price = excluded.price, currency = excluded.currency,
		 	strategy = excluded.strategy, observed_at = excluded.observed_at`,
		obs.URL, obs.Price, obs.Currency, obs.Strategy, obs.ObservedAt.UTC(),
	)
	if err != nil {
		log.Printf("Cache: failed to store observation for %s: %v", obs.URL, err)
	}
}

// Invalidate drops the observation for url, used when a refresh fails so a
// stale price is not served afterwards.
func (c *Cache) Invalidate(url string) {
	if _, err := c.db.Exec(`DELETE FROM price_observations WHERE url = ?`, url); err != nil {
		log.Printf("Cache: failed to invalidate %s: %v", url, err)
	}
}

func (c *Cache) Close() error {
	return c.db.Close()
}
