package cache

import (
	"path/filepath"
	"stay-hunter/pkg/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	c, err := New(filepath.Join(t.TempDir(), "cache.db"), time.Hour)
	require.NoError(t, err)
	defer c.Close()

	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	const url = "https://www.trip.com/hotels/detail/?hotelId=1"

	_, ok := c.Get(url)
	assert.False(t, ok, "empty cache must miss")

	c.Set(models.PriceObservation{URL: url, Price: 95, Currency: "EUR", Strategy: "container", ObservedAt: now})
	obs, ok := c.Get(url)
	require.True(t, ok)
	assert.Equal(t, 95.0, obs.Price)
	assert.Equal(t, "container", obs.Strategy)

	c.Set(models.PriceObservation{URL: url, Price: 90, Currency: "EUR", Strategy: "page-text", ObservedAt: now})
	obs, ok = c.Get(url)
	require.True(t, ok)
	assert.Equal(t, 90.0, obs.Price, "set must replace the previous observation")

	now = now.Add(2 * time.Hour)
	_, ok = c.Get(url)
	assert.False(t, ok, "expired observation must miss")

	now = now.Add(-2 * time.Hour)
	c.Invalidate(url)
	_, ok = c.Get(url)
	assert.False(t, ok)
}
