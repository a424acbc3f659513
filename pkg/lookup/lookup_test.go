package lookup

import (
	"net/url"
	"stay-hunter/pkg/models"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBooking(hotelURL string) *models.Booking {
	return &models.Booking{
		HotelURL:     hotelURL,
		CheckInDate:  time.Date(2026, 11, 3, 15, 0, 0, 0, time.UTC),
		CheckOutDate: time.Date(2026, 11, 6, 10, 0, 0, 0, time.UTC),
	}
}

func TestExtractHotelID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.trip.com/hotels/detail/?hotelId=687592&checkIn=2026-01-01", "687592"},
		{"https://www.trip.com/hotels/rome-hotel-detail-2431998/hotel-example/", "2431998"},
		{"https://example.com/hotels/italy/rome/998877", "998877"},
		{"https://www.booking.com/hotel/it/example.html", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractHotelID(tt.url))
		})
	}
}

func TestDerive(t *testing.T) {
	d := NewDeriver("https://www.trip.com/", "1396330", 2, "EUR")

	t.Run("extracts id from hotel url", func(t *testing.T) {
		lk, err := d.Derive(newBooking("https://www.trip.com/hotels/detail/?hotelId=687592"))
		require.NoError(t, err)

		assert.True(t, lk.Fresh)
		assert.False(t, lk.Degraded)
		assert.Equal(t, "687592", lk.HotelID)

		u, err := url.Parse(lk.URL)
		require.NoError(t, err)
		assert.Equal(t, "www.trip.com", u.Host)
		assert.Equal(t, "/hotels/detail/", u.Path)
		assert.Equal(t, "2026-11-03", u.Query().Get("checkIn"))
		assert.Equal(t, "2026-11-06", u.Query().Get("checkOut"))
		assert.Equal(t, "2", u.Query().Get("adult"))
		assert.Equal(t, "EUR", u.Query().Get("curr"))
	})

	t.Run("falls back to the fixed hotel id", func(t *testing.T) {
		lk, err := d.Derive(newBooking("https://www.booking.com/hotel/it/example.html"))
		require.NoError(t, err)
		assert.True(t, lk.Degraded)
		assert.Equal(t, "1396330", lk.HotelID)
	})

	t.Run("booking currency and party size win", func(t *testing.T) {
		b := newBooking("")
		b.Currency = "usd"
		b.Adults = 3
		lk, err := d.Derive(b)
		require.NoError(t, err)
		u, _ := url.Parse(lk.URL)
		assert.Equal(t, "USD", u.Query().Get("curr"))
		assert.Equal(t, "3", u.Query().Get("adult"))
	})

	t.Run("missing dates are invalid", func(t *testing.T) {
		b := newBooking("")
		b.CheckInDate = time.Time{}
		_, err := d.Derive(b)
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrInvalidDate))
	})

	t.Run("second derivation reuses the cached lookup", func(t *testing.T) {
		b := newBooking("https://www.trip.com/hotels/detail/?hotelId=687592")
		first, err := d.Derive(b)
		require.NoError(t, err)
		b.TripURL, b.TripHotelID = first.URL, first.HotelID

		// Changing inputs must not change the memoized lookup.
		b.HotelURL = "https://www.trip.com/hotels/detail/?hotelId=111111"
		b.CheckInDate = b.CheckInDate.AddDate(0, 0, 1)

		second, err := d.Derive(b)
		require.NoError(t, err)
		assert.False(t, second.Fresh)
		assert.Equal(t, first.URL, second.URL)
		assert.Equal(t, first.HotelID, second.HotelID)
	})
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2026-11-03")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Day())

	_, err = ParseDate("next tuesday")
	assert.True(t, errors.Is(err, models.ErrInvalidDate))
}
