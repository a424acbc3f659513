// Package lookup derives the comparison-listing URL that a booking's price is
// re-checked against.
package lookup

import (
	"net/url"
	"regexp"
	"stay-hunter/pkg/models"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	DefaultAdults   = 2
	DefaultCurrency = "EUR"
	dateLayout      = "2006-01-02"
)

var hotelIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)[?&]hotel_?id=(\d+)`),
	regexp.MustCompile(`(?i)hotel-detail-(\d+)`),
	regexp.MustCompile(`(?i)/hotels?/(?:[^/?#]+/)*(\d{4,})(?:[/?#.]|$)`),
	regexp.MustCompile(`(?i)hotel-(\d{4,})`),
}

type Deriver struct {
	BaseURL         string
	FallbackHotelID string
	Adults          int
	Currency        string
}

// Lookup is a derived comparison URL. Fresh is set when the URL was computed
// now rather than taken from the booking's cached fields, so the caller knows
// to persist it. Degraded marks the fallback hotel id.
type Lookup struct {
	URL      string
	HotelID  string
	Fresh    bool
	Degraded bool
}

func NewDeriver(baseURL, fallbackHotelID string, adults int, currency string) *Deriver {
	return &Deriver{
		BaseURL:         strings.TrimRight(baseURL, "/"),
		FallbackHotelID: fallbackHotelID,
		Adults:          adults,
		Currency:        currency,
	}
}

// Derive returns the cached lookup if the booking already carries one and
// otherwise builds it from the hotel URL and stay dates.
func (d *Deriver) Derive(b *models.Booking) (Lookup, error) {
	if b.TripURL != "" && b.TripHotelID != "" {
		return Lookup{URL: b.TripURL, HotelID: b.TripHotelID}, nil
	}

	hotelID := b.TripHotelID
	degraded := false
	if hotelID == "" {
		hotelID = ExtractHotelID(b.HotelURL)
	}
	if hotelID == "" {
		hotelID = d.FallbackHotelID
		degraded = true
	}

	adults := b.Adults
	if adults <= 0 {
		adults = d.Adults
	}
	currency := b.Currency
	if currency == "" {
		currency = d.Currency
	}

	u, err := d.Build(hotelID, b.CheckInDate, b.CheckOutDate, adults, currency)
	if err != nil {
		return Lookup{}, err
	}
	return Lookup{URL: u, HotelID: hotelID, Fresh: true, Degraded: degraded}, nil
}

func (d *Deriver) Build(hotelID string, checkIn, checkOut time.Time, adults int, currency string) (string, error) {
	if checkIn.IsZero() {
		return "", errors.Wrap(models.ErrInvalidDate, "check-in")
	}
	if checkOut.IsZero() {
		return "", errors.Wrap(models.ErrInvalidDate, "check-out")
	}
	if adults <= 0 {
		adults = DefaultAdults
	}
	if currency == "" {
		currency = DefaultCurrency
	}

	q := url.Values{}
	q.Set("hotelId", hotelID)
	q.Set("checkIn", checkIn.Format(dateLayout))
	q.Set("checkOut", checkOut.Format(dateLayout))
	q.Set("adult", strconv.Itoa(adults))
	q.Set("curr", strings.ToUpper(currency))

	return d.BaseURL + "/hotels/detail/?" + q.Encode(), nil
}

// ExtractHotelID pulls a numeric listing id out of a hotel URL, or returns "".
func ExtractHotelID(hotelURL string) string {
	if hotelURL == "" {
		return ""
	}
	for _, re := range hotelIDPatterns {
		if m := re.FindStringSubmatch(hotelURL); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

// ParseDate parses a YYYY-MM-DD or RFC 3339 date string.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{dateLayout, time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Wrapf(models.ErrInvalidDate, "%q", s)
}
