package models

import (
	"time"

	"github.com/cockroachdb/errors"
)

const (
	SourceManual = "manual"
	SourceGmail  = "gmail"
)

var (
	ErrBookingNotFound   = errors.New("booking not found")
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidDates      = errors.New("cancellation date must not be after check-in, check-in must not be after check-out")
	ErrNoComparisonPrice = errors.New("no comparison price to rebook at")
)

// Booking is a tracked hotel reservation. OriginalPrice is the amount committed
// to at booking time, FetchedPrice the latest comparison price (nil until the
// first successful refresh, and reset to nil when a refresh fails).
type Booking struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id,omitempty"`
	BookingReference string     `json:"booking_reference,omitempty"`
	HotelName        string     `json:"hotel_name"`
	HotelURL         string     `json:"hotel_url,omitempty"`
	RoomType         string     `json:"room_type,omitempty"`
	OriginalPrice    float64    `json:"original_price"`
	FetchedPrice     *float64   `json:"fetched_price"`
	Currency         string     `json:"currency"`
	Adults           int        `json:"adults,omitempty"`
	CheckInDate      time.Time  `json:"check_in_date"`
	CheckOutDate     time.Time  `json:"check_out_date"`
	CancellationDate *time.Time `json:"cancellation_date,omitempty"`
	Source           string     `json:"source"`
	ImportedFromMail bool       `json:"imported_from_gmail"`
	ImportTimestamp  *time.Time `json:"import_timestamp,omitempty"`
	EmailID          string     `json:"email_id,omitempty"`
	TripURL          string     `json:"trip_url,omitempty"`
	TripHotelID      string     `json:"trip_hotel_id,omitempty"`
	LastChecked      *time.Time `json:"last_checked,omitempty"`
	FetchError       string     `json:"fetch_error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Validate enforces cancellation <= check-in <= check-out.
func (b *Booking) Validate() error {
	if b.CheckInDate.IsZero() || b.CheckOutDate.IsZero() {
		return errors.Wrap(ErrInvalidDate, "check-in and check-out are required")
	}
	if b.CheckInDate.After(b.CheckOutDate) {
		return ErrInvalidDates
	}
	if b.CancellationDate != nil && b.CancellationDate.After(b.CheckInDate) {
		return ErrInvalidDates
	}
	return nil
}

// IsEligible reports whether the stay has not concluded yet. Dates are compared
// at day granularity in the check-out's own location.
func (b *Booking) IsEligible(today time.Time) bool {
	out := b.CheckOutDate
	y1, m1, d1 := out.Date()
	y2, m2, d2 := today.In(out.Location()).Date()
	return !time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC).Before(time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC))
}

func (b *Booking) HasPriceDrop() bool {
	return b.FetchedPrice != nil && *b.FetchedPrice < b.OriginalPrice
}

func (b *Booking) PriceDifference() float64 {
	if b.FetchedPrice == nil {
		return 0
	}
	return b.OriginalPrice - *b.FetchedPrice
}

// Rebook folds the current comparison price into the committed price and
// closes the alert.
func (b *Booking) Rebook(now time.Time) error {
	if b.FetchedPrice == nil {
		return ErrNoComparisonPrice
	}
	b.OriginalPrice = *b.FetchedPrice
	b.FetchedPrice = nil
	b.FetchError = ""
	b.UpdatedAt = now
	return nil
}

// PriceUpdate is the only mutation the refresh pipeline performs on a booking.
type PriceUpdate struct {
	FetchedPrice *float64
	Error        string
	CheckedAt    time.Time
}

type PriceObservation struct {
	URL        string    `json:"url"`
	Price      float64   `json:"price"`
	Currency   string    `json:"currency"`
	Strategy   string    `json:"strategy"`
	ObservedAt time.Time `json:"observed_at"`
}
