// Package store is the booking table as the pipelines see it: read eligible
// rows, update price and lookup fields by id, and upsert imported bookings by
// their natural booking reference.
package store

import (
	"context"
	"stay-hunter/pkg/models"
	"time"

	"github.com/cockroachdb/errors"
)

var ErrMissingReference = errors.New("booking reference is required for upsert")

type Store interface {
	ListEligible(ctx context.Context, today time.Time) ([]models.Booking, error)
	Get(ctx context.Context, id string) (*models.Booking, error)
	Insert(ctx context.Context, b *models.Booking) error
	Update(ctx context.Context, b *models.Booking) error
	UpdatePrice(ctx context.Context, id string, u models.PriceUpdate) error
	UpdateLookup(ctx context.Context, id, tripURL, hotelID string) error
	// FindByEmailID returns the user's booking imported from the given mail
	// message, or models.ErrBookingNotFound.
	FindByEmailID(ctx context.Context, userID, emailID string) (*models.Booking, error)
	// UpsertByReference inserts b, or replaces the imported fields of the row
	// with the same booking reference, and returns the stored row.
	UpsertByReference(ctx context.Context, b *models.Booking) (*models.Booking, error)
}

// importRow is the column set an email import owns. Price tracking columns
// and the row id are left alone on conflict.
type importRow struct {
	UserID           string     `json:"user_id,omitempty"`
	BookingReference string     `json:"booking_reference"`
	HotelName        string     `json:"hotel_name"`
	HotelURL         string     `json:"hotel_url"`
	RoomType         string     `json:"room_type"`
	OriginalPrice    float64    `json:"original_price"`
	Currency         string     `json:"currency"`
	CheckInDate      time.Time  `json:"check_in_date"`
	CheckOutDate     time.Time  `json:"check_out_date"`
	CancellationDate *time.Time `json:"cancellation_date"`
	Source           string     `json:"source"`
	ImportedFromMail bool       `json:"imported_from_gmail"`
	ImportTimestamp  *time.Time `json:"import_timestamp"`
	EmailID          string     `json:"email_id"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func newImportRow(b *models.Booking, now time.Time) importRow {
	return importRow{
		UserID:           b.UserID,
		BookingReference: b.BookingReference,
		HotelName:        b.HotelName,
		HotelURL:         b.HotelURL,
		RoomType:         b.RoomType,
		OriginalPrice:    b.OriginalPrice,
		Currency:         b.Currency,
		CheckInDate:      b.CheckInDate,
		CheckOutDate:     b.CheckOutDate,
		CancellationDate: b.CancellationDate,
		Source:           b.Source,
		ImportedFromMail: b.ImportedFromMail,
		ImportTimestamp:  b.ImportTimestamp,
		EmailID:          b.EmailID,
		UpdatedAt:        now,
	}
}
