package store

import (
	"context"
	"database/sql"
	"log"
	"stay-hunter/pkg/models"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps bookings in a local sqlite file. Timestamps are stored as
// RFC 3339 text so the booking's own offset survives a round trip.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

const bookingColumns = `id, user_id, booking_reference, hotel_name, hotel_url, room_type,
	original_price, fetched_price, currency, adults, check_in_date, check_out_date,
	cancellation_date, source, imported_from_gmail, import_timestamp, email_id,
	trip_url, trip_hotel_id, last_checked, fetch_error, created_at, updated_at`

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS bookings (
			id TEXT NOT NULL PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			booking_reference TEXT UNIQUE,
			hotel_name TEXT NOT NULL,
			hotel_url TEXT NOT NULL DEFAULT '',
			room_type TEXT NOT NULL DEFAULT '',
			original_price REAL NOT NULL,
			fetched_price REAL,
			currency TEXT NOT NULL,
			adults INTEGER NOT NULL DEFAULT 0,
			check_in_date TEXT NOT NULL,
			check_out_date TEXT NOT NULL,
			cancellation_date TEXT,
			source TEXT NOT NULL,
			imported_from_gmail INTEGER NOT NULL DEFAULT 0,
			import_timestamp TEXT,
			email_id TEXT NOT NULL DEFAULT '',
			trip_url TEXT NOT NULL DEFAULT '',
			trip_hotel_id TEXT NOT NULL DEFAULT '',
			last_checked TEXT,
			fetch_error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ListEligible filters in Go because eligibility is a calendar-day comparison
// in each booking's own offset, which sqlite's date functions would flatten
// to UTC.
func (s *SQLiteStore) ListEligible(ctx context.Context, today time.Time) ([]models.Booking, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings ORDER BY check_out_date`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list bookings")
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		if b.IsEligible(today) {
			bookings = append(bookings, *b)
		}
	}
	return bookings, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrBookingNotFound
	}
	return b, err
}

func (s *SQLiteStore) FindByEmailID(ctx context.Context, userID, emailID string) (*models.Booking, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE user_id = ? AND email_id = ? ORDER BY created_at LIMIT 1`,
		userID, emailID)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrBookingNotFound
	}
	return b, err
}

func (s *SQLiteStore) Insert(ctx context.Context, b *models.Booking) error {
	now := s.now()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bookings (`+bookingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bookingArgs(b)...,
	)
	return errors.Wrap(err, "failed to insert booking")
}

func (s *SQLiteStore) Update(ctx context.Context, b *models.Booking) error {
	b.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET user_id = ?, booking_reference = ?, hotel_name = ?, hotel_url = ?,
			room_type = ?, original_price = ?, fetched_price = ?, currency = ?, adults = ?,
			check_in_date = ?, check_out_date = ?, cancellation_date = ?, source = ?,
			imported_from_gmail = ?, import_timestamp = ?, email_id = ?, trip_url = ?,
			trip_hotel_id = ?, last_checked = ?, fetch_error = ?, updated_at = ?
		 WHERE id = ?`,
		b.UserID, nullString(b.BookingReference), b.HotelName, b.HotelURL,
		b.RoomType, b.OriginalPrice, b.FetchedPrice, b.Currency, b.Adults,
		formatTime(b.CheckInDate), formatTime(b.CheckOutDate), formatTimePtr(b.CancellationDate), b.Source,
		b.ImportedFromMail, formatTimePtr(b.ImportTimestamp), b.EmailID, b.TripURL,
		b.TripHotelID, formatTimePtr(b.LastChecked), b.FetchError, formatTime(b.UpdatedAt),
		b.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update booking")
	}
	return requireOne(res)
}

func (s *SQLiteStore) UpdatePrice(ctx context.Context, id string, u models.PriceUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET fetched_price = ?, fetch_error = ?, last_checked = ?, updated_at = ? WHERE id = ?`,
		u.FetchedPrice, u.Error, formatTime(u.CheckedAt), formatTime(s.now()), id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update price of booking %s", id)
	}
	return requireOne(res)
}

func (s *SQLiteStore) UpdateLookup(ctx context.Context, id, tripURL, hotelID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET trip_url = ?, trip_hotel_id = ?, updated_at = ? WHERE id = ?`,
		tripURL, hotelID, formatTime(s.now()), id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update lookup of booking %s", id)
	}
	return requireOne(res)
}

func (s *SQLiteStore) UpsertByReference(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	if b.BookingReference == "" {
		return nil, ErrMissingReference
	}
	now := s.now()
	r := newImportRow(b, now)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bookings (id, user_id, booking_reference, hotel_name, hotel_url, room_type,
			original_price, currency, check_in_date, check_out_date, cancellation_date, source,
			imported_from_gmail, import_timestamp, email_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(booking_reference)
		 DO UPDATE SET user_id = excluded.user_id, hotel_name = excluded.hotel_name,
		 	hotel_url = excluded.hotel_url, room_type = excluded.room_type,
		 	original_price = excluded.original_price, currency = excluded.currency,
		 	check_in_date = excluded.check_in_date, check_out_date = excluded.check_out_date,
		 	cancellation_date = excluded.cancellation_date, source = excluded.source,
		 	imported_from_gmail = excluded.imported_from_gmail,
		 	import_timestamp = excluded.import_timestamp, email_id = excluded.email_id,
		 	updated_at = excluded.updated_at`,
		uuid.NewString(), r.UserID, r.BookingReference, r.HotelName, r.HotelURL, r.RoomType,
		r.OriginalPrice, r.Currency, formatTime(r.CheckInDate), formatTime(r.CheckOutDate),
		formatTimePtr(r.CancellationDate), r.Source, r.ImportedFromMail,
		formatTimePtr(r.ImportTimestamp), r.EmailID, formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to upsert booking %s", b.BookingReference)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE booking_reference = ?`, b.BookingReference)
	return scanBooking(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(row scanner) (*models.Booking, error) {
	var (
		b                                       models.Booking
		ref                                     sql.NullString
		fetched                                 sql.NullFloat64
		checkIn, checkOut, createdAt, updatedAt string
		cancellation, imported, lastChecked     sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.UserID, &ref, &b.HotelName, &b.HotelURL, &b.RoomType,
		&b.OriginalPrice, &fetched, &b.Currency, &b.Adults, &checkIn, &checkOut,
		&cancellation, &b.Source, &b.ImportedFromMail, &imported, &b.EmailID,
		&b.TripURL, &b.TripHotelID, &lastChecked, &b.FetchError, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.BookingReference = ref.String
	if fetched.Valid {
		v := fetched.Float64
		b.FetchedPrice = &v
	}
	b.CheckInDate = parseTime(checkIn)
	b.CheckOutDate = parseTime(checkOut)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	b.CancellationDate = parseTimePtr(cancellation)
	b.ImportTimestamp = parseTimePtr(imported)
	b.LastChecked = parseTimePtr(lastChecked)
	return &b, nil
}

func bookingArgs(b *models.Booking) []any {
	return []any{
		b.ID, b.UserID, nullString(b.BookingReference), b.HotelName, b.HotelURL, b.RoomType,
		b.OriginalPrice, b.FetchedPrice, b.Currency, b.Adults,
		formatTime(b.CheckInDate), formatTime(b.CheckOutDate), formatTimePtr(b.CancellationDate),
		b.Source, b.ImportedFromMail, formatTimePtr(b.ImportTimestamp), b.EmailID,
		b.TripURL, b.TripHotelID, formatTimePtr(b.LastChecked), b.FetchError,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	}
}

func requireOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrBookingNotFound
	}
	return nil
}

// Manual bookings have no reference; NULL keeps them out of the unique index.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		log.Printf("Store: unreadable timestamp %q: %v", s, err)
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
