package store

import (
	"context"
	"stay-hunter/pkg/models"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

// QueryClient is satisfied by both *supabase.Client and *postgrest.Client.
type QueryClient interface {
	From(table string) *postgrest.QueryBuilder
}

// PostgrestStore talks to the hosted bookings table over PostgREST. The client
// library has no context support, so ctx is only checked before each call.
type PostgrestStore struct {
	client QueryClient
	table  string
	now    func() time.Time
}

func NewPostgrestStore(client QueryClient, table string) *PostgrestStore {
	if table == "" {
		table = "bookings"
	}
	return &PostgrestStore{client: client, table: table, now: time.Now}
}

// NewSupabaseStore connects with the service role key, which bypasses row
// level security for the server-side pipelines.
func NewSupabaseStore(url, serviceKey, table string) (*PostgrestStore, error) {
	client, err := supa.NewClient(url, serviceKey, &supa.ClientOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create supabase client")
	}
	return NewPostgrestStore(client, table), nil
}

func (s *PostgrestStore) ListEligible(ctx context.Context, today time.Time) ([]models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []models.Booking
	_, err := s.client.From(s.table).
		Select("*", "", false).
		Gte("check_out_date", today.AddDate(0, 0, -1).Format("2006-01-02")).
		Order("check_out_date", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list eligible bookings")
	}

	// The server compares in UTC, so the filter above keeps a day of slack
	// and the day-level rule decides.
	eligible := rows[:0]
	for _, b := range rows {
		if b.IsEligible(today) {
			eligible = append(eligible, b)
		}
	}
	return eligible, nil
}

func (s *PostgrestStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []models.Booking
	_, err := s.client.From(s.table).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get booking %s", id)
	}
	return firstRow(rows)
}

func (s *PostgrestStore) FindByEmailID(ctx context.Context, userID, emailID string) (*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := s.client.From(s.table).
		Select("*", "", false).
		Eq("email_id", emailID)
	// Imports without a user leave user_id NULL.
	if userID == "" {
		q = q.Is("user_id", "null")
	} else {
		q = q.Eq("user_id", userID)
	}

	var rows []models.Booking
	_, err := q.Order("created_at", &postgrest.OrderOpts{Ascending: true}).Limit(1, "").ExecuteTo(&rows)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find booking for message %s", emailID)
	}
	return firstRow(rows)
}

func (s *PostgrestStore) Insert(ctx context.Context, b *models.Booking) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	var rows []models.Booking
	_, err := s.client.From(s.table).
		Insert(b, false, "", "representation", "").
		ExecuteTo(&rows)
	if err != nil {
		return errors.Wrap(err, "failed to insert booking")
	}
	stored, err := firstRow(rows)
	if err != nil {
		return err
	}
	*b = *stored
	return nil
}

func (s *PostgrestStore) Update(ctx context.Context, b *models.Booking) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.UpdatedAt = s.now()
	return s.patch(b.ID, b)
}

func (s *PostgrestStore) UpdatePrice(ctx context.Context, id string, u models.PriceUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.patch(id, map[string]any{
		"fetched_price": u.FetchedPrice,
		"fetch_error":   u.Error,
		"last_checked":  u.CheckedAt,
		"updated_at":    s.now(),
	})
}

func (s *PostgrestStore) UpdateLookup(ctx context.Context, id, tripURL, hotelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.patch(id, map[string]any{
		"trip_url":      tripURL,
		"trip_hotel_id": hotelID,
		"updated_at":    s.now(),
	})
}

func (s *PostgrestStore) UpsertByReference(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.BookingReference == "" {
		return nil, ErrMissingReference
	}

	var rows []models.Booking
	_, err := s.client.From(s.table).
		Upsert(newImportRow(b, s.now()), "booking_reference", "representation", "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to upsert booking %s", b.BookingReference)
	}
	return firstRow(rows)
}

func (s *PostgrestStore) patch(id string, value any) error {
	var rows []models.Booking
	_, err := s.client.From(s.table).
		Update(value, "representation", "").
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return errors.Wrapf(err, "failed to update booking %s", id)
	}
	_, err = firstRow(rows)
	return err
}

func firstRow(rows []models.Booking) (*models.Booking, error) {
	if len(rows) == 0 {
		return nil, models.ErrBookingNotFound
	}
	return &rows[0], nil
}
