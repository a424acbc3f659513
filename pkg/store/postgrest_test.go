package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"stay-hunter/pkg/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supabase-community/postgrest-go"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Prefer string
	Body   map[string]any
}

// fakePostgrest answers every request with the configured status and body and
// records what was asked.
func fakePostgrest(t *testing.T, status int, response string) (*PostgrestStore, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  map[string]string{},
			Prefer: r.Header.Get("Prefer"),
		}
		for k := range r.URL.Query() {
			rec.Query[k] = r.URL.Query().Get(k)
		}
		if body, _ := io.ReadAll(r.Body); len(body) > 0 {
			assert.NoError(t, json.Unmarshal(body, &rec.Body))
		}
		requests = append(requests, rec)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, response)
	}))
	t.Cleanup(ts.Close)

	client := postgrest.NewClient(ts.URL+"/rest/v1", "public", nil)
	s := NewPostgrestStore(client, "bookings")
	s.now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }
	return s, &requests
}

const storedRow = `[{
	"id": "b-1",
	"booking_reference": "4711",
	"hotel_name": "Hotel Sacher",
	"original_price": 420,
	"fetched_price": null,
	"currency": "EUR",
	"check_in_date": "2026-11-03T15:00:00+02:00",
	"check_out_date": "2026-11-05T10:00:00+02:00",
	"source": "gmail",
	"imported_from_gmail": true,
	"created_at": "2026-10-01T08:00:00Z",
	"updated_at": "2026-10-18T12:00:00Z"
}]`

func TestPostgrestListEligible(t *testing.T) {
	s, requests := fakePostgrest(t, http.StatusOK, storedRow)

	got, err := s.ListEligible(context.Background(), time.Date(2026, 10, 18, 9, 0, 0, 0, plus2))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Hotel Sacher", got[0].HotelName)
	assert.Nil(t, got[0].FetchedPrice)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/rest/v1/bookings", req.Path)
	assert.Equal(t, "gte.2026-10-17", req.Query["check_out_date"])
	assert.Equal(t, "*", req.Query["select"])
}

func TestPostgrestListEligibleAroundMidnight(t *testing.T) {
	// 01:00 local on check-out day is still the previous day in UTC.
	s, _ := fakePostgrest(t, http.StatusOK, `[
		{"id": "today", "hotel_name": "Early", "check_in_date": "2026-10-16T15:00:00+02:00",
		 "check_out_date": "2026-10-18T01:00:00+02:00", "currency": "EUR"},
		{"id": "yesterday", "hotel_name": "Gone", "check_in_date": "2026-10-15T15:00:00+02:00",
		 "check_out_date": "2026-10-17T10:00:00+02:00", "currency": "EUR"}
	]`)

	got, err := s.ListEligible(context.Background(), time.Date(2026, 10, 18, 9, 0, 0, 0, plus2))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "today", got[0].ID)
}

func TestPostgrestFindByEmailID(t *testing.T) {
	s, requests := fakePostgrest(t, http.StatusOK, storedRow)

	got, err := s.FindByEmailID(context.Background(), "user-1", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "4711", got.BookingReference)

	req := (*requests)[0]
	assert.Equal(t, "eq.msg-1", req.Query["email_id"])
	assert.Equal(t, "eq.user-1", req.Query["user_id"])
	assert.Equal(t, "1", req.Query["limit"])

	_, err = s.FindByEmailID(context.Background(), "", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "is.null", (*requests)[1].Query["user_id"])
}

func TestPostgrestFindByEmailIDMissing(t *testing.T) {
	s, _ := fakePostgrest(t, http.StatusOK, `[]`)

	_, err := s.FindByEmailID(context.Background(), "user-1", "msg-1")
	assert.ErrorIs(t, err, models.ErrBookingNotFound)
}

func TestPostgrestUpdatePrice(t *testing.T) {
	s, requests := fakePostgrest(t, http.StatusOK, storedRow)

	checked := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	err := s.UpdatePrice(context.Background(), "b-1", models.PriceUpdate{Error: "HTTP 500", CheckedAt: checked})
	require.NoError(t, err)

	req := (*requests)[0]
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "eq.b-1", req.Query["id"])
	assert.Contains(t, req.Body, "fetched_price")
	assert.Nil(t, req.Body["fetched_price"], "a failed refresh must write null")
	assert.Equal(t, "HTTP 500", req.Body["fetch_error"])
}

func TestPostgrestUpdateMissingRow(t *testing.T) {
	s, _ := fakePostgrest(t, http.StatusOK, `[]`)

	err := s.UpdateLookup(context.Background(), "missing", "https://www.trip.com/hotels/detail/?hotelId=1", "1")
	assert.ErrorIs(t, err, models.ErrBookingNotFound)
}

func TestPostgrestUpsertByReference(t *testing.T) {
	s, requests := fakePostgrest(t, http.StatusCreated, storedRow)

	b := testBooking("4711", time.Date(2026, 11, 5, 10, 0, 0, 0, plus2))
	b.ID = "ignored"
	got, err := s.UpsertByReference(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, "b-1", got.ID)

	req := (*requests)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "booking_reference", req.Query["on_conflict"])
	assert.Contains(t, req.Prefer, "resolution=merge-duplicates")
	assert.NotContains(t, req.Body, "id", "the row id must never be overwritten")
	assert.NotContains(t, req.Body, "fetched_price")
	assert.Equal(t, "4711", req.Body["booking_reference"])
}

func TestPostgrestError(t *testing.T) {
	s, _ := fakePostgrest(t, http.StatusBadRequest, `{"code":"PGRST100","message":"bad filter"}`)

	_, err := s.Get(context.Background(), "b-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad filter")
}

func TestPostgrestCanceledContext(t *testing.T) {
	s, requests := fakePostgrest(t, http.StatusOK, storedRow)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ListEligible(ctx, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, *requests)
}
