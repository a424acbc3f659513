package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"stay-hunter/pkg/api"
	"stay-hunter/pkg/bookingmail"
	"stay-hunter/pkg/ingest"
	"stay-hunter/pkg/lock"
	"stay-hunter/pkg/lookup"
	"stay-hunter/pkg/metrics"
	"stay-hunter/pkg/models"
	"stay-hunter/pkg/refresh"
	"stay-hunter/pkg/scheduler"
	"strings"
	"time"

	scalargo "github.com/bdpiprava/scalar-go"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func newRouter(a *app) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", a.docsHandler)

	r.Post("/price-refresh", a.priceRefreshHandler)
	r.Post("/email-sync", a.emailSyncHandler)
	r.Post("/cron/refresh-prices", a.cronHandler)

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", a.createBookingHandler)
		r.Get("/{id}", a.getBookingHandler)
		r.Patch("/{id}", a.updateBookingHandler)
		r.Post("/{id}/rebook", a.rebookHandler)
	})

	return r
}

func (a *app) docsHandler(w http.ResponseWriter, r *http.Request) {
	html, err := scalargo.NewV2(
		scalargo.WithSpecDir(a.cfg.Server.SpecDir),
		scalargo.WithMetaDataOpts(
			scalargo.WithTitle("Stay Hunter API"),
		),
	)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

type refreshRequest struct {
	Mode      string `json:"mode"`
	BookingID string `json:"booking_id"`
}

func (a *app) priceRefreshHandler(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteBadRequest(w, "Invalid JSON body.", r.URL.Path)
		return
	}
	if req.Mode == "" {
		req.Mode = "all"
	}

	scheduled := scheduler.IsScheduled(r, a.cfg.Scheduler.Secret)
	log.Printf("[REFRESH] mode=%s scheduled=%t", req.Mode, scheduled)

	switch req.Mode {
	case "single":
		if req.BookingID == "" {
			api.WriteBadRequest(w, "booking_id is required for mode single", r.URL.Path)
			return
		}
		metrics.RefreshRuns.WithLabelValues(req.Mode).Inc()
		o, err := a.refresher.RefreshOne(r.Context(), req.BookingID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{
			"success": o.OK(),
			"message": outcomeMessage(o),
			"result":  o,
		})

	case "all":
		metrics.RefreshRuns.WithLabelValues(req.Mode).Inc()
		summary, err := a.refresher.RefreshAll(r.Context())
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"message":   fmt.Sprintf("Refreshed %d of %d bookings, %d failed", summary.Successful, summary.Total, summary.Failed),
			"summary":   summary,
			"errors":    summary.Errors,
			"scheduled": scheduled,
		})

	case "test":
		metrics.RefreshRuns.WithLabelValues(req.Mode).Inc()
		o, err := a.refresher.SelfTest(r.Context())
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{
			"success": o.OK(),
			"message": outcomeMessage(o),
			"result":  o,
		})

	default:
		api.WriteBadRequest(w, fmt.Sprintf("Unknown mode %q. Available: single, all, test", req.Mode), r.URL.Path)
	}
}

func outcomeMessage(o refresh.Outcome) string {
	if o.OK() {
		return "Price updated"
	}
	return "Price check failed"
}

type emailSyncRequest struct {
	AccessToken  string                  `json:"access_token"`
	RefreshToken string                  `json:"refresh_token"`
	UserID       string                  `json:"user_id"`
	Rules        *bookingmail.RawRuleSet `json:"rules"`
}

func (a *app) emailSyncHandler(w http.ResponseWriter, r *http.Request) {
	var req emailSyncRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteBadRequest(w, "Invalid JSON body.", r.URL.Path)
		return
	}
	if req.AccessToken == "" {
		req.AccessToken = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if req.UserID == "" {
		api.WriteBadRequest(w, "user_id is required", r.URL.Path)
		return
	}

	var rules *bookingmail.RuleSet
	if req.Rules != nil {
		var err error
		rules, err = bookingmail.CompileRuleSet(*req.Rules)
		if err != nil {
			api.WriteBadRequest(w, err.Error(), r.URL.Path)
			return
		}
	}

	summary, err := a.ingester.Sync(r.Context(), ingest.Request{
		AccessToken: req.AccessToken,
		UserID:      req.UserID,
		Refresher:   a.refresherFor(req.RefreshToken),
		Rules:       rules,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("Imported %d bookings from %d emails", summary.Imported, summary.Scanned),
		"bookings": summary.Bookings,
		"summary":  summary,
	})
}

func (a *app) cronHandler(w http.ResponseWriter, r *http.Request) {
	body, err := a.trigger.Run(r.Context())
	if err != nil {
		log.Printf("[SCHEDULER] %v", err)
		api.WriteError(w, http.StatusBadGateway, "Bad Gateway", err.Error(), r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

type bookingInput struct {
	UserID           *string  `json:"user_id"`
	BookingReference *string  `json:"booking_reference"`
	HotelName        *string  `json:"hotel_name"`
	HotelURL         *string  `json:"hotel_url"`
	RoomType         *string  `json:"room_type"`
	OriginalPrice    *float64 `json:"original_price"`
	Currency         *string  `json:"currency"`
	Adults           *int     `json:"adults"`
	CheckInDate      *string  `json:"check_in_date"`
	CheckOutDate     *string  `json:"check_out_date"`
	CancellationDate *string  `json:"cancellation_date"`
}

// apply copies the set fields onto b. Changing the listing or the dates
// drops the cached lookup URL so the next refresh derives a new one.
func (in bookingInput) apply(b *models.Booking) error {
	setString(&b.UserID, in.UserID)
	setString(&b.BookingReference, in.BookingReference)
	setString(&b.HotelName, in.HotelName)
	setString(&b.RoomType, in.RoomType)
	setString(&b.Currency, in.Currency)
	if in.OriginalPrice != nil {
		if *in.OriginalPrice < 0 {
			return errors.New("original_price must not be negative")
		}
		b.OriginalPrice = *in.OriginalPrice
	}
	if in.Adults != nil {
		b.Adults = *in.Adults
	}

	stale := false
	if in.HotelURL != nil && *in.HotelURL != b.HotelURL {
		b.HotelURL = *in.HotelURL
		stale = true
	}
	for _, d := range []struct {
		raw *string
		dst *time.Time
	}{
		{in.CheckInDate, &b.CheckInDate},
		{in.CheckOutDate, &b.CheckOutDate},
	} {
		if d.raw == nil {
			continue
		}
		t, err := lookup.ParseDate(*d.raw)
		if err != nil {
			return err
		}
		*d.dst = t
		stale = true
	}
	if in.CancellationDate != nil {
		if *in.CancellationDate == "" {
			b.CancellationDate = nil
		} else {
			t, err := lookup.ParseDate(*in.CancellationDate)
			if err != nil {
				return err
			}
			b.CancellationDate = &t
		}
	}

	if stale {
		b.TripURL, b.TripHotelID = "", ""
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

type bookingView struct {
	models.Booking
	PriceDrop       bool    `json:"price_drop"`
	PriceDifference float64 `json:"price_difference"`
}

func viewOf(b *models.Booking) bookingView {
	return bookingView{Booking: *b, PriceDrop: b.HasPriceDrop(), PriceDifference: b.PriceDifference()}
}

func (a *app) createBookingHandler(w http.ResponseWriter, r *http.Request) {
	var in bookingInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.WriteBadRequest(w, "Invalid JSON body.", r.URL.Path)
		return
	}

	b := &models.Booking{Source: models.SourceManual, Currency: "EUR"}
	if err := in.apply(b); err != nil {
		api.WriteBadRequest(w, err.Error(), r.URL.Path)
		return
	}
	if b.HotelName == "" {
		api.WriteBadRequest(w, "hotel_name is required", r.URL.Path)
		return
	}
	if err := b.Validate(); err != nil {
		api.WriteBadRequest(w, err.Error(), r.URL.Path)
		return
	}

	if err := a.store.Insert(r.Context(), b); err != nil {
		writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, viewOf(b))
}

func (a *app) getBookingHandler(w http.ResponseWriter, r *http.Request) {
	b, err := a.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, viewOf(b))
}

func (a *app) updateBookingHandler(w http.ResponseWriter, r *http.Request) {
	b, err := a.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var in bookingInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.WriteBadRequest(w, "Invalid JSON body.", r.URL.Path)
		return
	}
	if err := in.apply(b); err != nil {
		api.WriteBadRequest(w, err.Error(), r.URL.Path)
		return
	}
	if err := b.Validate(); err != nil {
		api.WriteBadRequest(w, err.Error(), r.URL.Path)
		return
	}

	if err := a.store.Update(r.Context(), b); err != nil {
		writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, viewOf(b))
}

func (a *app) rebookHandler(w http.ResponseWriter, r *http.Request) {
	b, err := a.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := b.Rebook(a.clock.Now()); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := a.store.Update(r.Context(), b); err != nil {
		writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, viewOf(b))
}

// writeDomainError maps pipeline and store errors to problem details.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrBookingNotFound):
		api.WriteNotFound(w, "Booking not found", r.URL.Path)
	case errors.Is(err, ingest.ErrReconnect):
		api.WriteUnauthorized(w, err.Error(), r.URL.Path)
	case errors.Is(err, lock.ErrLocked):
		api.WriteConflict(w, "A run is already in progress", r.URL.Path)
	case errors.Is(err, models.ErrNoComparisonPrice):
		api.WriteConflict(w, err.Error(), r.URL.Path)
	case errors.Is(err, models.ErrInvalidDates), errors.Is(err, models.ErrInvalidDate):
		api.WriteBadRequest(w, err.Error(), r.URL.Path)
	case errors.Is(err, context.DeadlineExceeded):
		api.WriteGatewayTimeout(w, "Upstream service timed out: "+err.Error(), r.URL.Path)
	default:
		log.Printf("Error handling %s: %v", r.URL.Path, err)
		api.WriteInternalServerError(w, err, r.URL.Path)
	}
}
