// Package ingest imports booking confirmations from a user's mailbox into the
// booking table.
package ingest

import (
	"context"
	"fmt"
	"log"
	"stay-hunter/pkg/auth"
	"stay-hunter/pkg/bookingmail"
	"stay-hunter/pkg/clock"
	"stay-hunter/pkg/config"
	"stay-hunter/pkg/lock"
	"stay-hunter/pkg/mail"
	"stay-hunter/pkg/metrics"
	"stay-hunter/pkg/models"
	"stay-hunter/pkg/store"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	DefaultMaxMessages = 20
	DefaultMaxAttempts = 3
)

// ErrReconnect means the mailbox rejected every token we could obtain. The
// user has to grant access again.
var ErrReconnect = errors.New("mail access expired, reconnect your account")

type Request struct {
	AccessToken string
	UserID      string
	// Refresher is asked for a new access token after an auth failure. Nil
	// makes the first auth failure terminal.
	Refresher auth.TokenRefresher
	// Rules may be nil.
	Rules *bookingmail.RuleSet
}

type Ingester struct {
	Store     store.Store
	NewClient mail.ClientFactory
	// Locker is optional.
	Locker lock.Locker
	Clock  clock.Clock
	Sleep  clock.SleepFunc

	MaxMessages    int
	MaxAttempts    int
	Defaults       bookingmail.MatchRule
	UTCOffsetHours int
}

func New(cfg config.IngestConfig, st store.Store, newClient mail.ClientFactory, l lock.Locker) *Ingester {
	return &Ingester{
		Store:       st,
		NewClient:   newClient,
		Locker:      l,
		Clock:       clock.NewRealClock(),
		Sleep:       clock.Sleep,
		MaxMessages: cfg.MaxMessages,
		MaxAttempts: cfg.MaxAttempts,
		Defaults: bookingmail.MatchRule{
			From:            cfg.DefaultFrom,
			SubjectContains: cfg.DefaultSubject,
		},
		UTCOffsetHours: cfg.UTCOffsetHours,
	}
}

// Query builds the provider search for a match rule, filling blanks from the
// defaults.
func (i *Ingester) Query(rules *bookingmail.RuleSet) (from, subject, query string) {
	from, subject = i.Defaults.From, i.Defaults.SubjectContains
	if rules != nil {
		if rules.Match.From != "" {
			from = rules.Match.From
		}
		if rules.Match.SubjectContains != "" {
			subject = rules.Match.SubjectContains
		}
	}
	return from, subject, fmt.Sprintf("from:%s subject:%q", from, subject)
}

// Sync searches the mailbox, parses up to MaxMessages matches one after the
// other and upserts each result by booking reference. A message that cannot
// be fetched, decoded or saved is skipped. Only auth exhaustion or a failed
// search ends the run early.
func (i *Ingester) Sync(ctx context.Context, req Request) (*models.IngestSummary, error) {
	if strings.TrimSpace(req.AccessToken) == "" {
		return nil, errors.Wrap(ErrReconnect, "no access token")
	}
	if i.Locker != nil {
		release, err := i.Locker.Acquire(ctx, lock.EmailSyncKey(req.UserID))
		if err != nil {
			return nil, err
		}
		defer release()
	}

	s, err := i.newSession(ctx, req)
	if err != nil {
		return nil, err
	}

	_, subject, query := i.Query(req.Rules)
	limit := i.MaxMessages
	if limit <= 0 {
		limit = DefaultMaxMessages
	}

	var ids []string
	err = s.do(ctx, func(c mail.Client) error {
		var err error
		ids, err = c.Search(ctx, query, limit)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to search mailbox")
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	log.Printf("[INGEST] %d messages match %s", len(ids), query)

	parser := bookingmail.NewParser(req.Rules, i.Clock, i.UTCOffsetHours)
	summary := &models.IngestSummary{Bookings: []models.Booking{}}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Scanned++

		var msg *mail.Message
		err := s.do(ctx, func(c mail.Client) error {
			var err error
			msg, err = c.Get(ctx, id)
			return err
		})
		if errors.Is(err, ErrReconnect) {
			return summary, err
		}
		if err != nil {
			log.Printf("[INGEST] Skipping message %s: %v", id, err)
			summary.Skipped++
			metrics.MailMessages.WithLabelValues("error").Inc()
			continue
		}

		if !strings.Contains(strings.ToLower(msg.Subject), strings.ToLower(subject)) {
			log.Printf("[INGEST] Skipping message %s: subject %q does not contain %q", id, msg.Subject, subject)
			summary.Skipped++
			metrics.MailMessages.WithLabelValues("subject_mismatch").Inc()
			continue
		}
		body := msg.Body()
		if strings.TrimSpace(body) == "" {
			log.Printf("[INGEST] Skipping message %s: empty body", id)
			summary.Skipped++
			metrics.MailMessages.WithLabelValues("empty").Inc()
			continue
		}

		b := parser.Parse(body, id)
		b.UserID = req.UserID
		i.reusePlaceholder(ctx, &b)
		stored, err := i.Store.UpsertByReference(ctx, &b)
		if err != nil {
			log.Printf("[INGEST] Skipping message %s: failed to save booking %s: %v", id, b.BookingReference, err)
			summary.Skipped++
			metrics.MailMessages.WithLabelValues("store_error").Inc()
			continue
		}

		log.Printf("[INGEST] Imported %s (%s) from message %s", stored.BookingReference, stored.HotelName, id)
		summary.Imported++
		summary.Bookings = append(summary.Bookings, *stored)
		metrics.MailMessages.WithLabelValues("imported").Inc()
	}

	log.Printf("[INGEST] Done: %d scanned, %d imported, %d skipped", summary.Scanned, summary.Imported, summary.Skipped)
	return summary, nil
}

// reusePlaceholder keeps a made-up reference stable across syncs: if the same
// message was imported before, its row is updated instead of a new one added.
func (i *Ingester) reusePlaceholder(ctx context.Context, b *models.Booking) {
	if !bookingmail.IsPlaceholderReference(b.BookingReference) {
		return
	}
	prev, err := i.Store.FindByEmailID(ctx, b.UserID, b.EmailID)
	if err != nil {
		if !errors.Is(err, models.ErrBookingNotFound) {
			log.Printf("[INGEST] failed to look up earlier import of message %s: %v", b.EmailID, err)
		}
		return
	}
	if prev.BookingReference != "" {
		b.BookingReference = prev.BookingReference
	}
}

// session owns the current client and rebuilds it after a token refresh.
type session struct {
	client      mail.Client
	factory     mail.ClientFactory
	refresher   auth.TokenRefresher
	sleep       clock.SleepFunc
	maxAttempts int
}

func (i *Ingester) newSession(ctx context.Context, req Request) (*session, error) {
	client, err := i.NewClient(ctx, req.AccessToken)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create mail client")
	}
	refresher := req.Refresher
	if refresher == nil {
		refresher = auth.StaticToken{}
	}
	attempts := i.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	return &session{
		client:      client,
		factory:     i.NewClient,
		refresher:   refresher,
		sleep:       i.Sleep,
		maxAttempts: attempts,
	}, nil
}

// do runs op and, while the provider rejects the token, refreshes it, waits
// 2^attempt seconds and tries again, up to maxAttempts retries.
func (s *session) do(ctx context.Context, op func(mail.Client) error) error {
	for attempt := 0; ; attempt++ {
		err := op(s.client)
		if err == nil || !errors.Is(err, mail.ErrAuth) {
			return err
		}
		if attempt >= s.maxAttempts {
			return errors.Wrapf(ErrReconnect, "gave up after %d retries: %v", attempt, err)
		}

		token, rerr := s.refresher.Refresh(ctx)
		if rerr != nil {
			return errors.Wrapf(ErrReconnect, "token refresh failed: %v", rerr)
		}
		metrics.MailAuthRetries.Inc()

		delay := time.Duration(1<<attempt) * time.Second
		log.Printf("[INGEST] Access token rejected, retrying in %s (attempt %d/%d)", delay, attempt+1, s.maxAttempts)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}

		client, err := s.factory(ctx, token)
		if err != nil {
			return errors.Wrap(err, "failed to create mail client")
		}
		s.client = client
	}
}
