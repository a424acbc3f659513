// Package mail reads booking confirmations from the user's mailbox.
package mail

import (
	"context"
	"net/http"
	"stay-hunter/pkg/bookingmail"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrAuth is wrapped into errors caused by a 401 or 403 from the provider,
// which a token refresh may cure.
var ErrAuth = errors.New("mail provider rejected the access token")

type Message struct {
	ID       string
	From     string
	Subject  string
	HTMLBody string
	TextBody string
}

// Body prefers the HTML part, which carries the listing anchor.
func (m *Message) Body() string {
	if strings.TrimSpace(m.HTMLBody) != "" {
		return m.HTMLBody
	}
	return m.TextBody
}

type Client interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
	Get(ctx context.Context, id string) (*Message, error)
}

// ClientFactory builds a client for an access token. A sync rebuilds its
// client after every token refresh.
type ClientFactory func(ctx context.Context, accessToken string) (Client, error)

type GmailClient struct {
	svc     *gmail.Service
	timeout time.Duration
}

// NewGmailClient authenticates with accessToken. Extra options, such as an
// endpoint override, are appended.
func NewGmailClient(ctx context.Context, accessToken string, timeout time.Duration, opts ...option.ClientOption) (*GmailClient, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gmail service")
	}
	return &GmailClient{svc: svc, timeout: timeout}, nil
}

// GmailFactory returns a ClientFactory for GmailClient. endpoint may be empty.
func GmailFactory(timeout time.Duration, endpoint string) ClientFactory {
	return func(ctx context.Context, accessToken string) (Client, error) {
		var opts []option.ClientOption
		if endpoint != "" {
			opts = append(opts, option.WithEndpoint(endpoint))
		}
		return NewGmailClient(ctx, accessToken, timeout, opts...)
	}
}

func (c *GmailClient) Search(ctx context.Context, query string, limit int) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.svc.Users.Messages.List("me").Q(query).MaxResults(int64(limit)).Context(ctx).Do()
	if err != nil {
		return nil, classify(err, "search messages")
	}

	ids := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

func (c *GmailClient) Get(ctx context.Context, id string) (*Message, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	m, err := c.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify(err, "get message "+id)
	}

	msg := &Message{ID: m.Id}
	if m.Payload == nil {
		return msg, nil
	}
	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			msg.From = h.Value
		case "subject":
			msg.Subject = h.Value
		}
	}
	if err := collectBodies(m.Payload, msg); err != nil {
		return nil, errors.Wrapf(err, "message %s", id)
	}
	return msg, nil
}

func (c *GmailClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// collectBodies walks a multipart tree and keeps the first text/html and
// text/plain parts. Attachments are skipped.
func collectBodies(p *gmail.MessagePart, msg *Message) error {
	if p.Filename == "" && p.Body != nil && p.Body.Data != "" {
		mime := strings.ToLower(p.MimeType)
		if (mime == "text/html" && msg.HTMLBody == "") || (mime == "text/plain" && msg.TextBody == "") {
			text, err := bookingmail.DecodeBody(p.Body.Data, "base64url")
			if err != nil {
				return err
			}
			if mime == "text/html" {
				msg.HTMLBody = text
			} else {
				msg.TextBody = text
			}
		}
	}
	for _, child := range p.Parts {
		if err := collectBodies(child, msg); err != nil {
			return err
		}
	}
	return nil
}

func classify(err error, op string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden) {
		return errors.Wrapf(ErrAuth, "%s: HTTP %d", op, gerr.Code)
	}
	return errors.Wrap(err, op)
}
