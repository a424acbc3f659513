// Package auth renews the mail provider access token during a sync.
package auth

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

var ErrNoRefresh = errors.New("no refresh token available")

type TokenRefresher interface {
	// Refresh returns a new access token.
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is used when the caller only supplied an access token. Any
// auth failure is then terminal.
type StaticToken struct{}

func (StaticToken) Refresh(context.Context) (string, error) {
	return "", ErrNoRefresh
}

type OAuthRefresher struct {
	config *oauth2.Config

	mu           sync.Mutex
	refreshToken string
}

// NewOAuthRefresher uses Google's token endpoint.
func NewOAuthRefresher(clientID, clientSecret, refreshToken string) *OAuthRefresher {
	return NewOAuthRefresherWithEndpoint(clientID, clientSecret, refreshToken, endpoints.Google)
}

func NewOAuthRefresherWithEndpoint(clientID, clientSecret, refreshToken string, endpoint oauth2.Endpoint) *OAuthRefresher {
	return &OAuthRefresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoint,
		},
		refreshToken: refreshToken,
	}
}

func (r *OAuthRefresher) Refresh(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refreshToken == "" {
		return "", ErrNoRefresh
	}

	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: r.refreshToken}).Token()
	if err != nil {
		return "", errors.Wrap(err, "failed to refresh access token")
	}
	// Providers may rotate the refresh token.
	if tok.RefreshToken != "" {
		r.refreshToken = tok.RefreshToken
	}
	return tok.AccessToken, nil
}

// For picks the refresher for a request: OAuth when a refresh token and
// client credentials are present, StaticToken otherwise.
func For(clientID, clientSecret, refreshToken string) TokenRefresher {
	if refreshToken == "" || clientID == "" {
		return StaticToken{}
	}
	return NewOAuthRefresher(clientID, clientSecret, refreshToken)
}
