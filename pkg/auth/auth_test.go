package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestOAuthRefresher(t *testing.T) {
	var grants []url.Values
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		grants = append(grants, form)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"fresh-token","token_type":"Bearer","expires_in":3600,"refresh_token":"rotated"}`)
	}))
	defer ts.Close()

	r := NewOAuthRefresherWithEndpoint("client", "secret", "initial",
		oauth2.Endpoint{TokenURL: ts.URL, AuthStyle: oauth2.AuthStyleInParams})

	tok, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", tok)

	_, err = r.Refresh(context.Background())
	require.NoError(t, err)

	require.Len(t, grants, 2)
	assert.Equal(t, "refresh_token", grants[0].Get("grant_type"))
	assert.Equal(t, "initial", grants[0].Get("refresh_token"))
	assert.Equal(t, "rotated", grants[1].Get("refresh_token"), "a rotated refresh token is used next time")
}

func TestOAuthRefresherRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"invalid_grant"}`)
	}))
	defer ts.Close()

	r := NewOAuthRefresherWithEndpoint("client", "secret", "revoked",
		oauth2.Endpoint{TokenURL: ts.URL, AuthStyle: oauth2.AuthStyleInParams})

	_, err := r.Refresh(context.Background())
	assert.Error(t, err)
}

func TestFor(t *testing.T) {
	_, err := For("client", "secret", "").Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoRefresh)

	_, ok := For("client", "secret", "refresh").(*OAuthRefresher)
	assert.True(t, ok)

	_, err = StaticToken{}.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoRefresh)
}
