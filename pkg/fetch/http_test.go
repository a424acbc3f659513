package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	var gotUA, gotCache string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			gotUA = r.Header.Get("User-Agent")
			gotCache = r.Header.Get("Cache-Control")
			fmt.Fprint(w, `<html><body><span class="price">€120</span></body></html>`)
		case "/error":
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "boom")
		case "/forbidden":
			w.WriteHeader(http.StatusForbidden)
		case "/empty":
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer ts.Close()

	f := NewHTTPFetcher(2*time.Second, 0)
	ctx := context.Background()

	t.Run("success returns body and sends browser headers", func(t *testing.T) {
		body, err := f.Fetch(ctx, ts.URL+"/ok")
		require.NoError(t, err)
		assert.Contains(t, string(body), "€120")
		assert.Equal(t, DesktopUserAgent, gotUA)
		assert.Equal(t, "no-cache", gotCache)
	})

	t.Run("same url can be fetched again", func(t *testing.T) {
		_, err := f.Fetch(ctx, ts.URL+"/ok")
		require.NoError(t, err)
	})

	tests := []struct {
		name      string
		path      string
		kind      Kind
		status    int
		reason    string
		emptyMark bool
	}{
		{name: "server error", path: "/error", kind: KindStatus, status: 500, reason: "HTTP 500"},
		{name: "forbidden", path: "/forbidden", kind: KindStatus, status: 403, reason: "HTTP 403"},
		{name: "empty body", path: "/empty", kind: KindEmptyBody, status: 200, reason: "empty response body", emptyMark: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := f.Fetch(ctx, ts.URL+tt.path)
			require.Error(t, err)
			assert.Nil(t, body)

			var fe *Error
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.kind, fe.Kind)
			assert.Equal(t, tt.status, fe.StatusCode)
			assert.Equal(t, tt.reason, fe.Reason())
			assert.Equal(t, tt.emptyMark, errors.Is(err, ErrEmptyBody))
		})
	}
}

func TestHTTPFetcher_NetworkFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := NewHTTPFetcher(time.Second, 0).Fetch(context.Background(), url)
	require.Error(t, err)

	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindNetwork, fe.Kind)
	assert.Contains(t, fe.Reason(), "network error")
}
