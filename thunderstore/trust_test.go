package thunderstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrustedLocator(t *testing.T) {
	tests := []struct {
		locator string
		trusted bool
	}{
		{"https://thunderstore.io/package/download/a/A/1.0.0/", true},
		{"https://gcdn.thunderstore.io/live/repository/packages/a-A-1.0.0.zip", true},
		{"HTTPS://Thunderstore.IO./x", true},
		{"http://thunderstore.io/x", false},
		{"https://evilthunderstore.io/x", false},
		{"https://thunderstore.io.evil.example/x", false},
		{"https://user@thunderstore.io/x", false},
		{"ftp://thunderstore.io/x", false},
		{"", false},
		{"://", false},
	}
	for _, tt := range tests {
		t.Run(tt.locator, func(t *testing.T) {
			assert.Equal(t, tt.trusted, TrustedLocator(tt.locator, DefaultTrustedHosts))
		})
	}
}

func TestRedirectPolicy(t *testing.T) {
	policy := trustedRedirectPolicy(DefaultTrustedHosts)
	request := func(raw string) *http.Request {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return &http.Request{URL: u}
	}
	via := []*http.Request{request("https://thunderstore.io/package/download/a/A/1.0.0/")}

	assert.NoError(t, policy.Apply(request("https://gcdn.thunderstore.io/live/a-A-1.0.0.zip"), via))

	err := policy.Apply(request("https://cdn.evil.example/a-A-1.0.0.zip"), via)
	assert.True(t, errors.Is(err, ErrUntrustedRedirect), "got %v", err)

	err = policy.Apply(request("http://gcdn.thunderstore.io/a-A-1.0.0.zip"), via)
	assert.True(t, errors.Is(err, ErrUntrustedRedirect), "got %v", err)

	long := make([]*http.Request, maxRedirects)
	for i := range long {
		long[i] = via[0]
	}
	assert.Error(t, policy.Apply(request("https://gcdn.thunderstore.io/a.zip"), long))
}

func TestFetchDoesNotFollowUntrustedRedirect(t *testing.T) {
	var elsewhereHits atomic.Int32
	elsewhere := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		elsewhereHits.Add(1)
		_, _ = w.Write([]byte("PK-payload"))
	}))
	defer elsewhere.Close()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, elsewhere.URL+"/file.zip", http.StatusFound)
	}))
	defer origin.Close()

	payload, err := newTestClient(t, origin.URL).Fetch(context.Background(), origin.URL+"/package/download/a/A/1.0.0/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrUntrustedRedirect.Error())
	assert.Nil(t, payload)
	assert.Equal(t, int32(0), elsewhereHits.Load())
}
