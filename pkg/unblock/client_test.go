package unblock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dramcove/catalog-cli/internal/resilience"
)

func TestClient_Fetch(t *testing.T) {
	var gotReq FetchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fetch", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(FetchResponse{ //nolint:errcheck
			Success:    true,
			StatusCode: 200,
			HTML:       "<html>ok</html>",
			Cookies:    map[string]string{"cf_clearance": "abc"},
			Credits:    5,
		})
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.Fetch(context.Background(), FetchRequest{
		URL:     "https://shop.example.com/p/1",
		Cookies: map[string]string{"age_verified": "true"},
		Render:  true,
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "<html>ok</html>", resp.HTML)
	assert.Equal(t, "abc", resp.Cookies["cf_clearance"])
	assert.Equal(t, 5, resp.Credits)

	assert.Equal(t, "https://shop.example.com/p/1", gotReq.URL)
	assert.True(t, gotReq.Render)
	assert.Equal(t, "true", gotReq.Cookies["age_verified"])
}

func TestClient_Fetch_QuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.Fetch(context.Background(), FetchRequest{URL: "https://x.test/p"})
	require.Error(t, err)

	var qErr *resilience.QuotaError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, "unblock", qErr.Service)
	assert.Equal(t, 30*time.Second, qErr.RetryAfter)
	assert.True(t, resilience.IsTransient(err))
}

func TestClient_Fetch_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream blew up", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.Fetch(context.Background(), FetchRequest{URL: "https://x.test/p"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestClient_Fetch_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := c.Fetch(context.Background(), FetchRequest{URL: "https://x.test/p"})
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "401")
}
