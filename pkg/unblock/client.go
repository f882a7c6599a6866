// Package unblock is a client for a remote anti-bot proxy fetch API. The
// proxy renders the page from residential infrastructure and returns the
// final HTML, bypassing bot defenses the lower fetch tiers cannot.
package unblock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dramcove/catalog-cli/internal/resilience"
)

const defaultBaseURL = "https://api.unblock.example.com/v1"

// Client defines the proxy fetch API operations.
type Client interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}

// FetchRequest is the body for POST /fetch.
type FetchRequest struct {
	URL         string            `json:"url"`
	Cookies     map[string]string `json:"cookies,omitempty"`
	Render      bool              `json:"render,omitempty"`
	CountryCode string            `json:"country_code,omitempty"`
}

// FetchResponse is the proxy's result for one URL.
type FetchResponse struct {
	Success    bool              `json:"success"`
	StatusCode int               `json:"status_code"`
	HTML       string            `json:"html"`
	Cookies    map[string]string `json:"cookies,omitempty"`
	Credits    int               `json:"credits_used,omitempty"`
}

// APIError is returned when the proxy responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unblock: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates an unblock proxy client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			// Proxy fetches render remotely and can take a while.
			Timeout: 90 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Fetch(ctx context.Context, freq FetchRequest) (*FetchResponse, error) {
	buf, err := json.Marshal(freq)
	if err != nil {
		return nil, eris.Wrap(err, "unblock: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fetch", bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "unblock: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "unblock: execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "unblock: read response")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &resilience.QuotaError{
			Service:    "unblock",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}

	var out FetchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "unblock: unmarshal response")
	}
	return &out, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}
