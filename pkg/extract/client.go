// Package extract is a client for the extraction collaborator: a service
// that turns page text into loosely-typed product fields. The response is
// deliberately untyped; the normalizer owns all validation and coercion.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dramcove/catalog-cli/internal/resilience"
)

const defaultBaseURL = "http://localhost:8091/v1"

// Client defines the extraction collaborator operations.
type Client interface {
	Extract(ctx context.Context, req Request) (map[string]any, error)
}

// Request is the body for POST /extract.
type Request struct {
	Content         string `json:"content"`
	SourceURL       string `json:"source_url"`
	ProductTypeHint string `json:"product_type_hint,omitempty"`
}

// APIError is returned when the collaborator responds with a non-2xx
// status. Callers treat it as recoverable: the URL is abandoned for this
// pass, nothing else fails.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("extract: HTTP %d: %s", e.StatusCode, e.Body)
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

// NewClient creates an extraction collaborator client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Extract(ctx context.Context, ereq Request) (map[string]any, error) {
	buf, err := json.Marshal(ereq)
	if err != nil {
		return nil, eris.Wrap(err, "extract: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "extract: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "extract: execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "extract: read response")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &resilience.QuotaError{Service: "extract"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, eris.Wrap(err, "extract: unmarshal response")
	}
	return fields, nil
}
