package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dramcove/catalog-cli/internal/model"
)

const maxBodyBytes = 2 * 1024 * 1024

// DirectClient is the tier-1 strategy: a plain HTTP GET with injected
// cookies. Free and fast; the first thing tried for every domain.
type DirectClient struct {
	client    *http.Client
	userAgent string
}

// DirectOptions configures the tier-1 client.
type DirectOptions struct {
	UserAgent string
	Timeout   time.Duration
}

// NewDirectClient creates a DirectClient with sensible defaults.
func NewDirectClient(opts DirectOptions) *DirectClient {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; CatalogBot/1.0)"
	}
	return &DirectClient{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: opts.UserAgent,
	}
}

func (d *DirectClient) Tier() int    { return model.TierDirect }
func (d *DirectClient) Name() string { return "direct_http" }

// Fetch performs the GET, injecting cookies and capturing any cookies the
// server sets in return.
func (d *DirectClient) Fetch(ctx context.Context, rawURL string, cookies map[string]string) (*RawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "direct_http: create request")
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "direct_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "direct_http: read body")
	}

	observed := make(map[string]string)
	for _, c := range resp.Cookies() {
		observed[c.Name] = c.Value
	}

	return &RawResponse{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Headers:    resp.Header,
		Cookies:    observed,
	}, nil
}
