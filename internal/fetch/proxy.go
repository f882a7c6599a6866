package fetch

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/dramcove/catalog-cli/internal/model"
	"github.com/dramcove/catalog-cli/pkg/unblock"
)

// ProxyClient is the tier-3 strategy: a remote anti-bot proxy fetch. The
// most expensive tier, only reached when direct and rendered fetches fail.
type ProxyClient struct {
	client unblock.Client
}

// NewProxyClient wraps an unblock API client as a tier client.
func NewProxyClient(client unblock.Client) *ProxyClient {
	return &ProxyClient{client: client}
}

func (p *ProxyClient) Tier() int    { return model.TierProxy }
func (p *ProxyClient) Name() string { return "proxy" }

// Fetch delegates to the proxy API with cookies forwarded.
func (p *ProxyClient) Fetch(ctx context.Context, rawURL string, cookies map[string]string) (*RawResponse, error) {
	resp, err := p.client.Fetch(ctx, unblock.FetchRequest{
		URL:     rawURL,
		Cookies: cookies,
		Render:  true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "proxy: fetch")
	}
	return &RawResponse{
		StatusCode: resp.StatusCode,
		Body:       resp.HTML,
		Cookies:    resp.Cookies,
	}, nil
}
