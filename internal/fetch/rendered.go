package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"

	"github.com/dramcove/catalog-cli/internal/model"
)

// RenderedClient is the tier-2 strategy: a headless browser that executes
// page scripts. When the rendered page exposes an affirmative age-gate
// control matching one of the configured phrases, the first match is clicked
// and the content re-read.
type RenderedClient struct {
	allocOpts    []chromedp.ExecAllocatorOption
	timeout      time.Duration
	affirmations []string
}

// RenderedOptions configures the tier-2 client.
type RenderedOptions struct {
	Timeout time.Duration
	// AffirmationPhrases are lowercase control labels to search for, e.g.
	// "enter", "yes", "i am 21".
	AffirmationPhrases []string
	UserAgent          string
}

// NewRenderedClient creates a chromedp-backed rendering client.
func NewRenderedClient(opts RenderedOptions) *RenderedClient {
	if opts.Timeout == 0 {
		opts.Timeout = 45 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = `Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36`
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(opts.UserAgent),
	)
	return &RenderedClient{
		allocOpts:    allocOpts,
		timeout:      opts.Timeout,
		affirmations: opts.AffirmationPhrases,
	}
}

func (r *RenderedClient) Tier() int    { return model.TierRendered }
func (r *RenderedClient) Name() string { return "rendered" }

// Fetch navigates to the URL with cookies pre-set, renders the page, clicks
// an affirmative control if one matches, and returns the final HTML.
func (r *RenderedClient) Fetch(ctx context.Context, rawURL string, cookies map[string]string) (*RawResponse, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "rendered: parse url")
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, r.allocOpts...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, r.timeout)
	defer cancelTimeout()

	// Capture the main document's HTTP status from network events.
	var statusCode int64
	chromedp.ListenTarget(taskCtx, func(ev any) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			if resp.Type == network.ResourceTypeDocument && statusCode == 0 {
				statusCode = resp.Response.Status
			}
		}
	})

	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		setCookiesAction(u.Hostname(), cookies),
		chromedp.Navigate(rawURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return nil, eris.Wrap(err, "rendered: navigate")
	}

	if len(r.affirmations) > 0 {
		clicked := false
		if err := chromedp.Run(taskCtx, chromedp.Evaluate(r.clickScript(), &clicked)); err == nil && clicked {
			// Give the page a moment to swap in the real content.
			_ = chromedp.Run(taskCtx,
				chromedp.Sleep(time.Second),
				chromedp.OuterHTML("html", &html, chromedp.ByQuery),
			)
		}
	}

	observed, err := collectCookies(taskCtx)
	if err != nil {
		observed = nil
	}

	if statusCode == 0 {
		statusCode = 200
	}

	return &RawResponse{
		StatusCode: int(statusCode),
		Body:       html,
		Cookies:    observed,
	}, nil
}

// clickScript builds a bounded DOM search: scan up to 200 clickable
// elements, click the first whose visible label matches an affirmation
// phrase.
func (r *RenderedClient) clickScript() string {
	phrases, _ := json.Marshal(r.affirmations)
	return fmt.Sprintf(`(function(phrases){
	const els = document.querySelectorAll('button, a, input[type=button], input[type=submit], [role=button]');
	const limit = Math.min(els.length, 200);
	for (let i = 0; i < limit; i++) {
		const el = els[i];
		const text = ((el.innerText || el.value || '') + '').trim().toLowerCase();
		if (!text || text.length > 40) continue;
		for (const p of phrases) {
			if (text === p || text.includes(p)) { el.click(); return true; }
		}
	}
	return false;
})(%s)`, phrases)
}

func setCookiesAction(host string, cookies map[string]string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		for name, value := range cookies {
			if err := network.SetCookie(name, value).WithDomain(host).WithPath("/").Do(ctx); err != nil {
				return eris.Wrapf(err, "rendered: set cookie %s", name)
			}
		}
		return nil
	}
}

func collectCookies(ctx context.Context) (map[string]string, error) {
	var observed map[string]string
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		observed = make(map[string]string, len(cookies))
		for _, c := range cookies {
			observed[c.Name] = c.Value
		}
		return nil
	}))
	return observed, err
}
