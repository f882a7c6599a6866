package extract

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/dramcove/catalog-cli/pkg/anthropic"
)

const extractSystemPrompt = `You extract structured spirits and wine product data from web page text.
Respond with a single JSON object and nothing else. Use these keys when the
page supports them, omit keys you cannot support:
name, brand, gtin, product_type, abv, vintage, description, country, region,
nose_text, aroma_tags, palate_text, initial_taste, mid_palate, mouthfeel,
palate_tags, finish_text, finish_tags, finish_length,
best_price {amount, currency}, images, ratings [{source, score, scale, url}],
awards [{competition, medal, year}].
Tag fields are arrays of short lowercase strings. Never invent values.`

const defaultModel = "claude-haiku-4-5-20251001"

// maxPromptBytes caps how much page text goes into one extraction call.
const maxPromptBytes = 60000

// AnthropicExtractor implements Client against the Anthropic API. It serves
// as the fallback when no dedicated extraction service is configured.
type AnthropicExtractor struct {
	client anthropic.Client
	model  string
}

// NewAnthropicExtractor creates the fallback extractor. An empty model
// selects the default.
func NewAnthropicExtractor(client anthropic.Client, model string) *AnthropicExtractor {
	if model == "" {
		model = defaultModel
	}
	return &AnthropicExtractor{client: client, model: model}
}

// Extract sends the page text for structured extraction and parses the
// returned JSON object.
func (a *AnthropicExtractor) Extract(ctx context.Context, req Request) (map[string]any, error) {
	content := req.Content
	if len(content) > maxPromptBytes {
		content = content[:maxPromptBytes]
	}

	var b strings.Builder
	b.WriteString("Source URL: ")
	b.WriteString(req.SourceURL)
	if req.ProductTypeHint != "" {
		b.WriteString("\nProduct type hint: ")
		b.WriteString(req.ProductTypeHint)
	}
	b.WriteString("\n\nPage text:\n")
	b.WriteString(content)

	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: 2048,
		System:    anthropic.CachedSystemBlocks(extractSystemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: anthropic call")
	}
	resp.Usage.LogCost(a.model, "extraction")

	text := firstText(resp)
	if text == "" {
		return nil, eris.New("extract: empty model response")
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(stripFences(text)), &fields); err != nil {
		return nil, eris.Wrap(err, "extract: parse model response")
	}
	return fields, nil
}

func firstText(resp *anthropic.MessageResponse) string {
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text
		}
	}
	return ""
}

// stripFences removes a markdown code fence if the model wrapped its JSON
// in one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
