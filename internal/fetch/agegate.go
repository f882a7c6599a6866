package fetch

import (
	_ "embed"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed agegate.yaml
var agegateYAML []byte

// AgeGateRules holds the detection heuristics and bypass defaults for age
// interstitials. Either signal alone (short body, phrase match) marks a
// response as gated.
type AgeGateRules struct {
	MinContentBytes    int               `yaml:"min_content_bytes"`
	DetectPhrases      []string          `yaml:"detect_phrases"`
	AffirmationPhrases []string          `yaml:"affirmation_phrases"`
	DefaultCookies     map[string]string `yaml:"default_cookies"`
}

// DefaultAgeGateRules parses the embedded rule set.
func DefaultAgeGateRules() (*AgeGateRules, error) {
	var r AgeGateRules
	if err := yaml.Unmarshal(agegateYAML, &r); err != nil {
		return nil, eris.Wrap(err, "agegate: unmarshal rules")
	}
	if r.MinContentBytes <= 0 || len(r.DetectPhrases) == 0 {
		return nil, eris.New("agegate: incomplete rule set")
	}
	return &r, nil
}

// Detect reports whether a successfully fetched body looks age-gated:
// the rendered content is shorter than the minimum threshold, or it matches
// any detection phrase.
func (r *AgeGateRules) Detect(body string) bool {
	trimmed := strings.TrimSpace(body)
	if len(trimmed) < r.MinContentBytes {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, p := range r.DetectPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// BypassCookies returns the cookies to inject for a gated domain: the
// profile's domain-specific set when present, else the global defaults.
func (r *AgeGateRules) BypassCookies(domainCookies map[string]string) map[string]string {
	if len(domainCookies) > 0 {
		return domainCookies
	}
	return r.DefaultCookies
}
