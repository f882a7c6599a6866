package model

import (
	_ "embed"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed vocab.yaml
var vocabYAML []byte

// VocabEntry maps a canonical product type key to its known aliases.
type VocabEntry struct {
	Key     string   `yaml:"key"`
	Aliases []string `yaml:"aliases"`
}

// Vocab normalizes free-form classification strings against a fixed
// vocabulary. Unknown values map to the generic fallback rather than being
// rejected.
type Vocab struct {
	Fallback string       `yaml:"fallback"`
	Types    []VocabEntry `yaml:"types"`

	byAlias map[string]string
}

// LoadVocab parses the embedded product type vocabulary.
func LoadVocab() (*Vocab, error) {
	return ParseVocab(vocabYAML)
}

// ParseVocab parses a vocabulary from YAML, building the alias index.
func ParseVocab(data []byte) (*Vocab, error) {
	var v Vocab
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, eris.Wrap(err, "vocab: unmarshal")
	}
	if v.Fallback == "" {
		return nil, eris.New("vocab: missing fallback type")
	}
	v.byAlias = make(map[string]string)
	for _, t := range v.Types {
		v.byAlias[strings.ToLower(t.Key)] = t.Key
		for _, a := range t.Aliases {
			v.byAlias[strings.ToLower(a)] = t.Key
		}
	}
	return &v, nil
}

// Canonical maps a raw classification string to a canonical type key.
// Exact alias match wins; otherwise the longest alias appearing as a
// substring; otherwise the fallback.
func (v *Vocab) Canonical(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return v.Fallback
	}
	if key, ok := v.byAlias[s]; ok {
		return key
	}
	bestKey := ""
	bestLen := 0
	for alias, key := range v.byAlias {
		if len(alias) > bestLen && strings.Contains(s, alias) {
			bestKey = key
			bestLen = len(alias)
		}
	}
	if bestKey != "" {
		return bestKey
	}
	return v.Fallback
}
