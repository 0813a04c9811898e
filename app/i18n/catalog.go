// Package i18n holds the localized bot texts. Messages live in an embedded
// YAML file keyed by language then message key; a key missing in a language
// falls back to the default language.
package i18n

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Supported languages.
const (
	LangEN = "en"
	LangMY = "my"
)

//go:embed messages.yaml
var messagesYAML []byte

// Catalog resolves message keys per language.
type Catalog struct {
	fallback string
	msgs     map[string]map[string]string
}

// Load parses the embedded catalog with English as the fallback.
func Load() (*Catalog, error) {
	return Parse(messagesYAML, LangEN)
}

// MustLoad is Load for package initialization and tests.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse reads a catalog. The fallback language must be present.
func Parse(data []byte, fallback string) (*Catalog, error) {
	var msgs map[string]map[string]string
	if err := yaml.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("i18n: parse catalog: %w", err)
	}
	if len(msgs[fallback]) == 0 {
		return nil, fmt.Errorf("i18n: fallback language %q has no messages", fallback)
	}
	return &Catalog{fallback: fallback, msgs: msgs}, nil
}

// T returns the message for key in lang formatted with args. Unknown keys
// render as the key itself.
func (c *Catalog) T(lang, key string, args ...any) string {
	msg, ok := c.msgs[lang][key]
	if !ok {
		msg, ok = c.msgs[c.fallback][key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// Supports reports whether lang has a message table.
func (c *Catalog) Supports(lang string) bool {
	_, ok := c.msgs[lang]
	return ok
}

// Langs lists the languages in the catalog, fallback first.
func (c *Catalog) Langs() []string {
	out := make([]string, 0, len(c.msgs))
	for l := range c.msgs {
		if l != c.fallback {
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return append([]string{c.fallback}, out...)
}

// Keys returns the message keys of lang, sorted.
func (c *Catalog) Keys(lang string) []string {
	out := make([]string, 0, len(c.msgs[lang]))
	for k := range c.msgs[lang] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
