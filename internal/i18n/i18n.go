// Package i18n looks up user-facing messages in the language negotiated from
// an Accept-Language header.
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/language"
)

//go:embed locales/*.json
var locales embed.FS

// Translator holds one catalog per supported language. English is the
// fallback for unknown languages and missing keys.
type Translator struct {
	matcher  language.Matcher
	tags     []language.Tag
	catalogs map[language.Tag]map[string]string
}

// New loads the embedded catalogs.
func New() (*Translator, error) {
	entries, err := locales.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}

	t := &Translator{catalogs: make(map[language.Tag]map[string]string)}
	// English first so the matcher falls back to it.
	t.tags = append(t.tags, language.English)

	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		tag, err := language.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("parse locale %q: %w", name, err)
		}
		data, err := locales.ReadFile(path.Join("locales", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read locale %q: %w", name, err)
		}
		catalog := make(map[string]string)
		if err := json.Unmarshal(data, &catalog); err != nil {
			return nil, fmt.Errorf("decode locale %q: %w", name, err)
		}
		t.catalogs[tag] = catalog
		if tag != language.English {
			t.tags = append(t.tags, tag)
		}
	}
	if _, ok := t.catalogs[language.English]; !ok {
		return nil, fmt.Errorf("missing english catalog")
	}

	t.matcher = language.NewMatcher(t.tags)
	return t, nil
}

// Match returns the supported language closest to acceptLanguage.
func (t *Translator) Match(acceptLanguage string) language.Tag {
	prefs, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(prefs) == 0 {
		return language.English
	}
	_, idx, _ := t.matcher.Match(prefs...)
	return t.tags[idx]
}

// Message translates key for the given Accept-Language header. Unknown keys
// are returned unchanged.
func (t *Translator) Message(acceptLanguage, key string) string {
	tag := t.Match(acceptLanguage)
	if msg, ok := t.catalogs[tag][key]; ok {
		return msg
	}
	if msg, ok := t.catalogs[language.English][key]; ok {
		return msg
	}
	return key
}
