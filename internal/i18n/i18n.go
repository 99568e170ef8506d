// Package i18n resolves user-facing strings for the active locale.
package i18n

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/text/language"
)

const fallback = "en"

// Translator resolves a message key with optional format arguments.
type Translator interface {
	T(key string, args ...any) string
}

// Provider is a Translator bound to a switchable locale.
type Provider struct {
	mu      sync.RWMutex
	tag     language.Tag
	base    string
	matcher language.Matcher
	bases   []string
}

// New creates a provider for the closest supported match of locale.
func New(locale string) *Provider {
	bases := make([]string, 0, len(catalogs))
	for base := range catalogs {
		bases = append(bases, base)
	}
	sort.Slice(bases, func(i, j int) bool {
		// the fallback must be the matcher's first (default) entry
		if bases[i] == fallback || bases[j] == fallback {
			return bases[i] == fallback
		}
		return bases[i] < bases[j]
	})
	tags := make([]language.Tag, len(bases))
	for i, b := range bases {
		tags[i] = language.Make(b)
	}

	p := &Provider{matcher: language.NewMatcher(tags), bases: bases}
	p.SetLocale(locale)
	return p
}

// SetLocale switches the active locale. It accepts BCP 47 tags and
// Accept-Language style lists, and returns the supported tag chosen.
func (p *Provider) SetLocale(locale string) language.Tag {
	_, idx := language.MatchStrings(p.matcher, locale)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.base = p.bases[idx]
	p.tag = language.Make(p.base)
	return p.tag
}

// Locale returns the active tag.
func (p *Provider) Locale() language.Tag {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tag
}

// Supported lists the locales that have a catalog.
func (p *Provider) Supported() []string {
	out := make([]string, len(p.bases))
	copy(out, p.bases)
	return out
}

// T resolves key in the active locale, falling back to English and finally
// to the key itself.
func (p *Provider) T(key string, args ...any) string {
	p.mu.RLock()
	base := p.base
	p.mu.RUnlock()

	tmpl, ok := catalogs[base][key]
	if !ok {
		tmpl, ok = catalogs[fallback][key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

// Strings returns the full catalog for the active locale, English entries
// filling any gaps.
func (p *Provider) Strings() map[string]string {
	p.mu.RLock()
	base := p.base
	p.mu.RUnlock()

	out := make(map[string]string, len(catalogs[fallback]))
	for k, v := range catalogs[fallback] {
		out[k] = v
	}
	for k, v := range catalogs[base] {
		out[k] = v
	}
	return out
}
