package transcriber

import (
	"fmt"

	"github.com/foxseedlab/kikitori/internal/speech"
	"golang.org/x/text/language"
)

// Locales answers which configured recognizer locale serves a requested one.
type Locales struct {
	tags    []language.Tag
	matcher language.Matcher
}

func NewLocales(supported []string) (*Locales, error) {
	if len(supported) == 0 {
		return nil, fmt.Errorf("no supported locales configured")
	}
	tags := make([]language.Tag, 0, len(supported))
	for _, s := range supported {
		tag, err := language.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse supported locale %q: %w", s, err)
		}
		tags = append(tags, tag)
	}
	return &Locales{tags: tags, matcher: language.NewMatcher(tags)}, nil
}

// Match returns the supported locale to request from the engine. Matches
// below high confidence count as unsupported.
func (l *Locales) Match(locale speech.Locale) (speech.Locale, bool) {
	tag, err := locale.Tag()
	if err != nil {
		return "", false
	}
	_, idx, confidence := l.matcher.Match(tag)
	if confidence < language.High || idx < 0 || idx >= len(l.tags) {
		return "", false
	}
	return speech.Locale(l.tags[idx].String()), true
}

// Resolve is Match with the taxonomy error for unsupported locales.
func (l *Locales) Resolve(locale speech.Locale) (speech.Locale, error) {
	matched, ok := l.Match(locale)
	if !ok {
		return "", speech.RecognizerUnavailable(locale)
	}
	return matched, nil
}
