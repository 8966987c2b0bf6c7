package speech

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Locale is a canonical BCP 47 language-region tag such as "en-US".
type Locale string

func ParseLocale(s string) (Locale, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("locale is empty")
	}
	tag, err := language.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse locale %q: %w", s, err)
	}
	return Locale(tag.String()), nil
}

func MustParseLocale(s string) Locale {
	l, err := ParseLocale(s)
	if err != nil {
		panic(err)
	}
	return l
}

func (l Locale) Tag() (language.Tag, error) {
	return language.Parse(string(l))
}

func (l Locale) String() string {
	return string(l)
}
