// Package textnorm folds noisy free text (titles, venues, addresses) into
// comparable forms.
package textnorm

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/gosimple/slug"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	tagPattern = regexp.MustCompile(`<[^>]*>`)

	stopwords = map[string]struct{}{
		"a": {}, "an": {}, "and": {}, "the": {}, "of": {}, "at": {},
		"in": {}, "on": {}, "with": {}, "for": {}, "to": {}, "by": {},
	}

	venueWords = map[string]string{
		"theatre": "theater",
		"centre":  "center",
		"ctr":     "center",
		"bldg":    "building",
	}

	addressWords = map[string]string{
		"street":    "st",
		"avenue":    "ave",
		"av":        "ave",
		"road":      "rd",
		"boulevard": "blvd",
		"drive":     "dr",
		"lane":      "ln",
		"place":     "pl",
		"suite":     "ste",
		"west":      "w",
		"east":      "e",
		"north":     "n",
		"south":     "s",
	}
)

// Fold lowercases s, strips diacritics and punctuation, and collapses whitespace.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, out)
	return strings.Join(strings.Fields(out), " ")
}

// Tokens returns the folded words of s without stopwords.
func Tokens(s string) []string {
	words := strings.Fields(Fold(s))
	out := words[:0]
	for _, w := range words {
		if _, stop := stopwords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Venue canonicalizes a venue name: folded, spelling variants unified, and a
// leading article dropped.
func Venue(s string) string {
	words := strings.Fields(Fold(s))
	if len(words) > 1 && words[0] == "the" {
		words = words[1:]
	}
	return strings.Join(substitute(words, venueWords), " ")
}

// VenueSlug returns a URL-safe key for a venue.
func VenueSlug(s string) string {
	v := Venue(s)
	if v == "" {
		return ""
	}
	return slug.Make(v)
}

// Address canonicalizes a street address with common abbreviations.
func Address(s string) string {
	return strings.Join(substitute(strings.Fields(Fold(s)), addressWords), " ")
}

// StripHTML removes markup and entities and collapses whitespace.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// CleanSpace trims and collapses internal whitespace.
func CleanSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func substitute(words []string, table map[string]string) []string {
	for i, w := range words {
		if r, ok := table[w]; ok {
			words[i] = r
		}
	}
	return words
}
