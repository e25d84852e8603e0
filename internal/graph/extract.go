package graph

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// extraction is the raw output of the naive extractor: entity mention
// counts and sentence-level co-occurrence weights keyed by sorted name
// pairs.
type extraction struct {
	mentions map[string]int
	cooccur  map[[2]string]int
}

// extract pulls candidate entities out of content. Maximal runs of
// capitalized words inside one sentence become entities, and entities
// sharing a sentence become co-occurrence relations. It is intentionally
// shallow; the graph exists to exercise the pipeline, not to compete
// with a real extractor.
func extract(content string) extraction {
	result := extraction{
		mentions: make(map[string]int),
		cooccur:  make(map[[2]string]int),
	}
	for _, sentence := range splitSentences(content) {
		names := entityNames(sentence)
		if len(names) == 0 {
			continue
		}
		seen := make(map[string]struct{}, len(names))
		for _, name := range names {
			result.mentions[name]++
			seen[name] = struct{}{}
		}
		unique := make([]string, 0, len(seen))
		for name := range seen {
			unique = append(unique, name)
		}
		sort.Strings(unique)
		for i := 0; i < len(unique); i++ {
			for j := i + 1; j < len(unique); j++ {
				result.cooccur[[2]string{unique[i], unique[j]}]++
			}
		}
	}
	return result
}

func splitSentences(content string) []string {
	return strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
}

// entityNames finds maximal runs of capitalized words in one sentence.
func entityNames(sentence string) []string {
	var names []string
	var run []string
	flush := func() {
		if len(run) == 0 {
			return
		}
		name := strings.Join(run, " ")
		run = nil
		if len(name) < 2 {
			return
		}
		if _, stop := stopwords[name]; stop {
			return
		}
		names = append(names, name)
	}
	for _, word := range strings.Fields(sentence) {
		trimmed := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if isCapitalized(trimmed) {
			run = append(run, trimmed)
			continue
		}
		flush()
	}
	flush()
	return names
}

func isCapitalized(word string) bool {
	if utf8.RuneCountInString(word) < 2 {
		return false
	}
	first, _ := utf8.DecodeRuneInString(word)
	return unicode.IsUpper(first)
}

// stopwords suppresses lone sentence-starters that capitalization alone
// would misread as entities.
var stopwords = map[string]struct{}{
	"The": {}, "A": {}, "An": {}, "And": {}, "But": {}, "Or": {},
	"In": {}, "On": {}, "At": {}, "To": {}, "Of": {}, "For": {},
	"With": {}, "From": {}, "By": {}, "As": {}, "It": {}, "Its": {},
	"This": {}, "That": {}, "These": {}, "Those": {}, "Is": {},
	"Are": {}, "Was": {}, "Were": {}, "Be": {}, "Been": {}, "If": {},
	"When": {}, "While": {}, "After": {}, "Before": {}, "However": {},
}

func slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastDash := true
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
