// Package moderation censors forbidden words in message bodies before they are published.
package moderation

import (
	"log/slog"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Moderator matches a fixed dictionary against normalized text: lower case, leet digits folded
// to letters, punctuation and spaces ignored. A nil Moderator censors nothing.
type Moderator struct {
	log          *slog.Logger
	matcher      *goahocorasick.Machine
	censoredChar rune
}

// folded is a normalized text and, for each of its runes, the index of the rune it came from.
type folded struct {
	runes  []rune
	origin []int
}

func NewModerator(censoredWords []string, censoredChar rune, log *slog.Logger) (*Moderator, error) {
	patterns := make([][]rune, 0, len(censoredWords))
	for _, word := range censoredWords {
		// words made only of noise would match everywhere
		if f := fold([]rune(word)); len(f.runes) > 0 {
			patterns = append(patterns, f.runes)
		}
	}

	moderator := &Moderator{log: log, censoredChar: censoredChar}
	if len(patterns) == 0 {
		return moderator, nil
	}
	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, err
	}
	moderator.matcher = machine
	return moderator, nil
}

// Censor masks every rune of the original text spanned by a match, noise included, and keeps the rest.
// It returns the dictionary words found in order of appearance.
func (m *Moderator) Censor(body string) (string, []string) {
	if m == nil || m.matcher == nil {
		return body, nil
	}
	original := []rune(body)
	f := fold(original)
	if len(f.runes) == 0 {
		return body, nil
	}

	var found []string
	for _, term := range m.matcher.MultiPatternSearch(f.runes, false) {
		end := term.Pos + len(term.Word)
		if term.Pos < 0 || end > len(f.origin) {
			continue
		}
		for i := f.origin[term.Pos]; i <= f.origin[end-1]; i++ {
			original[i] = m.censoredChar
		}
		found = append(found, string(term.Word))
	}
	if len(found) == 0 {
		return body, nil
	}
	m.log.Debug("Message censored", "words", len(found))
	return string(original), found
}

func fold(input []rune) folded {
	f := folded{runes: make([]rune, 0, len(input)), origin: make([]int, 0, len(input))}
	for i, r := range input {
		r = unleet(r)
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		f.runes = append(f.runes, unicode.ToLower(r))
		f.origin = append(f.origin, i)
	}
	return f
}

func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	}
	return r
}
