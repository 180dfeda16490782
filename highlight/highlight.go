// Package highlight flags words in free text that refer to a known
// vocabulary term, such as shopping-list items mentioned in a meal
// description.
//
// Matching is deliberately cheap: case-insensitive equality, substring
// containment and a truncated-prefix stem. It is meant for a highlighting
// aid, not linguistic analysis.
package highlight

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// minMatchLen is the shortest string allowed to take part in a containment
// or stem match.
const minMatchLen = 3

// Span is a run of the original text. Concatenating all spans of a result
// reproduces the input exactly.
type Span struct {
	Text        string `json:"text"`
	Highlighted bool   `json:"highlighted"`
}

// Token is a word or a separator run produced by Tokenize.
type Token struct {
	Text      string
	Separator bool
}

type term struct {
	folded string
	length int
	stem   string
}

// Matcher holds a vocabulary prepared for repeated matching.
type Matcher struct {
	terms []term
}

// NewMatcher folds and stems vocabulary once. Blank terms are ignored.
func NewMatcher(vocabulary []string) *Matcher {
	fold := cases.Fold()
	m := &Matcher{terms: make([]term, 0, len(vocabulary))}
	for _, v := range vocabulary {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		f := fold.String(v)
		m.terms = append(m.terms, term{
			folded: f,
			length: utf8.RuneCountInString(f),
			stem:   Stem(f),
		})
	}
	return m
}

// Match is NewMatcher(vocabulary).Match(text).
func Match(text string, vocabulary []string) []Span {
	return NewMatcher(vocabulary).Match(text)
}

// Match splits text into spans and marks every word that refers to a
// vocabulary term.
func (m *Matcher) Match(text string) []Span {
	tokens := Tokenize(text)
	spans := make([]Span, 0, len(tokens))
	fold := cases.Fold()
	for _, tok := range tokens {
		span := Span{Text: tok.Text}
		if !tok.Separator && len(m.terms) > 0 {
			span.Highlighted = m.matches(fold.String(tok.Text))
		}
		spans = append(spans, span)
	}
	return spans
}

// Highlighted returns the highlighted words of text in order.
func (m *Matcher) Highlighted(text string) []string {
	var out []string
	for _, s := range m.Match(text) {
		if s.Highlighted {
			out = append(out, s.Text)
		}
	}
	return out
}

func (m *Matcher) matches(word string) bool {
	n := utf8.RuneCountInString(word)
	stem := Stem(word)
	for _, t := range m.terms {
		if word == t.folded {
			return true
		}
		if min(n, t.length) >= minMatchLen &&
			(strings.Contains(word, t.folded) || strings.Contains(t.folded, word)) {
			return true
		}
		if stemsMatch(stem, t.stem) {
			return true
		}
	}
	return false
}

// Stem truncates word to a cheap approximation of its root: words of up to
// four letters are kept whole, five-letter words lose their last letter and
// longer words keep min(5, len-2) letters.
func Stem(word string) string {
	r := []rune(word)
	n := len(r)
	switch {
	case n <= 4:
		return word
	case n == 5:
		return string(r[:4])
	default:
		return string(r[:min(5, n-2)])
	}
}

func stemsMatch(a, b string) bool {
	if utf8.RuneCountInString(a) < minMatchLen || utf8.RuneCountInString(b) < minMatchLen {
		return false
	}
	return a == b || strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// Tokenize splits text into alternating word and separator runs. Words are
// maximal runs of letters, digits and combining marks; everything else
// (whitespace, punctuation, symbols) is a separator kept verbatim.
func Tokenize(text string) []Token {
	var tokens []Token
	start := 0
	inWord := false
	for i, r := range text {
		w := isWordRune(r)
		if i == 0 {
			inWord = w
			continue
		}
		if w != inWord {
			tokens = append(tokens, Token{Text: text[start:i], Separator: !inWord})
			start = i
			inWord = w
		}
	}
	if start < len(text) {
		tokens = append(tokens, Token{Text: text[start:], Separator: !inWord})
	}
	return tokens
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}
