// Package match decides whether fetched text is relevant to a monitor's
// keywords and search expression.
//
// A search expression is a sequence of terms. Bare words and "quoted
// phrases" in the same group must all appear. OR separates alternative
// groups, and AND is accepted as an explicit no-op. A term prefixed with -
// excludes any text containing it regardless of group. Matching is
// case-insensitive on word boundaries.
package match

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrUnterminatedQuote is returned for an expression with an odd number of quotes.
var ErrUnterminatedQuote = errors.New("unterminated quoted phrase")

// Matcher is a compiled keyword set plus search expression. The zero value
// matches everything.
type Matcher struct {
	keywords []string
	groups   [][]string
	excludes []string
}

// Compile builds a Matcher. Text matches when it contains any keyword (or
// keywords is empty) and satisfies the expression (or expression is empty).
func Compile(keywords []string, expression string) (*Matcher, error) {
	m := &Matcher{}
	for _, k := range keywords {
		if k = normalize(k); k != "" {
			m.keywords = append(m.keywords, k)
		}
	}
	tokens, err := tokenize(expression)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expression, err)
	}
	var group []string
	for _, tok := range tokens {
		switch {
		case !tok.quoted && tok.text == "OR":
			if len(group) > 0 {
				m.groups = append(m.groups, group)
			}
			group = nil
		case !tok.quoted && tok.text == "AND":
		case tok.exclude:
			if t := normalize(tok.text); t != "" {
				m.excludes = append(m.excludes, t)
			}
		default:
			if t := normalize(tok.text); t != "" {
				group = append(group, t)
			}
		}
	}
	if len(group) > 0 {
		m.groups = append(m.groups, group)
	}
	return m, nil
}

// Match reports whether any of texts, joined, is relevant.
func (m *Matcher) Match(texts ...string) bool {
	if m == nil {
		return true
	}
	text := normalize(strings.Join(texts, " "))
	for _, ex := range m.excludes {
		if containsWord(text, ex) {
			return false
		}
	}
	if len(m.keywords) > 0 && !anyWord(text, m.keywords) {
		return false
	}
	if len(m.groups) == 0 {
		return true
	}
	for _, g := range m.groups {
		if allWords(text, g) {
			return true
		}
	}
	return false
}

type token struct {
	text    string
	quoted  bool
	exclude bool
}

func tokenize(expr string) ([]token, error) {
	var (
		out []token
		rs  = []rune(expr)
	)
	for i := 0; i < len(rs); {
		if unicode.IsSpace(rs[i]) {
			i++
			continue
		}
		tok := token{}
		if rs[i] == '-' && i+1 < len(rs) && !unicode.IsSpace(rs[i+1]) {
			tok.exclude = true
			i++
		}
		if rs[i] == '"' {
			end := i + 1
			for end < len(rs) && rs[end] != '"' {
				end++
			}
			if end >= len(rs) {
				return nil, ErrUnterminatedQuote
			}
			tok.text = string(rs[i+1 : end])
			tok.quoted = true
			i = end + 1
		} else {
			start := i
			for i < len(rs) && !unicode.IsSpace(rs[i]) {
				i++
			}
			tok.text = string(rs[start:i])
		}
		out = append(out, tok)
	}
	return out, nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func anyWord(text string, terms []string) bool {
	for _, t := range terms {
		if containsWord(text, t) {
			return true
		}
	}
	return false
}

func allWords(text string, terms []string) bool {
	for _, t := range terms {
		if !containsWord(text, t) {
			return false
		}
	}
	return true
}

// containsWord reports whether term occurs in text with no letter or digit
// directly before or after it.
func containsWord(text, term string) bool {
	for offset := 0; offset <= len(text)-len(term); {
		idx := strings.Index(text[offset:], term)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(term)
		if boundary(text, start-1) && boundary(text, end) {
			return true
		}
		offset = start + 1
	}
	return false
}

func boundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	r := rune(text[i])
	if r >= 0x80 {
		return false
	}
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
