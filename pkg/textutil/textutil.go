package textutil

import (
	"strings"
	"unicode"
)

// Normalize lowercases the query and collapses runs of whitespace into a
// single space. Normalize is idempotent: Normalize(Normalize(q)) == Normalize(q).
func Normalize(q string) string {
	q = strings.ToLower(q)
	return strings.Join(strings.Fields(q), " ")
}

func isHangul(r rune) bool {
	return unicode.Is(unicode.Hangul, r)
}

func isCJK(r rune) bool {
	return isHangul(r) || unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Tokenize splits a query into tokens on whitespace and on transitions
// between CJK and non-CJK character classes, so that "홍길동customer"
// yields ["홍길동", "customer"]. Punctuation separates tokens.
func Tokenize(q string) []string {
	var tokens []string
	var cur []rune
	var curCJK bool

	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}

	for _, r := range q {
		switch {
		case !isWordRune(r):
			flush()
		case isCJK(r) != curCJK && len(cur) > 0:
			flush()
			curCJK = isCJK(r)
			cur = append(cur, r)
		default:
			curCJK = isCJK(r)
			cur = append(cur, r)
		}
	}
	flush()
	return tokens
}

// Korean particles and English function words dropped during keyword
// extraction.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "in": true, "on": true,
	"for": true, "to": true, "by": true, "and": true, "or": true, "with": true,
	"is": true, "are": true, "was": true, "were": true, "all": true,
	"show": true, "list": true, "find": true, "get": true, "me": true,
	"이": true, "가": true, "은": true, "는": true, "을": true, "를": true,
	"의": true, "에": true, "에서": true, "으로": true, "로": true, "와": true,
	"과": true, "좀": true, "것": true, "모든": true, "보여줘": true,
	"알려줘": true, "찾아줘": true, "검색": true, "조회": true,
}

// Keywords returns the significant tokens of q: stopwords removed,
// single-rune latin tokens removed, order preserved, duplicates dropped.
func Keywords(q string) []string {
	seen := map[string]bool{}
	var out []string
	for _, tok := range Tokenize(strings.ToLower(q)) {
		if stopwords[tok] || seen[tok] {
			continue
		}
		runes := []rune(tok)
		if len(runes) < 2 && !isCJK(runes[0]) {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}
