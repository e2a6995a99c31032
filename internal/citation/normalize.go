// Package citation turns raw Talmud citations into comparison keys.
//
// Every component that compares citations (duplicate detection, duplicate
// grouping, per-citation locks, tree ids) goes through Key, so two citations
// are "the same passage" exactly when their keys are equal.
package citation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// markers are corpus and tractate-class words that carry no identity.
// They are matched as whole tokens only, never as substrings.
var markers = map[string]bool{
	"bavli":      true,
	"yerushalmi": true,
	"masechet":   true,
	"masekhet":   true,
	"tractate":   true,
	"talmud":     true,
	"b.":         true,
	"y.":         true,
	"t.":         true,
}

// punctuation is deleted from inside tokens. Besides ASCII it covers curly
// quotes, en/em dashes and the Hebrew maqaf, geresh and gershayim.
var punctuation = map[rune]bool{
	'.': true, ',': true, '-': true, ':': true, ';': true,
	'(': true, ')': true, '[': true, ']': true,
	'\'': true, '"': true, '‘': true, '’': true, '“': true, '”': true,
	'–': true, '—': true, '־': true, '׳': true, '״': true,
}

// Key returns the canonical comparison key for a raw citation:
//  1. fold Unicode (NFKD, drop combining marks such as niqqud and diacritics)
//  2. lowercase
//  3. drop corpus markers (bavli, yerushalmi, b., ...) as whole tokens
//  4. delete punctuation inside tokens
//  5. collapse whitespace
//  6. rewrite tractate aliases to their canonical spelling
//
// The key is only ever compared; it is never shown or stored in place of the
// citation the user typed.
func Key(raw string) string {
	// Lowercasing can introduce combining marks (U+0130), so fold in between.
	s := strings.ToLower(fold(strings.ToLower(raw)))

	tokens := make([]string, 0, 4)
	for _, tok := range strings.Fields(s) {
		if markers[tok] {
			continue
		}
		tok = stripPunctuation(tok)
		if tok == "" || markers[tok] {
			continue
		}
		tokens = append(tokens, tok)
	}

	return strings.Join(replaceAliases(tokens), " ")
}

// Normalize is Key under the name used by callers that think of the key as a
// normalized citation.
func Normalize(raw string) string {
	return Key(raw)
}

// Slug turns a citation into an identifier-safe slug, e.g.
// "Bavli Ketubot 111a" -> "ketubot-111a". Anything other than a letter or a
// digit becomes a single dash, so a slug is always one URL path segment.
func Slug(raw string) string {
	var b strings.Builder
	dash := false
	for _, r := range Key(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}

// Equal reports whether two citations refer to the same passage.
func Equal(a, b string) bool {
	ka := Key(a)
	return ka != "" && ka == Key(b)
}

// fold decomposes the string and removes combining marks.
func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func stripPunctuation(tok string) string {
	return strings.Map(func(r rune) rune {
		if punctuation[r] {
			return -1
		}
		return r
	}, tok)
}
