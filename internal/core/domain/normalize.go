package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// businessSuffixes are legal-form tokens dropped from the end of party names
// before any comparison.
var businessSuffixes = map[string]struct{}{
	"inc": {}, "incorporated": {}, "llc": {}, "pllc": {}, "llp": {}, "lp": {},
	"ltd": {}, "limited": {}, "corp": {}, "corporation": {}, "co": {},
	"company": {}, "plc": {}, "gmbh": {}, "ag": {}, "kg": {}, "sa": {},
	"sas": {}, "sarl": {}, "srl": {}, "spa": {}, "bv": {}, "nv": {},
	"pty": {}, "pte": {}, "oy": {}, "ab": {}, "kk": {}, "pc": {},
}

// foldDiacritics decomposes s and removes combining marks ("Café" -> "Cafe").
// A transformer chain is stateful, so one is built per call.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// tokenize folds case and diacritics, drops periods and apostrophes, and
// splits on any other non letter/digit rune.
func tokenize(s string) []string {
	s = strings.ToLower(foldDiacritics(s))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '.' || r == '\'' || r == '’':
			// "L.L.C." -> "llc", "O'Brien" -> "obrien"
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// NormalizeName folds a party name for comparison: case, diacritics,
// punctuation and whitespace are folded and trailing business suffixes
// ("Inc.", "LLC", "GmbH") are stripped. The last remaining token is never
// stripped, so "Co." alone normalizes to "co".
func NormalizeName(name string) string {
	tokens := tokenize(name)
	for len(tokens) > 1 {
		if _, ok := businessSuffixes[tokens[len(tokens)-1]]; !ok {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// NormalizeAddress folds an address the same way as a name but keeps every token.
func NormalizeAddress(address string) string {
	return strings.Join(tokenize(address), " ")
}

// NormalizeTaxID keeps letters and digits only, upper-cased
// ("de 123.456-789" -> "DE123456789").
func NormalizeTaxID(taxID string) string {
	var b strings.Builder
	for _, r := range foldDiacritics(taxID) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
