// Package detectors contains the content detectors run against every message.
package detectors

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)

// Normalize folds text for matching: compatibility decomposition, combining
// marks removed, lower-cased, punctuation replaced by spaces and runs of
// whitespace collapsed to one space.
func Normalize(text string) string {
	// transform chains are stateful; build one per call
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, text)
	if err != nil {
		folded = text
	}
	folded = nonTokenChars.ReplaceAllString(strings.ToLower(folded), " ")
	return strings.Join(strings.Fields(folded), " ")
}

// containsPhrase reports whether the normalized phrase occurs in normalized
// text on word boundaries.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

// WordCount counts whitespace separated words in the raw text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Fingerprint returns a stable hash of the normalized text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:16])
}
