// Package track normalizes raw errors into ErrorRecords and commits them
// through an atomic upsert. Tracking never fails outward: every entry point
// swallows its own errors so it is safe to call from error-handling code.
package track

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMessagePrefixLen is how many bytes of the normalized message
// participate in the identity key by default.
const DefaultMessagePrefixLen = 200

var reWhitespace = regexp.MustCompile(`\s+`)

// fieldSep keeps identity key fields from bleeding into each other
// ("ab"+"c" vs "a"+"bc").
const fieldSep = "\x1f"

// Fingerprint derives the stable identity key for an error signature. Two
// occurrences collide only when exception type, file, function, and the
// normalized message prefix all match exactly; an embedded ID in the message
// produces a distinct key.
func Fingerprint(exceptionType, filePath, functionName, message string, prefixLen int) string {
	if prefixLen <= 0 {
		prefixLen = DefaultMessagePrefixLen
	}
	normalized := truncateString(NormalizeMessage(message), prefixLen)
	h := sha256.Sum256([]byte(exceptionType + fieldSep + filePath + fieldSep + functionName + fieldSep + normalized))
	return fmt.Sprintf("%x", h)
}

// NormalizeMessage lowercases, collapses whitespace runs, and trims so that
// near-identical renderings of the same message group together.
func NormalizeMessage(msg string) string {
	msg = reWhitespace.ReplaceAllString(msg, " ")
	msg = strings.ToLower(msg)
	return strings.TrimSpace(msg)
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
