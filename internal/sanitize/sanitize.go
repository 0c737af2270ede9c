// Package sanitize derives storage-safe identifiers from user-supplied names.
//
// Identifier produces vector collection names matching ^[a-z0-9_]{1,64}$.
// TitleKey produces the stable id under which a document or initiative is
// stored; it keeps non-ASCII letters so that titles in other scripts do not
// all collapse to the same key.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

const (
	// MaxIdentifierLength is the maximum length, in runes, of a sanitized
	// identifier.
	MaxIdentifierLength = 64

	// HashSuffixLength is the length of the "_<8 hex>" suffix added to
	// truncated identifiers.
	HashSuffixLength = 9

	// DefaultIdentifier is returned when sanitization yields nothing.
	DefaultIdentifier = "default"
)

// Identifier sanitizes s for use as a collection name.
//
//	"Knowledge Chunks" -> "knowledge_chunks"
//	"team.kb/v2"       -> "team_kb_v2"
//	"" or "!!!"        -> "default"
func Identifier(s string) string {
	return sanitize(s, func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
	})
}

// TitleKey sanitizes a title into a stable key component.
//
//	"Doc A"          -> "doc_a"
//	"Onboarding: Q3" -> "onboarding_q3"
//	"Résumé tips"    -> "résumé_tips"
func TitleKey(title string) string {
	return sanitize(title, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	})
}

func sanitize(s string, keep func(rune) bool) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if !keep(r) {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}

	out := b.String()
	if out == "" {
		return DefaultIdentifier
	}
	if len([]rune(out)) > MaxIdentifierLength {
		out = truncateWithHash(out)
	}
	return out
}

// truncateWithHash shortens s to MaxIdentifierLength runes, replacing the
// tail with a hash of the full value so distinct long inputs stay distinct.
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	suffix := "_" + hex.EncodeToString(hash[:])[:8]

	runes := []rune(s)
	base := strings.TrimRight(string(runes[:MaxIdentifierLength-HashSuffixLength]), "_")
	return base + suffix
}
