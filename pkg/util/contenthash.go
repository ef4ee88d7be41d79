package util

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeContent implements the original ContentHasher.normalize_content:
// lowercase, collapse whitespace runs to a single space, trim.
func NormalizeContent(content string) string {
	normalized := strings.ToLower(content)
	normalized = whitespaceRun.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}

// ContentHash returns the SHA-256 hex digest of the normalized content
// (spec.md §3, §4.7 step 3).
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}
