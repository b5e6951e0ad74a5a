package release

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint returns the deterministic identity string embedded in every
// external calendar event this engine creates:
//
//	"<work_id>-<type>-<number>"
//
// The fingerprint is the lookup key for idempotent event adoption: before
// creating an event, the engine searches the external service for an event
// carrying this string and adopts it instead of creating a duplicate.
//
// Platform and date are deliberately excluded. A release cross-listed on
// two platforms describes the same real-world occurrence; exactly one row
// may own the external event, and the unique constraint on external ids
// turns a second adoption into a hard failure rather than a duplicate.
func Fingerprint(r Release) string {
	return fmt.Sprintf("%d-%s-%d", r.WorkID, r.Type, r.Number)
}

// NormalizePlatform canonicalizes an upstream platform name for use in
// release identifiers and rate-limit source keys.
//
// Upstream feeds disagree on casing and Unicode width for the same
// platform (e.g. "Ｃｒｕｎｃｈｙｒｏｌｌ" vs "crunchyroll"). NFKC folds
// compatibility variants to a single form before lowercasing, so both
// spellings admit against the same rate-limit window.
func NormalizePlatform(p string) string {
	folded := norm.NFKC.String(p)
	folded = strings.ToLower(strings.TrimSpace(folded))
	return strings.ReplaceAll(folded, " ", "-")
}
