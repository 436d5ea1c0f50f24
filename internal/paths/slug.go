// Package paths turns free-text row values into names usable for staged
// files and storage object keys.
package paths

import (
	"regexp"
	"strings"

	"github.com/jorgenin/expense-migration/internal/errors"
)

var (
	slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	maxSlugLen  = 80
)

// NormalizeSlug normalizes a string to a valid slug
// Rules:
// - Always lower-case
// - Allowed characters: a-z, 0-9, -
// - Runs of separators collapse to one hyphen
// - Must start with [a-z0-9]
// - Longer input is cut at maxSlugLen bytes
func NormalizeSlug(s string) (string, error) {
	if s == "" {
		return "", errors.New("slug cannot be empty")
	}

	s = strings.ToLower(s)

	var result strings.Builder
	lastHyphen := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			result.WriteRune(r)
			lastHyphen = false
		case r == ' ' || r == '_' || r == '-' || r == '.' || r == '/':
			if !lastHyphen {
				result.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	s = strings.Trim(result.String(), "-")

	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}

	if !slugPattern.MatchString(s) {
		return "", errors.Newf("%q has no characters usable in a slug", s)
	}

	return s, nil
}

// DocumentName returns the base name for a row's generated document: the
// slug of label followed by the row id, or the row id alone when label has
// nothing usable. The row id keeps its case since ids are case sensitive.
func DocumentName(label, rowID string) string {
	id := idPart(rowID)
	slug, err := NormalizeSlug(label)
	switch {
	case err == nil && id != "":
		return slug + "-" + id
	case err == nil:
		return slug
	case id != "":
		return id
	default:
		return "document"
	}
}

func idPart(rowID string) string {
	var b strings.Builder
	for _, r := range rowID {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
