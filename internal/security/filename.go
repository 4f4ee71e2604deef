// Package security holds helpers for putting caller-supplied identifiers
// into places where they must not be trusted, such as download file names.
package security

import (
	"fmt"
	"strings"
)

const maxFilenameLen = 96

// SanitizeFilename keeps ASCII letters, digits, dot, underscore and dash and
// folds every other run of characters into a single underscore. The result
// never starts or ends with a dot or underscore and is never empty.
func SanitizeFilename(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			if pending {
				b.WriteByte('_')
				pending = false
			}
			b.WriteRune(r)
		default:
			pending = b.Len() > 0
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// AttachmentHeader is a Content-Disposition value offering a download named
// after id with the given extension.
func AttachmentHeader(id, ext string) string {
	return fmt.Sprintf("attachment; filename=%q", SanitizeFilename(id)+ext)
}
