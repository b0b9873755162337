package row

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	slugRE       = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// maxIdentifierLen mirrors the PostgreSQL NAMEDATALEN limit.
const maxIdentifierLen = 63

// ValidateIdentifier rejects any name that could not be safely placed into
// query text as a table, namespace or type name. kind names the role of the
// identifier in the error message.
func ValidateIdentifier(kind, name string) error {
	if len(name) > maxIdentifierLen {
		return NewValidationError("validate identifier",
			fmt.Sprintf("%s %q exceeds %d characters", kind, name, maxIdentifierLen))
	}
	if !identifierRE.MatchString(name) {
		return NewValidationError("validate identifier",
			fmt.Sprintf("invalid %s %q: must match %s", kind, name, identifierRE))
	}
	return nil
}

// IsIdentifier reports whether name passes ValidateIdentifier.
func IsIdentifier(name string) bool {
	return len(name) <= maxIdentifierLen && identifierRE.MatchString(name)
}

// NormalizeSlug NFC-normalizes and lower-cases s, then checks it is a
// lowercase, hyphen-separated slug. The normalized slug is returned.
func NormalizeSlug(s string) (string, error) {
	n := strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
	if !slugRE.MatchString(n) {
		return "", NewValidationError("validate slug", fmt.Sprintf("invalid slug %q", s))
	}
	return n, nil
}
