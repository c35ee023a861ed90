package alerts

import "github.com/google/uuid"

// IsCanonicalID reports whether s is a UUID in lowercase hyphenated form,
// the only spelling stored in device and telemetry tables.
func IsCanonicalID(s string) bool {
	parsed, err := uuid.Parse(s)
	return err == nil && parsed.String() == s
}
