// Package util provides small helpers shared across packages.
package util

// SafeTruncate truncates a string to at most maxLen bytes. Used when
// logging token prefixes so full credential values never reach the log
// stream. A negative maxLen yields an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
