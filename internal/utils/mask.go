package utils

import "strings"

// MaskSecret keeps enough of a credential to tell two apart in logs. Short
// values are hidden entirely.
func MaskSecret(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "*****"
	default:
		return s[:4] + "*****" + s[len(s)-2:]
	}
}
