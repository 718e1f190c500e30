// Package masking redacts credentials before they reach log output.
package masking

import "strings"

const mask = "****"

// MaskSecret redacts a credential, keeping at most its last four
// characters so adjacent log lines stay correlatable.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	// Bearer tokens are dot-separated; only the signature tail is safe
	// to surface.
	if idx := strings.LastIndex(trimmed, "."); idx != -1 && idx < len(trimmed)-1 {
		trimmed = trimmed[idx+1:]
	}

	if len(trimmed) <= 4 {
		return mask
	}
	return mask + trimmed[len(trimmed)-4:]
}
