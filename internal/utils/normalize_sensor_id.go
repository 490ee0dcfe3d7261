package utils

import (
	"strings"
)

// NormalizeSensorID canonicalizes device identifiers: firmware images
// have reported the same sensor with stray whitespace and mixed case.
func NormalizeSensorID(raw string) string {
	normalized := strings.TrimSpace(raw)
	normalized = strings.ReplaceAll(normalized, " ", "")
	normalized = strings.ToUpper(normalized)
	return normalized
}
