package observability

import (
	"strings"
	"unicode"
)

// sanitizeString drops control characters other than whitespace and caps the result at limit runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, value)
	if runes := []rune(cleaned); len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

func SanitizeMethod(method string) string { return sanitizeString(method, 10) }

// SanitizeTripID bounds client-supplied trip ids before they reach logs or span attributes.
func SanitizeTripID(id string) string { return sanitizeString(id, 64) }
