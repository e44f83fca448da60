package observability

import (
	"strings"
	"unicode"
)

// cleanLogValue drops control characters so request data cannot forge log lines, then caps the length.
func cleanLogValue(value string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if runes := []rune(cleaned); len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

// RouteLabel is the path or chi pattern as written to logs and span names.
func RouteLabel(route string) string {
	if route == "" {
		return "/"
	}
	return cleanLogValue(route, 180)
}

// MethodLabel is the request method as written to logs.
func MethodLabel(method string) string {
	return strings.ToUpper(cleanLogValue(method, 10))
}

// CustomerLabel bounds gateway-asserted customer ids before they reach the request context.
func CustomerLabel(id string) string {
	return cleanLogValue(strings.TrimSpace(id), 64)
}
