package token

import "strings"

// MatchOrigin reports whether value is allowed by pattern. A pattern is either
// an exact origin or a single-level wildcard such as "*.example.com" (or
// "https://*.example.com"), which matches exactly one additional label.
func MatchOrigin(pattern, value string) bool {
	if pattern == value {
		return true
	}

	pScheme, pHost := splitOrigin(pattern)
	vScheme, vHost := splitOrigin(value)
	if pScheme != "" && pScheme != vScheme {
		return false
	}

	if !strings.HasPrefix(pHost, "*.") {
		return pHost == vHost
	}

	suffix := pHost[1:]
	if !strings.HasSuffix(vHost, suffix) {
		return false
	}
	label := strings.TrimSuffix(vHost, suffix)
	return label != "" && !strings.Contains(label, ".")
}

func splitOrigin(s string) (scheme, host string) {
	s = strings.ToLower(strings.TrimSuffix(s, "/"))
	if i := strings.Index(s, "://"); i >= 0 {
		return s[:i], s[i+3:]
	}
	return "", s
}
