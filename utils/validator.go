// utils/validator.go - Input validation
package utils

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	htmlTagRegex    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// SanitizeInput removes potentially harmful characters
func SanitizeInput(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}

// NormalizeBaseURL trims whitespace and trailing slashes from a source endpoint.
func NormalizeBaseURL(raw string) string {
	return strings.TrimRight(SanitizeInput(raw), "/")
}

// ValidateHTTPURL checks that raw is an absolute http(s) URL.
func ValidateHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ValidateSecret checks that a shared secret is long enough to be used.
func ValidateSecret(secret string, minLen int) (bool, string) {
	if len(secret) < minLen {
		return false, "secret is too short"
	}
	return true, ""
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// StripHTML removes tags and collapses whitespace.
func StripHTML(s string) string {
	s = htmlTagRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}
