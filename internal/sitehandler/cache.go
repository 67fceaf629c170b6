package sitehandler

import (
	"path"
	"strings"
)

// minHashLen is the shortest fingerprint accepted as content-addressed.
// Vite emits eight base64url characters by default.
const minHashLen = 8

func cacheControlForFile(name string, o *Options) string {
	ext := strings.ToLower(path.Ext(name))
	switch {
	case ext == ".html" || ext == "":
		return o.HTMLCacheControl
	case isFingerprinted(name):
		return o.AssetCacheControl
	default:
		return o.OtherCacheControl
	}
}

// isFingerprinted reports whether the base name carries a build hash, as in
// "index-BxY3k9Qa.js", "index-BxY3k9Qa.js.map" or "app.3f2a9c81.css".
func isFingerprinted(name string) bool {
	parts := strings.FieldsFunc(path.Base(name), func(r rune) bool { return r == '-' || r == '.' })
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts[1:] {
		if looksLikeHash(p) {
			return true
		}
	}
	return false
}

func looksLikeHash(s string) bool {
	if len(s) < minHashLen {
		return false
	}
	digit := false
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			digit = true
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		default:
			return false
		}
	}
	// a word like "analytics" is not a hash
	return digit || hasUpperAndLower(s)
}

func hasUpperAndLower(s string) bool {
	var up, low bool
	for _, c := range s {
		if c >= 'A' && c <= 'Z' {
			up = true
		}
		if c >= 'a' && c <= 'z' {
			low = true
		}
	}
	return up && low
}
