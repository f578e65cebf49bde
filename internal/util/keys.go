package util

import "strings"

// KeySep separates namespace and key in composite durable keys.
const KeySep = ":"

// Composite joins namespace and key: "<ns>:<key>".
func Composite(ns, key string) string {
	return ns + KeySep + key
}

// Prefix returns the scan prefix owning every key of ns: "<ns>:".
func Prefix(ns string) string {
	return ns + KeySep
}

// GlobEscape escapes Redis glob metacharacters so s matches literally in SCAN MATCH.
func GlobEscape(s string) string {
	if !strings.ContainsAny(s, `*?[]\^`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
