// utils/truncate.go
package utils

import "unicode/utf8"

// TruncateRunes cuts s to at most n characters.
func TruncateRunes(s string, n int) string {
	if n < 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// TruncateBytes cuts s to at most n bytes without splitting a UTF-8 sequence.
func TruncateBytes(s string, n int) string {
	if n < 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
