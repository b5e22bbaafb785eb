// utils/columns.go
package utils

import "strings"

// NormalizeColumnName lower-cases a CSV header cell, strips any byte order
// mark and surrounding whitespace, and turns inner spaces into underscores
// ("Daily Device Installs" -> "daily_device_installs").
func NormalizeColumnName(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, " ", "_")
}

// SanitizeColumnName reduces a normalized header to a usable column name.
// Punctuation collapses into single underscores, "%" becomes "percent", and a
// "dimension:key" prefix is kept intact.
// "amount_(buyer_currency)" -> "amount_buyer_currency".
func SanitizeColumnName(name string) string {
	if dim, key, ok := strings.Cut(name, ":"); ok {
		return sanitize(dim) + ":" + sanitize(key)
	}
	return sanitize(name)
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "%", "percent")
	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	return b.String()
}
