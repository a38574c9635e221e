package alert

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// BuildDedupKey builds deterministic dedup key in required namespace.
// Params: alert source (monitor name or incident source) and coarse category.
// Returns: formatted key; identical source/category pairs always collapse.
func BuildDedupKey(source, category string) string {
	canonical := make([]byte, 0, len("source=")+len(source)+1+len("category=")+len(category))
	canonical = append(canonical, "source="...)
	canonical = append(canonical, source...)
	canonical = append(canonical, '\n')
	canonical = append(canonical, "category="...)
	canonical = append(canonical, category...)
	digest := sha1.Sum(canonical)
	var hashValue [sha1.Size * 2]byte
	hex.Encode(hashValue[:], digest[:])

	sourceName := sanitize(source)
	categoryName := sanitize(category)
	var builder strings.Builder
	builder.Grow(len("alert/") + len(sourceName) + len(categoryName) + len(hashValue) + 2)
	builder.WriteString("alert/")
	builder.WriteString(sourceName)
	builder.WriteByte('/')
	builder.WriteString(categoryName)
	builder.WriteByte('/')
	builder.Write(hashValue[:])
	return builder.String()
}

// sanitize converts key path fragments into stable bucket-safe tokens.
// Params: raw value with possible separators.
// Returns: sanitized string with unsupported chars replaced by underscore.
func sanitize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "_"
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + 32)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
