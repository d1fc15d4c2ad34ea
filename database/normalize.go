package database

import (
	"regexp"
	"strings"
)

// qualifierPattern matches an identifier (bare or double-quoted) followed by
// a dot.
var qualifierPattern = regexp.MustCompile(`(?:[A-Za-z_][A-Za-z0-9_$]*|"(?:[^"]|"")+")\.`)

// NormalizeDefinition strips every "identifier." that immediately precedes
// another identifier, so a sandbox's schema-qualified definitions compare
// equal to the live target's. This also strips unrelated qualified
// references (pg_catalog.now(), t.col); both sides of a comparison are
// normalized the same way, so the loss is symmetric.
func NormalizeDefinition(def string) string {
	matches := qualifierPattern.FindAllStringIndex(def, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(def)
	}

	var b strings.Builder
	b.Grow(len(def))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if start > 0 && isIdentChar(def[start-1]) {
			// tail of a longer token such as 1e5.x or $1.x
			continue
		}
		if end >= len(def) || !isIdentStart(def[end]) {
			continue
		}
		b.WriteString(def[last:start])
		last = end
	}
	b.WriteString(def[last:])
	return strings.TrimSpace(b.String())
}

// RenderScript substitutes the schema placeholder with an already quoted
// namespace
func RenderScript(script, quotedNamespace string) string {
	return strings.ReplaceAll(script, SchemaPlaceholder, quotedNamespace)
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '"' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '$'
}
