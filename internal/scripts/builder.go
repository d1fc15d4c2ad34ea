package scripts

import (
	"fmt"
	"strings"
)

// Build concatenates scripts into the canonical init script: the preamble
// line, then for each script a blank line, a header comment naming the file
// and its content. Identical input yields byte-identical output.
func Build(preamble string, scripts []Script) string {
	text, _ := BuildWithSourceMap(preamble, scripts)
	return text
}

// BuildWithSourceMap is Build that also returns where each script landed
func BuildWithSourceMap(preamble string, scripts []Script) (string, *SourceMap) {
	var b strings.Builder
	sm := &SourceMap{}

	preamble = strings.TrimRight(preamble, "\n")
	b.WriteString(preamble)
	b.WriteString("\n")
	line := strings.Count(preamble, "\n") + 2

	for _, s := range scripts {
		content := strings.TrimRight(s.Content, "\n")

		b.WriteString("\n")
		b.WriteString(Header(s))
		b.WriteString("\n")
		b.WriteString(content)
		b.WriteString("\n")

		start := line + 2 // blank line, header
		n := strings.Count(content, "\n") + 1
		sm.spans = append(sm.spans, span{script: s, start: start, end: start + n - 1})
		line = start + n
	}

	return b.String(), sm
}

// Header is the comment line that introduces a script's block
func Header(s Script) string {
	return fmt.Sprintf("-- File: %s (%s)", s.Name, s.Path)
}

// Migration builds the migration artifact for an authored migration script:
// the preamble, a blank line and the script verbatim.
func Migration(preamble, authored string) string {
	return strings.TrimRight(preamble, "\n") + "\n\n" + authored
}
