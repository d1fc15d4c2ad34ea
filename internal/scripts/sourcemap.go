package scripts

import (
	"fmt"
	"strings"
)

// SourceMap maps lines of a built script back to the scripts they came from
type SourceMap struct {
	spans []span
}

type span struct {
	script Script
	start  int // first line of content, 1-indexed
	end    int
}

// Location is a line inside one source script
type Location struct {
	Name string
	Path string
	Line int // 1-indexed
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.Path, l.Line)
}

// Locate returns the source of a 1-indexed line of the built script. Lines of
// the preamble, headers and separators have no source.
func (m *SourceMap) Locate(line int) (Location, bool) {
	if m == nil {
		return Location{}, false
	}
	for _, sp := range m.spans {
		if line >= sp.start && line <= sp.end {
			return Location{
				Name: sp.script.Name,
				Path: sp.script.Path,
				Line: line - sp.start + 1,
			}, true
		}
	}
	return Location{}, false
}

// LocateOffset returns the source of a byte offset in text, where text is the
// built script, possibly with the placeholder substituted. Substitution never
// adds lines, so line numbers still line up.
func (m *SourceMap) LocateOffset(text string, offset int) (Location, bool) {
	if offset < 0 || offset > len(text) {
		return Location{}, false
	}
	line := strings.Count(text[:offset], "\n") + 1
	// statement offsets include the separator, header and leading comments
	last := strings.Count(text, "\n") + 1
	for line < last {
		trimmed := strings.TrimSpace(lineAt(text, lineStart(text, line)))
		if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
			break
		}
		line++
	}
	return m.Locate(line)
}

func lineStart(text string, line int) int {
	pos := 0
	for i := 1; i < line; i++ {
		idx := strings.IndexByte(text[pos:], '\n')
		if idx < 0 {
			return len(text)
		}
		pos += idx + 1
	}
	return pos
}

func lineAt(text string, start int) string {
	end := strings.IndexByte(text[start:], '\n')
	if end < 0 {
		return text[start:]
	}
	return text[start : start+end]
}
