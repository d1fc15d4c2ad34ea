// Package diagnostic positions SQL parse errors and risky statements inside
// the script they came from.
package diagnostic

import (
	"fmt"
	"strings"
)

// Severity indicates how serious a diagnostic is
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Position is a location in a script. Line and Character are 0-indexed.
type Position struct {
	Line      int
	Character int
	Offset    int
}

// Range represents a text range in a script
type Range struct {
	Start Position
	End   Position
}

// Diagnostic is one finding about a script
type Diagnostic struct {
	Range    Range
	Severity Severity
	Code     string // e.g. "syntax_error", "dangerous_drop_table"
	Message  string
}

// NewDiagnostic creates a diagnostic
func NewDiagnostic(r Range, severity Severity, code, message string) Diagnostic {
	return Diagnostic{
		Range:    r,
		Severity: severity,
		Code:     code,
		Message:  message,
	}
}

// FormatMessage renders the diagnostic as "file:line:col: severity: message"
// with 1-indexed coordinates.
func (d Diagnostic) FormatMessage(file string) string {
	return fmt.Sprintf("%s:%d:%d: %s: %s",
		file,
		d.Range.Start.Line+1,
		d.Range.Start.Character+1,
		d.Severity,
		d.Message)
}

// PositionFromOffset converts a byte offset to a Position
func PositionFromOffset(content string, offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(content) {
		offset = len(content)
	}

	line := strings.Count(content[:offset], "\n")
	lineStart := strings.LastIndexByte(content[:offset], '\n') + 1

	return Position{
		Line:      line,
		Character: offset - lineStart,
		Offset:    offset,
	}
}

// RangeFromOffsets builds a Range between two byte offsets
func RangeFromOffsets(content string, start, end int) Range {
	return Range{
		Start: PositionFromOffset(content, start),
		End:   PositionFromOffset(content, end),
	}
}

// CodeContext renders the line at pos with one line of context on each side
// and a caret under the offending column.
func CodeContext(content string, pos Position) string {
	lines := strings.Split(content, "\n")
	if pos.Line < 0 || pos.Line >= len(lines) {
		return ""
	}

	start := max(0, pos.Line-1)
	end := min(len(lines), pos.Line+2)

	var b strings.Builder
	for i := start; i < end; i++ {
		marker := "  "
		if i == pos.Line {
			marker = "→ "
		}
		fmt.Fprintf(&b, "  %s%4d | %s\n", marker, i+1, lines[i])
		if i == pos.Line {
			fmt.Fprintf(&b, "  %s     | %s^\n", "  ", strings.Repeat(" ", pos.Character))
		}
	}
	return b.String()
}
