package diagnostic

import (
	"fmt"
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// placeholderStandIn replaces the schema placeholder before parsing. It is a
// valid quoted identifier of the same length, so offsets are unchanged.
const (
	placeholderStandIn = `"SCHEMA__"`
	standInName        = "SCHEMA__"
)

var (
	nearPattern      = regexp.MustCompile(`at or near "([^"]+)"`)
	columnDefPattern = regexp.MustCompile(`^\w+\s+\w+`)
	wordPattern      = regexp.MustCompile(`^\w+`)
	tableNamePattern = regexp.MustCompile(`(?i)CREATE TABLE\s+(\w+)`)
)

var keywordTypos = map[string]string{
	"TABEL":      "TABLE",
	"TALBE":      "TABLE",
	"PRIMAY":     "PRIMARY",
	"PRIMERY":    "PRIMARY",
	"FORIEGN":    "FOREIGN",
	"FOREGIN":    "FOREIGN",
	"REFERNCES":  "REFERENCES",
	"TIMESTAMPZ": "TIMESTAMPTZ",
	"NOTNULL":    "NOT NULL",
	"INTEGR":     "INTEGER",
	"DEFALT":     "DEFAULT",
	"UNQUE":      "UNIQUE",
	"UNIUQE":     "UNIQUE",
}

// CheckError reports the syntax errors found in one script
type CheckError struct {
	Source      string
	Content     string
	Diagnostics []Diagnostic
}

func (e *CheckError) Error() string {
	if len(e.Diagnostics) == 0 {
		return fmt.Sprintf("%s: syntax error", e.Source)
	}
	msg := e.Diagnostics[0].FormatMessage(e.Source)
	if n := len(e.Diagnostics) - 1; n > 0 {
		msg += fmt.Sprintf(" (and %d more)", n)
	}
	return msg
}

// Check parses a PostgreSQL script and collects a positioned diagnostic for
// every statement that fails to parse.
func Check(source, content string) *Collector {
	c := NewCollector(source, content)
	sql := strings.ReplaceAll(content, "{{SCHEMA}}", placeholderStandIn)

	_, err := pg_query.Parse(sql)
	if err == nil {
		return c
	}

	stmts, splitErr := pg_query.SplitWithScanner(sql, true)
	if splitErr != nil {
		// the scanner itself failed, e.g. an unterminated quoted string
		reportParseError(c, sql, 0, sql, err)
		return c
	}

	pos := 0
	for _, stmt := range stmts {
		idx := strings.Index(sql[pos:], stmt)
		if idx < 0 {
			continue
		}
		start := pos + idx
		pos = start + len(stmt)

		if _, stmtErr := pg_query.Parse(stmt); stmtErr != nil {
			reportParseError(c, sql, start, stmt, stmtErr)
		}
	}

	if !c.HasErrors() {
		reportParseError(c, sql, 0, sql, err)
	}
	return c
}

// Err returns a *CheckError when the collector holds errors
func (c *Collector) Err() error {
	errs := c.Errors()
	if len(errs) == 0 {
		return nil
	}
	return &CheckError{Source: c.source, Content: c.content, Diagnostics: errs}
}

// reportParseError positions err inside stmt, which starts at base in sql
func reportParseError(c *Collector, sql string, base int, stmt string, err error) {
	errorMsg := strings.TrimPrefix(err.Error(), "failed to parse SQL: ")

	token := ""
	offset := len(stmt)
	if m := nearPattern.FindStringSubmatch(errorMsg); len(m) > 1 {
		token = m[1]
		if i := strings.Index(stmt, token); i >= 0 {
			offset = i
		}
	} else if !strings.Contains(errorMsg, "at end of input") {
		offset = 0
	}

	length := max(len(token), 1)
	pos := PositionFromOffset(sql, base+offset)

	message := explain(stmt, errorMsg, token, PositionFromOffset(stmt, offset))
	if message == "" {
		message = errorMsg
	}
	c.AddErrorAtOffset(pos.Offset, length, "syntax_error", message)
}

// explain turns common mistakes into a more helpful message. It returns ""
// when no pattern applies.
func explain(stmt, errorMsg, token string, pos Position) string {
	if strings.Contains(stmt, "`") {
		return "backticks are MySQL syntax; quote identifiers with double quotes"
	}

	upper := strings.ToUpper(stmt)
	if strings.Contains(upper, "AUTO_INCREMENT") {
		return "AUTO_INCREMENT is MySQL syntax; use GENERATED ALWAYS AS IDENTITY or BIGSERIAL"
	}

	if suggestion, ok := keywordTypos[strings.ToUpper(token)]; ok {
		return fmt.Sprintf("invalid SQL keyword %q, did you mean %s?", token, suggestion)
	}

	if token == ")" && strings.Contains(errorMsg, "syntax error") {
		before := strings.TrimRight(stmt[:pos.Offset], " \t\r\n")
		if strings.HasSuffix(before, ",") {
			return "trailing comma before closing parenthesis"
		}
	}

	lines := strings.Split(stmt, "\n")
	if pos.Line > 0 && pos.Line < len(lines) {
		prevLine := strings.TrimSpace(lines[pos.Line-1])
		currentLine := strings.TrimSpace(lines[pos.Line])

		if strings.Contains(strings.ToUpper(prevLine), "CREATE TABLE") && !strings.Contains(prevLine, "(") {
			name := "table_name"
			if m := tableNamePattern.FindStringSubmatch(prevLine); len(m) > 1 {
				name = m[1]
			}
			return fmt.Sprintf("missing opening parenthesis after table name, expected: CREATE TABLE %s (", name)
		}

		if columnDefPattern.MatchString(prevLine) &&
			!strings.HasSuffix(prevLine, ",") &&
			!strings.HasSuffix(prevLine, "(") &&
			!strings.HasPrefix(prevLine, "--") &&
			wordPattern.MatchString(currentLine) {
			return fmt.Sprintf("missing comma after column definition %q", prevLine)
		}
	}

	if strings.Contains(errorMsg, "at end of input") {
		if strings.Count(stmt, "(") > strings.Count(stmt, ")") {
			return "incomplete statement: missing closing parenthesis"
		}
		return "incomplete statement"
	}

	return ""
}
