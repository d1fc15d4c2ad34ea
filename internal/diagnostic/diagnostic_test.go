package diagnostic

import (
	"errors"
	"strings"
	"testing"
)

func TestPositionFromOffset(t *testing.T) {
	content := "line 1\nline 2\nline 3"

	tests := []struct {
		offset   int
		wantLine int
		wantChar int
	}{
		{0, 0, 0},                        // Start of file
		{5, 0, 5},                        // End of first line
		{7, 1, 0},                        // Start of second line
		{len(content), 2, len("line 3")}, // End of file
	}

	for _, tt := range tests {
		pos := PositionFromOffset(content, tt.offset)
		if pos.Line != tt.wantLine || pos.Character != tt.wantChar {
			t.Errorf("PositionFromOffset(%d) = Line:%d, Char:%d; want Line:%d, Char:%d",
				tt.offset, pos.Line, pos.Character, tt.wantLine, tt.wantChar)
		}
		if pos.Offset != tt.offset {
			t.Errorf("PositionFromOffset(%d).Offset = %d; want %d",
				tt.offset, pos.Offset, tt.offset)
		}
	}
}

func TestCollectorSortsByPosition(t *testing.T) {
	content := "CREATE TABLE users (\n  id BIGINT\n);"
	collector := NewCollector("test.sql", content)

	collector.AddWarningAtOffset(23, 2, "test_warning", "later")
	collector.AddErrorAtOffset(0, 6, "test_error", "earlier")

	if collector.Count() != 2 {
		t.Errorf("Count() = %d; want 2", collector.Count())
	}
	if !collector.HasErrors() {
		t.Error("HasErrors() = false; want true")
	}
	if len(collector.Errors()) != 1 || len(collector.Warnings()) != 1 {
		t.Errorf("Errors()/Warnings() = %d/%d; want 1/1", len(collector.Errors()), len(collector.Warnings()))
	}

	all := collector.All()
	if all[0].Code != "test_error" {
		t.Errorf("first diagnostic = %s; want test_error", all[0].Code)
	}
	if all[1].Range.Start.Line != 1 {
		t.Errorf("warning line = %d; want 1", all[1].Range.Start.Line)
	}
}

func TestCheckValidScript(t *testing.T) {
	content := `SET search_path TO {{SCHEMA}};

CREATE TABLE users (
  id BIGSERIAL PRIMARY KEY,
  email TEXT NOT NULL UNIQUE
);

CREATE FUNCTION touch() RETURNS trigger AS $$
BEGIN
  NEW.updated_at := now();
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;
`
	c := Check("001_users.sql", content)
	if c.HasErrors() {
		t.Fatalf("unexpected errors: %v", c.Errors())
	}
	if err := c.Err(); err != nil {
		t.Fatalf("Err() = %v; want nil", err)
	}
}

func TestCheckLocatesFailingStatement(t *testing.T) {
	content := "CREATE TABLE a (id int);\n\nCREATE TABEL b (\n  id int\n);\n"

	c := Check("002_b.sql", content)
	errs := c.Errors()
	if len(errs) != 1 {
		t.Fatalf("Errors() returned %d; want 1", len(errs))
	}

	d := errs[0]
	if d.Range.Start.Line != 2 {
		t.Errorf("error line = %d; want 2", d.Range.Start.Line)
	}
	if d.Range.Start.Character != len("CREATE ") {
		t.Errorf("error column = %d; want %d", d.Range.Start.Character, len("CREATE "))
	}
	if !strings.Contains(d.Message, "TABLE") {
		t.Errorf("message should suggest TABLE, got %q", d.Message)
	}

	var checkErr *CheckError
	if !errors.As(c.Err(), &checkErr) {
		t.Fatal("Err() should return a *CheckError")
	}
	if !strings.HasPrefix(checkErr.Error(), "002_b.sql:3:8: error:") {
		t.Errorf("CheckError.Error() = %q", checkErr.Error())
	}
}

func TestCheckExplainsCommonMistakes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "trailing comma",
			content: "CREATE TABLE t (\n  id int,\n);",
			want:    "trailing comma",
		},
		{
			name:    "mysql backticks",
			content: "CREATE TABLE `t` (id int);",
			want:    "backticks",
		},
		{
			name:    "auto increment",
			content: "CREATE TABLE t (id int AUTO_INCREMENT);",
			want:    "AUTO_INCREMENT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Check("x.sql", tt.content).Errors()
			if len(errs) == 0 {
				t.Fatal("expected a syntax error")
			}
			if !strings.Contains(errs[0].Message, tt.want) {
				t.Errorf("message %q should contain %q", errs[0].Message, tt.want)
			}
		})
	}
}

func TestScanDestructive(t *testing.T) {
	content := `SET search_path TO {{SCHEMA}};

-- cleanup
DROP TABLE legacy_users CASCADE;
TRUNCATE audit_log;
DELETE FROM sessions;
DELETE FROM tokens WHERE expired;
ALTER TABLE users DROP COLUMN nickname;
CREATE INDEX users_email ON users (email);
`
	c := ScanDestructive("migration.sql", content)
	warnings := c.Warnings()

	want := []struct {
		code string
		line int
	}{
		{"dangerous_drop_table", 3},
		{"dangerous_truncate", 4},
		{"dangerous_delete_all", 5},
		{"dangerous_drop_column", 7},
	}
	if len(warnings) != len(want) {
		t.Fatalf("Warnings() returned %d; want %d: %v", len(warnings), len(want), warnings)
	}
	for i, w := range want {
		if warnings[i].Code != w.code {
			t.Errorf("warning %d code = %s; want %s", i, warnings[i].Code, w.code)
		}
		if warnings[i].Range.Start.Line != w.line {
			t.Errorf("warning %d line = %d; want %d", i, warnings[i].Range.Start.Line, w.line)
		}
	}
	if !strings.Contains(warnings[0].Message, "legacy_users CASCADE") {
		t.Errorf("unexpected drop message %q", warnings[0].Message)
	}
	if c.HasErrors() {
		t.Error("destructive scan must never report errors")
	}
}

func TestScanDestructiveIgnoresUnparseable(t *testing.T) {
	c := ScanDestructive("migration.sql", "DROP TABEL users;")
	if c.Count() != 0 {
		t.Errorf("Count() = %d; want 0", c.Count())
	}
}

func TestCodeContext(t *testing.T) {
	content := "a\nbcd\ne"
	out := CodeContext(content, PositionFromOffset(content, 3))
	if !strings.Contains(out, "→    2 | bcd") {
		t.Errorf("missing marker line in %q", out)
	}
	if !strings.Contains(out, " ^") {
		t.Errorf("missing caret in %q", out)
	}
}
