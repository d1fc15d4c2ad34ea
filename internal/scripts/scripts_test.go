package scripts

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/lockplane/dbreconcile/database"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
}

func names(scripts []Script) []string {
	out := make([]string, len(scripts))
	for i, s := range scripts {
		out[i] = s.Name
	}
	return out
}

func mustCollect(t *testing.T, dir string, exclude ...string) []Script {
	t.Helper()
	scripts, err := Collect(dir, exclude...)
	if err != nil {
		t.Fatalf("Collect(%s) failed: %v", dir, err)
	}
	return scripts
}

func TestOrdinal(t *testing.T) {
	tests := []struct {
		name     string
		want     int
		numbered bool
	}{
		{"001_init.sql", 1, true},
		{"10-users.sql", 10, true},
		{"V002__posts.sql", 2, true},
		{"_03_views.sql", 3, true},
		{"seed.sql", NoOrdinal, false},
		{"VV1.sql", NoOrdinal, false},
		{"2024_later.sql", 2024, true},
		{"999_edge.sql", NoOrdinal, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Ordinal(tt.name); got != tt.want {
				t.Errorf("Ordinal(%q) = %d, want %d", tt.name, got, tt.want)
			}
			if got := Numbered(tt.name); got != tt.numbered {
				t.Errorf("Numbered(%q) = %v, want %v", tt.name, got, tt.numbered)
			}
		})
	}
}

func TestCollect_Ordering(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"010_views.sql":  "CREATE VIEW v AS SELECT 1;",
		"002_posts.sql":  "CREATE TABLE posts (id int);",
		"001_users.sql":  "CREATE TABLE users (id int);",
		"V002_tags.sql":  "CREATE TABLE tags (id int);",
		"functions.sql":  "-- no prefix",
		"another.SQL":    "-- no prefix, upper-case extension",
		"migration.sql":  "ALTER TABLE users ADD COLUMN x int;",
		"notes.txt":      "ignored",
		"099_last.sql":   "-- numbered",
		"999_edge.sql":   "-- numbered at the sentinel",
		"1000_late.sql":  "-- numbered past the sentinel",
		"README.sql.bak": "ignored",
	})
	if err := os.Mkdir(filepath.Join(dir, "050_dir.sql"), 0o755); err != nil {
		t.Fatal(err)
	}

	scripts := mustCollect(t, dir, DefaultMigrationFile)

	want := []string{
		"001_users.sql",
		"002_posts.sql",
		"V002_tags.sql",
		"010_views.sql",
		"099_last.sql",
		"999_edge.sql",
		"1000_late.sql",
		"another.SQL",
		"functions.sql",
	}
	if got := names(scripts); !reflect.DeepEqual(got, want) {
		t.Fatalf("Collect order = %v, want %v", got, want)
	}

	if scripts[0].Path != filepath.Join(dir, "001_users.sql") {
		t.Errorf("unexpected path %q", scripts[0].Path)
	}
	if scripts[0].Content != "CREATE TABLE users (id int);" {
		t.Errorf("unexpected content %q", scripts[0].Content)
	}
	if last := scripts[len(scripts)-1]; last.Ordinal != NoOrdinal {
		t.Errorf("expected %s to carry NoOrdinal, got %d", last.Name, last.Ordinal)
	}
}

func TestSort_PrefixlessAfterLargeOrdinals(t *testing.T) {
	scripts := []Script{
		{Name: "views.sql", Ordinal: Ordinal("views.sql")},
		{Name: "1000_late.sql", Ordinal: Ordinal("1000_late.sql")},
		{Name: "001_a.sql", Ordinal: Ordinal("001_a.sql")},
	}
	Sort(scripts)

	want := []string{"001_a.sql", "1000_late.sql", "views.sql"}
	if got := names(scripts); !reflect.DeepEqual(got, want) {
		t.Errorf("Sort order = %v, want %v", got, want)
	}
}

func TestCollect_SkipsSymlinks(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	writeFiles(t, other, map[string]string{"target.sql": "SELECT 1;"})
	writeFiles(t, dir, map[string]string{"001_a.sql": "SELECT 1;"})
	if err := os.Symlink(filepath.Join(other, "target.sql"), filepath.Join(dir, "002_link.sql")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if got := names(mustCollect(t, dir)); !reflect.DeepEqual(got, []string{"001_a.sql"}) {
		t.Errorf("expected only 001_a.sql, got %v", got)
	}
}

func TestCollect_OrderIsIndependentOfDiskOrder(t *testing.T) {
	base := []string{"001_a.sql", "002_b.sql", "003_c.sql", "010_d.sql", "100_e.sql", "1500_f.sql", "zz.sql"}

	for round := 0; round < 5; round++ {
		dir := t.TempDir()
		shuffled := append([]string(nil), base...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		for _, name := range shuffled {
			writeFiles(t, dir, map[string]string{name: "-- " + name})
		}

		if got := names(mustCollect(t, dir)); !reflect.DeepEqual(got, base) {
			t.Fatalf("round %d: order = %v, want %v", round, got, base)
		}
	}
}

func TestCollect_MissingDirectory(t *testing.T) {
	_, err := Collect(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, database.ErrInput) {
		t.Errorf("expected ErrInput, got %v", err)
	}
}

func TestCollect_NotADirectory(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"file.sql": ""})

	_, err := Collect(filepath.Join(dir, "file.sql"))
	if !errors.Is(err, database.ErrInput) {
		t.Errorf("expected ErrInput, got %v", err)
	}
}

func TestCollect_EmptyDirectory(t *testing.T) {
	if scripts := mustCollect(t, t.TempDir()); len(scripts) != 0 {
		t.Errorf("expected no scripts, got %v", names(scripts))
	}
}

func TestBuild_Layout(t *testing.T) {
	scripts := []Script{
		{Path: "schema/001_users.sql", Name: "001_users.sql", Content: "CREATE TABLE users (id int);\n"},
		{Path: "schema/002_posts.sql", Name: "002_posts.sql", Content: "CREATE TABLE posts (\n  id int\n);"},
		{Path: "schema/003_extra.sql", Name: "003_extra.sql", Content: "SELECT 1;\n\n\n"},
	}

	got := Build("SET search_path TO {{SCHEMA}};", scripts)
	want := "SET search_path TO {{SCHEMA}};\n" +
		"\n" +
		"-- File: 001_users.sql (schema/001_users.sql)\n" +
		"CREATE TABLE users (id int);\n" +
		"\n" +
		"-- File: 002_posts.sql (schema/002_posts.sql)\n" +
		"CREATE TABLE posts (\n  id int\n);\n" +
		"\n" +
		"-- File: 003_extra.sql (schema/003_extra.sql)\n" +
		"SELECT 1;\n"
	if got != want {
		t.Errorf("Build() =\n%s\nwant\n%s", got, want)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"002_b.sql": "CREATE TABLE b (id int);",
		"001_a.sql": "CREATE TABLE a (id int);",
		"x.sql":     "CREATE VIEW x AS SELECT 1;",
	})

	a := Build("-- schema: {{SCHEMA}}", mustCollect(t, dir))
	b := Build("-- schema: {{SCHEMA}}", mustCollect(t, dir))
	if a != b {
		t.Errorf("Build is not deterministic:\n%s\n---\n%s", a, b)
	}
	if !strings.HasPrefix(a, "-- schema: {{SCHEMA}}\n\n-- File: 001_a.sql") {
		t.Errorf("unexpected start of init script:\n%s", a)
	}
}

func TestBuild_NoScripts(t *testing.T) {
	if got := Build("-- schema: {{SCHEMA}}", nil); got != "-- schema: {{SCHEMA}}\n" {
		t.Errorf("Build(nil) = %q", got)
	}
}

func TestMigration(t *testing.T) {
	authored := "ALTER TABLE users ADD COLUMN age int;\n"
	want := "SET search_path TO {{SCHEMA}};\n\n" + authored
	if got := Migration("SET search_path TO {{SCHEMA}};", authored); got != want {
		t.Errorf("Migration() = %q, want %q", got, want)
	}
}

func TestSourceMap(t *testing.T) {
	scripts := []Script{
		{Path: "s/001_a.sql", Name: "001_a.sql", Content: "CREATE TABLE a (\n  id int\n);\n"},
		{Path: "s/002_b.sql", Name: "002_b.sql", Content: "-- b table\nCREATE TABEL b (id int);"},
	}
	text, sm := BuildWithSourceMap("SET search_path TO {{SCHEMA}};", scripts)
	lines := strings.Split(text, "\n")

	// line 1 preamble, 2 blank, 3 header, 4-6 first script
	for _, line := range []int{1, 3, 11} {
		if loc, ok := sm.Locate(line); ok {
			t.Errorf("Locate(%d) = %v, want no location", line, loc)
		}
	}

	loc, ok := sm.Locate(5)
	if !ok {
		t.Fatal("expected line 5 to be located")
	}
	if want := (Location{Name: "001_a.sql", Path: "s/001_a.sql", Line: 2}); loc != want {
		t.Errorf("Locate(5) = %+v, want %+v", loc, want)
	}
	if lines[4] != "  id int" {
		t.Errorf("line 5 is %q", lines[4])
	}

	loc, ok = sm.Locate(10)
	if !ok {
		t.Fatal("expected line 10 to be located")
	}
	if loc.String() != "s/002_b.sql:2" {
		t.Errorf("Locate(10) = %s", loc)
	}
	if lines[9] != "CREATE TABEL b (id int);" {
		t.Errorf("line 10 is %q", lines[9])
	}
}

func TestSourceMap_LocateOffset(t *testing.T) {
	scripts := []Script{
		{Path: "s/001_a.sql", Name: "001_a.sql", Content: "CREATE TABLE a (id int);"},
		{Path: "s/002_b.sql", Name: "002_b.sql", Content: "-- b table\n\nINSERT INTO missing VALUES (1);"},
	}
	text, sm := BuildWithSourceMap("SET search_path TO {{SCHEMA}};", scripts)
	rendered := database.RenderScript(text, `"dbreconcile_sbx_1700000000_abcdef12"`)

	// a statement offset points just past the previous semicolon
	offset := strings.Index(rendered, "CREATE TABLE a (id int);") + len("CREATE TABLE a (id int);") + 1
	loc, ok := sm.LocateOffset(rendered, offset)
	if !ok || loc.Name != "002_b.sql" || loc.Line != 3 {
		t.Errorf("LocateOffset(statement) = %+v, %v; want 002_b.sql:3", loc, ok)
	}

	// a token inside a line
	loc, ok = sm.LocateOffset(rendered, strings.Index(rendered, "missing"))
	if !ok || loc.Line != 3 {
		t.Errorf("LocateOffset(token) = %+v, %v; want line 3", loc, ok)
	}

	if loc, ok := sm.LocateOffset(rendered, -1); ok {
		t.Errorf("LocateOffset(-1) = %+v, want no location", loc)
	}
}
