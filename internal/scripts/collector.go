// Package scripts collects schema-definition scripts and assembles them into
// the canonical init script.
package scripts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lockplane/dbreconcile/database"
)

// NoOrdinal is the ordinal of a script without a numeric prefix
const NoOrdinal = 999

// DefaultMigrationFile is the reserved name of the authored migration script
const DefaultMigrationFile = "migration.sql"

// Extension of schema-definition scripts, matched case-insensitively
const Extension = ".sql"

var ordinalPattern = regexp.MustCompile(`^[^0-9]?([0-9]+)`)

// Script is one schema-definition file
type Script struct {
	Path    string
	Name    string
	Ordinal int
	Content string
}

// Ordinal parses the leading numeric prefix of a filename, optionally
// preceded by one marker character ("V001_init.sql", "_01-users.sql").
// Names without a prefix get NoOrdinal.
func Ordinal(name string) int {
	m := ordinalPattern.FindStringSubmatch(name)
	if m == nil {
		return NoOrdinal
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return NoOrdinal
	}
	return n
}

// Numbered reports whether a filename carries a numeric prefix
func Numbered(name string) bool {
	return ordinalPattern.MatchString(name)
}

// Collect reads the *.sql files directly inside dir, skipping directories,
// symlinks and the reserved files named in exclude, and returns them in
// the order Sort defines.
func Collect(dir string, exclude ...string) ([]Script, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, database.Wrap(database.KindInput, "collect scripts", fmt.Errorf("script directory %s does not exist", dir))
		}
		return nil, database.Wrap(database.KindInput, "collect scripts", err)
	}
	if !info.IsDir() {
		return nil, database.Wrap(database.KindInput, "collect scripts", fmt.Errorf("%s is not a directory", dir))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, database.Wrap(database.KindInput, "collect scripts", fmt.Errorf("failed to read %s: %w", dir, err))
	}

	var scripts []Script
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if !strings.EqualFold(filepath.Ext(name), Extension) || isExcluded(name, exclude) {
			continue
		}

		path := filepath.Join(dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, database.Wrap(database.KindInput, "collect scripts", fmt.Errorf("failed to read %s: %w", path, err))
		}

		scripts = append(scripts, Script{
			Path:    path,
			Name:    name,
			Ordinal: Ordinal(name),
			Content: string(content),
		})
	}

	Sort(scripts)
	return scripts, nil
}

// Sort orders numbered scripts by ordinal, then filename, followed by the
// scripts without a prefix by filename. A numbered script sorts before the
// prefixless ones even when its ordinal is NoOrdinal or larger.
func Sort(scripts []Script) {
	sort.SliceStable(scripts, func(i, j int) bool {
		ni, nj := Numbered(scripts[i].Name), Numbered(scripts[j].Name)
		if ni != nj {
			return ni
		}
		if scripts[i].Ordinal != scripts[j].Ordinal {
			return scripts[i].Ordinal < scripts[j].Ordinal
		}
		return scripts[i].Name < scripts[j].Name
	})
}

func isExcluded(name string, exclude []string) bool {
	for _, e := range exclude {
		if strings.EqualFold(name, e) {
			return true
		}
	}
	return false
}
