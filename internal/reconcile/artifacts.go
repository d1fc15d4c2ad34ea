package reconcile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lockplane/dbreconcile/database"
)

type artifact struct {
	path    string
	content string
}

// rename is swapped in tests to fail a chosen step
var rename = os.Rename

// writeArtifacts stages every file next to its destination, then moves the
// files they replace aside and renames the staged files into place, and
// finally removes the stale paths. If any rename fails the replaced files
// are restored, so the artifacts are never left half old and half new.
func writeArtifacts(dir string, files []artifact, remove []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return database.Wrap(database.KindInput, "failed to create output directory", err)
	}

	staged := make([]string, 0, len(files))
	cleanup := func() {
		for _, tmp := range staged {
			_ = os.Remove(tmp)
		}
	}

	for _, f := range files {
		tmp, err := stage(f)
		if err != nil {
			cleanup()
			return database.Wrapf(database.KindInput, err, "failed to write %s", f.path)
		}
		staged = append(staged, tmp)
	}

	// backups[i] holds the previous content of files[i], if there was any
	backups := make([]string, len(files))
	placed := 0
	rollback := func() {
		for i := placed - 1; i >= 0; i-- {
			_ = os.Remove(files[i].path)
		}
		for i, b := range backups {
			if b != "" {
				_ = rename(b, files[i].path)
			}
		}
		cleanup()
	}

	for i, f := range files {
		backup, err := moveAside(f.path)
		if err != nil {
			rollback()
			return database.Wrapf(database.KindInput, err, "failed to replace %s", f.path)
		}
		backups[i] = backup
	}
	for i, f := range files {
		if err := rename(staged[i], f.path); err != nil {
			rollback()
			return database.Wrapf(database.KindInput, err, "failed to write %s", f.path)
		}
		placed++
	}

	for _, b := range backups {
		if b != "" {
			_ = os.Remove(b)
		}
	}
	for _, path := range remove {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return database.Wrapf(database.KindInput, err, "failed to remove stale %s", path)
		}
	}
	return nil
}

// moveAside renames an existing file to a hidden backup next to it and
// returns the backup path, or "" when there was nothing to move
func moveAside(path string) (string, error) {
	if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	backup := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".bak")
	if err := rename(path, backup); err != nil {
		return "", err
	}
	return backup, nil
}

func stage(f artifact) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := tmp.WriteString(f.content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
