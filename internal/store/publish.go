package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// publishFile atomically replaces path with data: the bytes go to a temp
// file in the same directory which is then renamed over the target, so a
// reader sees either the old content or the new, never a partial file.
func (s *Store) publishFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".publish-*.tmp")
	if err != nil {
		return newStorageError("create temp file", dir, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return newStorageError("write temp file", tmpPath, err)
	}
	if s.opts.SyncWrites {
		if err := tmpFile.Sync(); err != nil {
			tmpFile.Close()
			return newStorageError("sync temp file", tmpPath, err)
		}
	}
	if err := tmpFile.Close(); err != nil {
		return newStorageError("close temp file", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return newStorageError("publish file", path, err)
	}

	success = true
	return nil
}

// keySeparator joins a snapshot name to its as-of key in file names.
const keySeparator = "__"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// validateName checks a checkpoint or snapshot name. Names become file
// names, so they are restricted to a portable character set and may not
// contain the key separator.
func validateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid name %q: must match %s", name, namePattern)
	}
	if strings.Contains(name, keySeparator) {
		return fmt.Errorf("invalid name %q: must not contain %q", name, keySeparator)
	}
	return nil
}
