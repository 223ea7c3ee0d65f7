package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	DirPerm  os.FileMode = 0755
	FilePerm os.FileMode = 0644
)

// tmpPattern names in-flight writes. Listing skips anything that is not *.json,
// so a temp file left behind by a crash is never mistaken for a partition.
const tmpPattern = ".tmp-*"

// ErrNotFound is returned when a partition or derived file does not exist.
// It signals "no data yet", not a failure.
var ErrNotFound = errors.New("not found")

// WriteError is a failed durable write. The previous file, if any, is intact.
type WriteError struct {
	Op   string
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// beforeRename runs between the temp file being fully written and the rename.
// Tests use it to simulate a crash at the atomicity boundary.
var beforeRename func(tmpPath string) error

// AtomicWriteFile writes data to a temp file next to finalPath, fsyncs it,
// renames it over finalPath and fsyncs the parent directory. On any failure
// the temp file is removed and finalPath is left untouched.
func AtomicWriteFile(finalPath string, data []byte) error {
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return &WriteError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return &WriteError{Op: "create temp", Path: dir, Err: err}
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &WriteError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &WriteError{Op: "fsync", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &WriteError{Op: "close", Path: tmpPath, Err: err}
	}
	if err := os.Chmod(tmpPath, FilePerm); err != nil {
		return &WriteError{Op: "chmod", Path: tmpPath, Err: err}
	}
	if beforeRename != nil {
		if err := beforeRename(tmpPath); err != nil {
			return &WriteError{Op: "rename", Path: finalPath, Err: err}
		}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return &WriteError{Op: "rename", Path: finalPath, Err: err}
	}
	success = true

	// The data is in place at this point; a failed directory fsync only
	// weakens durability across power loss.
	if err := FsyncDir(dir); err != nil {
		return &WriteError{Op: "fsync dir", Path: dir, Err: err}
	}
	return nil
}

// FsyncDir opens the directory at path and calls fsync on it.
func FsyncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("fsync dir open %s: %w", path, err)
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return fmt.Errorf("fsync dir sync %s: %w", path, err)
	}
	return d.Close()
}

// listSubdirs returns the names of the immediate subdirectories of dir.
// A missing dir yields no entries.
func listSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list subdirs %s: %w", dir, err)
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	return dirs, nil
}

// listJSONFiles returns the *.json regular files in dir.
func listJSONFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list files %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		files = append(files, entry.Name())
	}
	return files, nil
}
