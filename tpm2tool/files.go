package tpm2tool

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
)

// LoadBytesFromPath reads a whole file, rejecting anything larger than max.
// A max of 0 means unbounded.
func LoadBytesFromPath(path string, max int) ([]byte, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if max > 0 && len(b) > max {
		return nil, &FormatError{Path: path, Msg: fmt.Sprintf("file is %d bytes, limit is %d", len(b), max)}
	}
	return b, nil
}

// SaveBytesToFile writes b to path, replacing any existing file atomically:
// the bytes land in a temp file in the same directory and are renamed into
// place, so a reader never observes a partial artifact.
func SaveBytesToFile(path string, b []byte) error {
	dir := filepath.Dir(path)
	tmp, err := ioutil.TempFile(dir, "."+filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
