package depthfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Sink is the byte-file storage the serializer writes through. Overwrite
// replaces the whole file; Append extends it, creating it when absent.
type Sink interface {
	Overwrite(path string, data []byte) error
	Append(path string, data []byte) error
}

// FileSink writes to the local filesystem.
type FileSink struct{}

// Overwrite truncates or creates path and writes data.
func (FileSink) Overwrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("overwrite %s: %w", path, err)
	}
	return nil
}

// Append opens path in append mode and writes data in a single call.
func (FileSink) Append(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// RemoveIfExists deletes path, treating a missing file as success.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
