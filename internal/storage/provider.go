// Package storage defines the records vault file-system abstraction.
package storage

import (
	"io"
	"time"
)

// FileInfo describes one record file without reading its content.
type FileInfo struct {
	Path    string // relative to the vault root, slash-separated
	Size    int64
	ModTime time.Time
}

// Provider is the interface for records vault file operations.
type Provider interface {
	// List returns every .md file under dir (relative to vault root).
	List(dir string) ([]FileInfo, error)
	// Stat returns metadata for the file at path.
	Stat(path string) (FileInfo, error)
	// Open returns a reader over the file at path, for partial reads.
	Open(path string) (io.ReadCloser, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Root returns the absolute vault directory.
	Root() string
}
