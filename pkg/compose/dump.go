package compose

import (
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// DumpExtensions lists the file suffixes recognised as database dumps.
var DumpExtensions = []string{".sql", ".sql.gz", ".sql.gzip", ".sql.zip"}

// IsDump reports whether name looks like a database dump.
func IsDump(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range DumpExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// FindDumps returns the dumps in root and its direct subdirectories.
func FindDumps(root string) ([]string, error) {
	var dumps []string
	for _, pattern := range []string{"*", filepath.Join("*", "*")} {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() && IsDump(m) {
				dumps = append(dumps, m)
			}
		}
	}
	return dumps, nil
}

// DescribeDump returns "name (size)" for display in a selection list.
func DescribeDump(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	info, err := os.Stat(path)
	if err != nil {
		return rel
	}
	return fmt.Sprintf("%s (%s)", rel, humanize.Bytes(uint64(info.Size())))
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func isMIME(m *mimetype.MIME, name string) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is(name) {
			return true
		}
	}
	return false
}

// OpenDump opens a dump and returns its plain SQL content. The format is
// detected from the file content, not its name.
func OpenDump(path string) (io.ReadCloser, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump: %w", err)
	}

	switch {
	case isMIME(mtype, "application/gzip"):
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open dump: %w", err)
		}
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read gzip dump: %w", err)
		}
		return &readCloser{Reader: gz, closers: []io.Closer{f, gz}}, nil

	case isMIME(mtype, "application/zip"):
		zr, err := zip.OpenReader(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read zip dump: %w", err)
		}
		for _, entry := range zr.File {
			if entry.FileInfo().IsDir() {
				continue
			}
			rc, err := entry.Open()
			if err != nil {
				zr.Close()
				return nil, fmt.Errorf("failed to read %s from zip dump: %w", entry.Name, err)
			}
			return &readCloser{Reader: rc, closers: []io.Closer{zr, rc}}, nil
		}
		zr.Close()
		return nil, fmt.Errorf("zip dump %s is empty", path)

	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open dump: %w", err)
		}
		return f, nil
	}
}
