package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// FileSource yields local files matching a glob pattern. PDF files are
// reduced to their plain text; everything else is read as-is.
type FileSource struct {
	pattern  string
	matches  []string
	pos      int
	expanded bool
}

// NewFileSource creates a source over files matching pattern. The pattern
// follows filepath.Glob syntax; a plain path matches just that file.
func NewFileSource(pattern string) *FileSource {
	return &FileSource{pattern: pattern}
}

func (s *FileSource) Next(ctx context.Context) (*Item, error) {
	if !s.expanded {
		matches, err := filepath.Glob(s.pattern)
		if err != nil {
			return nil, &EnumerationError{Err: fmt.Errorf("bad pattern %q: %w", s.pattern, err)}
		}
		if len(matches) == 0 {
			// A literal path that doesn't exist is an enumeration failure;
			// a wildcard that matches nothing is an empty job.
			if !strings.ContainsAny(s.pattern, "*?[") {
				return nil, &EnumerationError{Err: fmt.Errorf("no such file: %s", s.pattern)}
			}
		}
		s.matches = matches
		s.expanded = true
	}

	for s.pos < len(s.matches) {
		path := s.matches[s.pos]
		s.pos++

		info, err := os.Stat(path)
		if err != nil {
			return nil, &EnumerationError{Err: err}
		}
		if info.IsDir() {
			continue
		}

		meta := map[string]any{"source": "file", "path": path}
		return NewLazyItem(filepath.ToSlash(path), meta, func(ctx context.Context) ([]byte, error) {
			return readFile(path)
		}), nil
	}
	return nil, nil
}

func readFile(path string) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return extractPDFText(path)
	}
	return os.ReadFile(path)
}

func extractPDFText(path string) ([]byte, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	text, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extracting pdf text from %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(text); err != nil {
		return nil, fmt.Errorf("reading pdf text from %s: %w", path, err)
	}
	return buf.Bytes(), nil
}
