// Package jsonfile reads and atomically replaces whole JSON documents.
//
// A document is never written in place: the new content goes to a temporary
// file in the same directory which is fsynced and renamed over the target, so
// an interrupted write leaves the previous version readable.
package jsonfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
)

// MalformedError reports a document that exists but cannot be used.
type MalformedError struct {
	Path string
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed document %s: %v", e.Path, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Malformed wraps err as a *MalformedError for path.
func Malformed(path string, err error) error {
	return &MalformedError{Path: path, Err: err}
}

// IsMalformed reports whether err is (or wraps) a *MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// Read decodes the document at path into v. found is false when the file does
// not exist. A document that fails to decode yields a *MalformedError.
func Read(path string, v any) (found bool, err error) {
	data, err := os.ReadFile(path)
	// A path running through a regular file cannot exist either.
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return true, Malformed(path, errors.New("empty file"))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, Malformed(path, err)
	}
	return true, nil
}

// Write encodes v as indented JSON and atomically replaces path with it.
func Write(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Quarantine moves an unusable document aside so a fresh one can take its
// place without destroying the evidence. It returns the new location.
func Quarantine(path string, now time.Time) (string, error) {
	dst := fmt.Sprintf("%s.corrupt-%s", path, now.UTC().Format("20060102T150405Z"))
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("quarantining %s: %w", path, err)
	}
	return dst, nil
}
