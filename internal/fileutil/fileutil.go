// Package fileutil holds filesystem helpers for spooling uploaded
// documents onto local disk before they enter the pipeline.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// maxNameAttempts bounds collision renaming before SaveStream gives up.
const maxNameAttempts = 1000

// EnsureDir creates the directory (and parents) when missing.
func EnsureDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("directory path is empty")
	}
	return os.MkdirAll(dir, 0o755)
}

// SanitizeName reduces an untrusted file name to a safe basename. Path
// separators and control characters become underscores; names that clean
// away entirely fall back to "document".
func SanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == 0:
			b.WriteRune('_')
		case unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), ". ")
	if cleaned == "" {
		return "document"
	}
	return cleaned
}

// SaveStream spools the reader into dir under a sanitized version of name,
// numbering the file on collision. The partial file is removed on any
// write failure. Returns the final path and the number of bytes written.
func SaveStream(r io.Reader, dir, name string) (string, int64, error) {
	if err := EnsureDir(dir); err != nil {
		return "", 0, fmt.Errorf("create spool directory: %w", err)
	}

	base := SanitizeName(name)
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		path := filepath.Join(dir, numberedName(base, attempt))
		out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", 0, fmt.Errorf("create spool file: %w", err)
		}

		written, err := io.Copy(out, r)
		if err != nil {
			_ = out.Close()
			_ = os.Remove(path)
			return "", 0, fmt.Errorf("write spool file: %w", err)
		}
		if err := out.Close(); err != nil {
			_ = os.Remove(path)
			return "", 0, fmt.Errorf("close spool file: %w", err)
		}
		return path, written, nil
	}
	return "", 0, fmt.Errorf("no free name for %q after %d attempts", base, maxNameAttempts)
}

// numberedName inserts the attempt counter before the extension, leaving
// the first attempt unnumbered.
func numberedName(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s-%d%s", stem, attempt, ext)
}
