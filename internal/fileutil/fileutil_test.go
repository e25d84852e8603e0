package fileutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"  spaced.pdf  ", "spaced.pdf"},
		{"../../etc/passwd", "passwd"},
		{"dir/nested.pdf", "nested.pdf"},
		{"bad\x00name.pdf", "bad_name.pdf"},
		{"tabs\there.pdf", "tabs_here.pdf"},
		{"...", "document"},
		{"", "document"},
	}
	for _, tc := range cases {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Fatalf("SanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSaveStream(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")
	content := "uploaded document body"

	path, written, err := SaveStream(strings.NewReader(content), dir, "report.pdf")
	if err != nil {
		t.Fatalf("SaveStream: %v", err)
	}
	if written != int64(len(content)) {
		t.Fatalf("expected %d bytes written, got %d", len(content), written)
	}
	if filepath.Base(path) != "report.pdf" {
		t.Fatalf("unexpected spool name: %s", path)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read spooled file: %v", err)
	}
	if string(got) != content {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
}

func TestSaveStreamNumbersCollisions(t *testing.T) {
	dir := t.TempDir()

	first, _, err := SaveStream(strings.NewReader("one"), dir, "report.pdf")
	if err != nil {
		t.Fatalf("first SaveStream: %v", err)
	}
	second, _, err := SaveStream(strings.NewReader("two"), dir, "report.pdf")
	if err != nil {
		t.Fatalf("second SaveStream: %v", err)
	}

	if first == second {
		t.Fatalf("expected distinct spool paths, both %s", first)
	}
	if filepath.Base(second) != "report-1.pdf" {
		t.Fatalf("expected numbered name report-1.pdf, got %s", filepath.Base(second))
	}
}

func TestSaveStreamSanitizesTraversal(t *testing.T) {
	dir := t.TempDir()

	path, _, err := SaveStream(strings.NewReader("data"), dir, "../../escape.pdf")
	if err != nil {
		t.Fatalf("SaveStream: %v", err)
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		t.Fatalf("expected spool file inside %s, got %s", dir, path)
	}
}

func TestEnsureDirRejectsEmptyPath(t *testing.T) {
	if err := EnsureDir("  "); err == nil {
		t.Fatalf("expected error for empty directory path")
	}
}
