package booktext

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractPlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.txt")
	content := "Call me Ishmael.\n\nSome years ago\tnever mind how long precisely."
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Extract("book.txt", path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := "Call me Ishmael. Some years ago never mind how long precisely."
	if got.Text != want {
		t.Fatalf("text = %q", got.Text)
	}
	if got.Pages != 1 {
		t.Fatalf("pages = %d", got.Pages)
	}
}

func TestExtractPlainTextEstimatesPages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "long.txt")
	if err := os.WriteFile(path, []byte(strings.Repeat("a ", 3*runesPerPage)), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Extract("long.txt", path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	// 3*runesPerPage*2 bytes minus the trailing space leaves just under
	// six pages of runes.
	if got.Pages < 3 || got.Pages > 6 {
		t.Fatalf("pages = %d", got.Pages)
	}
}

func TestExtractEmptyFileFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(path, []byte("   \n\t "), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Extract("empty.txt", path); err == nil {
		t.Fatalf("expected an error for a file with no text")
	}
}

func TestExtractEPUB(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.epub")
	writeEPUB(t, path, map[string]string{
		"OEBPS/ch01.xhtml": `<html><body><h1>Loomings</h1><p>Call me Ishmael.</p><script>ignored()</script></body></html>`,
		"OEBPS/ch02.xhtml": `<html><body><p>Some years ago.</p></body></html>`,
		"OEBPS/cover.jpg":  "not html",
	})

	got, err := Extract("book.epub", path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(got.Text, "Call me Ishmael.") {
		t.Fatalf("missing chapter text: %q", got.Text)
	}
	if strings.Contains(got.Text, "ignored()") {
		t.Fatalf("script content leaked: %q", got.Text)
	}
	first := strings.Index(got.Text, "Call me Ishmael.")
	second := strings.Index(got.Text, "Some years ago.")
	if second < first {
		t.Fatalf("sections out of order: %q", got.Text)
	}
	if got.Pages != 1 {
		t.Fatalf("pages = %d", got.Pages)
	}
}

func TestExtractEPUBWithoutContentFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.epub")
	writeEPUB(t, path, map[string]string{"mimetype": "application/epub+zip"})

	if _, err := Extract("empty.epub", path); err == nil {
		t.Fatalf("expected an error for an epub with no html")
	}
}

func writeEPUB(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
