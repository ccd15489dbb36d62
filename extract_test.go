package zip

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestExtractWritesFilesAndDirectories(t *testing.T) {
	sink := &sliceSink{}
	w := NewWriter(sink)

	dirHeader := newFileHeader()
	dirHeader.Name = "sub/"
	if _, err := w.CreateHeader(dirHeader); err != nil {
		t.Fatalf("CreateHeader(sub/): %v", err)
	}

	fileHeader := newFileHeader()
	fileHeader.Name = "sub/leaf.txt"
	fileHeader.Method = Deflate
	fw, err := w.CreateHeader(fileHeader)
	if err != nil {
		t.Fatalf("CreateHeader(leaf): %v", err)
	}
	content := []byte("extracted content")
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	zr := mustOpenReader(t, sink.buf)
	dir := t.TempDir()
	if err := zr.Extract(dir); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "sub", "leaf.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("content = %q, want %q", got, content)
	}

	info, err := os.Stat(filepath.Join(dir, "sub"))
	if err != nil {
		t.Fatalf("Stat(sub): %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("sub is not a directory")
	}
}

func TestExtractRejectsTraversalNames(t *testing.T) {
	sink := &sliceSink{}
	w := NewWriter(sink)
	fh := newFileHeader()
	fh.Name = "../escape.txt"
	fw, err := w.CreateHeader(fh)
	if err != nil {
		t.Fatalf("CreateHeader: %v", err)
	}
	if _, err := fw.Write([]byte("should not escape")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	zr := mustOpenReader(t, sink.buf)
	dir := t.TempDir()
	if err := zr.Extract(dir); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt")); err == nil {
		t.Fatalf("traversal entry escaped the extraction directory")
	}
}

func TestExtractSymlink(t *testing.T) {
	sink := &sliceSink{}
	w := NewWriter(sink)

	targetHeader := newFileHeader()
	targetHeader.Name = "target.txt"
	fw, err := w.CreateHeader(targetHeader)
	if err != nil {
		t.Fatalf("CreateHeader(target): %v", err)
	}
	if _, err := fw.Write([]byte("target content")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	linkHeader := newFileHeader()
	linkHeader.Name = "link.txt"
	linkHeader.SetMode(os.ModeSymlink | 0o777)
	lw, err := w.CreateHeader(linkHeader)
	if err != nil {
		t.Fatalf("CreateHeader(link): %v", err)
	}
	if _, err := lw.Write([]byte("target.txt")); err != nil {
		t.Fatalf("Write(link): %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	zr := mustOpenReader(t, sink.buf)
	dir := t.TempDir()
	if err := zr.Extract(dir); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	linkPath := filepath.Join(dir, "link.txt")
	info, err := os.Lstat(linkPath)
	if err != nil {
		t.Fatalf("Lstat: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		// Platform rejected symlink creation; the fallback regular-file
		// path is also valid per extractSymlink's documented behavior.
		data, err := os.ReadFile(linkPath)
		if err != nil {
			t.Fatalf("ReadFile fallback: %v", err)
		}
		if string(data) != "target.txt" {
			t.Fatalf("fallback content = %q, want %q", data, "target.txt")
		}
		return
	}

	f, err := os.Open(linkPath)
	if err != nil {
		t.Fatalf("Open through symlink: %v", err)
	}
	defer f.Close()
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "target content" {
		t.Fatalf("symlink target content = %q, want %q", got, "target content")
	}
}
