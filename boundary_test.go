package zip

import (
	"bytes"
	"io"
	"testing"

	"go4.org/readerutil"
)

// sizedReaderAt mirrors what OpenReader needs: random access plus a known
// total size, so fixtures built by composing several io.ReaderAt sources
// (via go4.org/readerutil) can be handed to OpenReader without first being
// materialized into one contiguous byte slice.
type sizedReaderAt interface {
	io.ReaderAt
	Size() int64
}

// prependedJunk builds a ReaderAt presenting junk followed immediately by
// archive, without copying archive into a new buffer, the same composition
// technique the teacher's own test suite used (readerutil.NewMultiReaderAt)
// to build synthetic multi-part fixtures.
func prependedJunk(junk string, archive []byte) readerutil.SizeReaderAt {
	return readerutil.NewMultiReaderAt(
		bytes.NewReader([]byte(junk)),
		bytes.NewReader(archive),
	)
}

// TestPrependedJunkTolerance covers testable property #6 and boundary
// scenario S5: an archive with arbitrary bytes (here, a shebang line, as a
// self-extracting script would have) prepended ahead of the local file
// header must still open correctly, with every offset corrected by the
// junk's length.
func TestPrependedJunkTolerance(t *testing.T) {
	sink := &sliceSink{}
	w := NewWriter(sink)
	fw, err := w.Create("payload.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	content := []byte("content behind a shebang-prefixed self-extractor")
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	junk := "#!/bin/sh\nexec unzip -qq \"$0\" -d \"$1\"\nexit $?\n"
	composed := prependedJunk(junk, sink.buf)

	zr, err := OpenReader(composed, composed.Size())
	if err != nil {
		t.Fatalf("OpenReader with prepended junk: %v", err)
	}
	fh, err := zr.ByName("payload.txt")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	rc, err := zr.Open(fh)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q want %q", got, content)
	}
}

// TestPrependedJunkWithKnownOffset exercises the KnownOffset policy against
// the same composed fixture, instead of relying on auto-detection.
func TestPrependedJunkWithKnownOffset(t *testing.T) {
	sink := &sliceSink{}
	w := NewWriter(sink)
	if _, err := w.Create("a.txt"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	junk := "junk-prefix-of-arbitrary-length"
	composed := prependedJunk(junk, sink.buf)

	zr, err := OpenReader(composed, composed.Size(), WithOffsetPolicy(KnownOffset(int64(len(junk)))))
	if err != nil {
		t.Fatalf("OpenReader with KnownOffset: %v", err)
	}
	if _, err := zr.ByName("a.txt"); err != nil {
		t.Fatalf("ByName: %v", err)
	}
}

// TestEmptyArchive covers boundary scenario S1: a valid archive with zero
// entries must open cleanly and report IsEmpty.
func TestEmptyArchive(t *testing.T) {
	sink := &sliceSink{}
	w := NewWriter(sink)
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	zr := mustOpenReader(t, sink.buf)
	if !zr.IsEmpty() {
		t.Errorf("IsEmpty() = false, want true")
	}
	if zr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", zr.Len())
	}
}

// TestDuplicateNamesFirstWins covers the "legal, if unusual" duplicate-name
// case spec.md calls out: IndexForName/ByName resolve to the first
// occurrence, while Names()/Len() still reflect every record.
func TestDuplicateNamesFirstWins(t *testing.T) {
	sink := &sliceSink{}
	w := NewWriter(sink)
	fw1, err := w.Create("dup.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := fw1.Write([]byte("first")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	fw2, err := w.Create("dup.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := fw2.Write([]byte("second")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	zr := mustOpenReader(t, sink.buf)
	if zr.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", zr.Len())
	}
	fh, err := zr.ByName("dup.txt")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	rc, err := zr.Open(fh)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "first" {
		t.Fatalf("ByName(dup.txt) resolved to %q, want the first occurrence %q", got, "first")
	}
}
