package zip

import (
	"io"
	"testing"
)

func TestNewAppendAddsToExistingArchive(t *testing.T) {
	sink := &sliceSink{}
	w := NewWriter(sink)
	if _, err := w.Create("first.txt"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	aw, err := NewAppend(sink, int64(len(sink.buf)))
	if err != nil {
		t.Fatalf("NewAppend: %v", err)
	}
	fw, err := aw.Create("second.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := fw.Write([]byte("appended")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := aw.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	zr := mustOpenReader(t, sink.buf)
	if zr.Len() != 2 {
		t.Fatalf("Len = %d, want 2", zr.Len())
	}
	for _, name := range []string{"first.txt", "second.txt"} {
		if _, err := zr.ByName(name); err != nil {
			t.Errorf("ByName(%q): %v", name, err)
		}
	}
}

func TestRawCopyFileReusesCompressedBytes(t *testing.T) {
	srcSink := &sliceSink{}
	srcW := NewWriter(srcSink)
	fh := newFileHeader()
	fh.Name = "orig.txt"
	fh.Method = Deflate
	fw, err := srcW.CreateHeader(fh)
	if err != nil {
		t.Fatalf("CreateHeader: %v", err)
	}
	content := []byte("content that will be raw-copied between archives")
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := srcW.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	srcR := mustOpenReader(t, srcSink.buf)
	srcFH, err := srcR.ByName("orig.txt")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}

	dstSink := &sliceSink{}
	dstW := NewWriter(dstSink)
	if err := dstW.RawCopyFile(srcR, srcFH); err != nil {
		t.Fatalf("RawCopyFile: %v", err)
	}
	if err := dstW.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	dstR := mustOpenReader(t, dstSink.buf)
	got, err := dstR.ByName("orig.txt")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	rc, err := dstR.Open(got)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != string(content) {
		t.Fatalf("content mismatch: got %q want %q", data, content)
	}
}

func TestDeepCopyFileUnderNewName(t *testing.T) {
	sink := &sliceSink{}
	w := NewWriter(sink)
	fh := newFileHeader()
	fh.Name = "one.txt"
	fh.Method = Store
	fw, err := w.CreateHeader(fh)
	if err != nil {
		t.Fatalf("CreateHeader: %v", err)
	}
	content := []byte("deep copy source content")
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := w.finishEntry(); err != nil {
		t.Fatalf("finishEntry: %v", err)
	}
	existing := w.dir[len(w.dir)-1]

	if err := w.DeepCopyFile(existing, "two.txt"); err != nil {
		t.Fatalf("DeepCopyFile: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	zr := mustOpenReader(t, sink.buf)
	for _, name := range []string{"one.txt", "two.txt"} {
		got, err := zr.ByName(name)
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		rc, err := zr.Open(got)
		if err != nil {
			t.Fatalf("Open(%q): %v", name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("ReadAll(%q): %v", name, err)
		}
		if string(data) != string(content) {
			t.Fatalf("%s content mismatch: got %q want %q", name, data, content)
		}
	}
}

func TestShallowCopyFileAliasesLocalHeader(t *testing.T) {
	sink := &sliceSink{}
	w := NewWriter(sink)
	fh := newFileHeader()
	fh.Name = "alpha.txt"
	fh.Method = Store
	fw, err := w.CreateHeader(fh)
	if err != nil {
		t.Fatalf("CreateHeader: %v", err)
	}
	if _, err := fw.Write([]byte("shared payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.finishEntry(); err != nil {
		t.Fatalf("finishEntry: %v", err)
	}
	existing := w.dir[len(w.dir)-1]

	if err := w.ShallowCopyFile(existing, "beta.txt"); err != nil {
		t.Fatalf("ShallowCopyFile: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	zr := mustOpenReader(t, sink.buf)
	alpha, err := zr.ByName("alpha.txt")
	if err != nil {
		t.Fatalf("ByName(alpha): %v", err)
	}
	beta, err := zr.ByName("beta.txt")
	if err != nil {
		t.Fatalf("ByName(beta): %v", err)
	}
	if alpha.headerStart != beta.headerStart {
		t.Errorf("shallow copy should alias the same local header start")
	}

	rc, err := zr.Open(beta)
	if err != nil {
		t.Fatalf("Open(beta): %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll(beta): %v", err)
	}
	if string(data) != "shared payload" {
		t.Fatalf("beta content = %q, want %q", data, "shared payload")
	}
}

func TestMergeArchiveRebasesOffsets(t *testing.T) {
	otherSink := &sliceSink{}
	otherW := NewWriter(otherSink)
	if _, err := otherW.Create("m1.txt"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	fw, err := otherW.Create("m2.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := fw.Write([]byte("merged entry content")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := otherW.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	other := mustOpenReader(t, otherSink.buf)

	dstSink := &sliceSink{}
	dstW := NewWriter(dstSink)
	if _, err := dstW.Create("existing.txt"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := dstW.MergeArchive(other); err != nil {
		t.Fatalf("MergeArchive: %v", err)
	}
	if err := dstW.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	zr := mustOpenReader(t, dstSink.buf)
	if zr.Len() != 3 {
		t.Fatalf("Len = %d, want 3", zr.Len())
	}
	got, err := zr.ByName("m2.txt")
	if err != nil {
		t.Fatalf("ByName(m2.txt): %v", err)
	}
	rc, err := zr.Open(got)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "merged entry content" {
		t.Fatalf("content mismatch: got %q", data)
	}
}
