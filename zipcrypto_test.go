package zip

import (
	"io"
	"testing"
)

func TestZipCryptoRoundTrip(t *testing.T) {
	sink := &sliceSink{}
	w := NewWriter(sink)
	fh := newFileHeader()
	fh.Name = "secret.txt"
	fh.Method = Deflate
	fh.SetPassword("correct horse battery staple")
	fw, err := w.CreateHeader(fh)
	if err != nil {
		t.Fatalf("CreateHeader: %v", err)
	}
	content := []byte("this text is only for people who know the password")
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	zr := mustOpenReader(t, sink.buf)
	got, err := zr.ByName("secret.txt")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	if !got.Encrypted {
		t.Fatalf("Encrypted = false, want true")
	}

	rc, err := zr.OpenPassword(got, "correct horse battery staple")
	if err != nil {
		t.Fatalf("OpenPassword: %v", err)
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

func TestZipCryptoWrongPasswordRejected(t *testing.T) {
	sink := &sliceSink{}
	w := NewWriter(sink)
	fh := newFileHeader()
	fh.Name = "secret.txt"
	fh.Method = Store
	fh.SetPassword("right password")
	fw, err := w.CreateHeader(fh)
	if err != nil {
		t.Fatalf("CreateHeader: %v", err)
	}
	if _, err := fw.Write([]byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	zr := mustOpenReader(t, sink.buf)
	got, err := zr.ByName("secret.txt")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	_, err = zr.OpenPassword(got, "wrong password")
	if _, ok := err.(*InvalidPasswordError); !ok {
		t.Fatalf("error = %v (%T), want *InvalidPasswordError", err, err)
	}
}

func TestZipCryptoMissingPasswordUnsupported(t *testing.T) {
	sink := &sliceSink{}
	w := NewWriter(sink)
	fh := newFileHeader()
	fh.Name = "secret.txt"
	fh.Method = Store
	fh.SetPassword("a password")
	if _, err := w.CreateHeader(fh); err != nil {
		t.Fatalf("CreateHeader: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	zr := mustOpenReader(t, sink.buf)
	got, err := zr.ByName("secret.txt")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	_, err = zr.Open(got)
	if _, ok := err.(*UnsupportedArchiveError); !ok {
		t.Fatalf("error = %v (%T), want *UnsupportedArchiveError", err, err)
	}
}
