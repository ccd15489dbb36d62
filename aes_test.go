package zip

import (
	"io"
	"testing"
)

func TestAES256RoundTrip(t *testing.T) {
	sink := &sliceSink{}
	w := NewWriter(sink)
	fh := newFileHeader()
	fh.Name = "aes.txt"
	fh.Method = Deflate
	fh.SetPassword("another password entirely")
	fw, err := w.CreateHeader(fh, WithAES(256))
	if err != nil {
		t.Fatalf("CreateHeader: %v", err)
	}
	content := []byte("AES-encrypted payload protected with a 256 bit key")
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	zr := mustOpenReader(t, sink.buf)
	got, err := zr.ByName("aes.txt")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	if got.AES == nil {
		t.Fatalf("AES descriptor missing after round trip")
	}
	if got.AES.KeySize != 256 {
		t.Errorf("AES.KeySize = %d, want 256", got.AES.KeySize)
	}
	if got.AES.Vendor != AEVersion2 {
		t.Errorf("AES.Vendor = %d, want AEVersion2", got.AES.Vendor)
	}
	if got.AES.Method != Deflate {
		t.Errorf("AES.Method = %v, want Deflate (the inner method)", got.AES.Method)
	}

	rc, err := zr.OpenPassword(got, "another password entirely")
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

func TestAESWrongPasswordRejected(t *testing.T) {
	sink := &sliceSink{}
	w := NewWriter(sink)
	fh := newFileHeader()
	fh.Name = "aes.txt"
	fh.Method = Store
	fh.SetPassword("right one")
	fw, err := w.CreateHeader(fh, WithAES(128))
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
	got, err := zr.ByName("aes.txt")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	_, err = zr.OpenPassword(got, "wrong one")
	if _, ok := err.(*InvalidPasswordError); !ok {
		t.Fatalf("error = %v (%T), want *InvalidPasswordError", err, err)
	}
}

func TestAESVendor1KeepsCRCCheck(t *testing.T) {
	sink := &sliceSink{}
	w := NewWriter(sink)
	fh := newFileHeader()
	fh.Name = "ae1.txt"
	fh.Method = Store
	fh.SetPassword("a password")
	fw, err := w.CreateHeader(fh, WithAESVendor(128, AEVersion1))
	if err != nil {
		t.Fatalf("CreateHeader: %v", err)
	}
	content := []byte("AE-1 entries still carry a meaningful CRC32")
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	zr := mustOpenReader(t, sink.buf)
	got, err := zr.ByName("ae1.txt")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	if got.AES.Vendor != AEVersion1 {
		t.Fatalf("AES.Vendor = %d, want AEVersion1", got.AES.Vendor)
	}

	rc, err := zr.OpenPassword(got, "a password")
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
