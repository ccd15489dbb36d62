package zip

import (
	"hash/crc32"
	"io"
)

// Open returns a reader over the decompressed, decrypted, CRC-verified
// payload of fh, using whatever password was supplied via SetPassword.
// Per the layered-reader contract, the CRC32 check only happens once the
// stream is read to its natural end; a caller that abandons the read
// early never triggers it.
func (z *Reader) Open(fh *FileHeader) (io.ReadCloser, error) {
	return z.OpenPassword(fh, "")
}

// OpenPassword is like Open but supplies an explicit password, overriding
// any set via FileHeader.SetPassword.
func (z *Reader) OpenPassword(fh *FileHeader, password string) (io.ReadCloser, error) {
	dataStart, err := z.entryDataStart(fh)
	if err != nil {
		return nil, err
	}

	bounded := io.NewSectionReader(z.r, int64(dataStart), int64(fh.CompressedSize64))
	var body io.Reader = bounded
	checkCRC := true

	if fh.Encrypted {
		pw, ok := resolvePassword(fh, password)
		if !ok {
			return nil, unsupportedArchive("password required for %q", fh.Name)
		}
		switch {
		case fh.AES != nil:
			body, err = newAESReader(bounded, int64(fh.CompressedSize64), []byte(pw), fh.AES)
			if err != nil {
				return nil, err
			}
			if fh.AES.Vendor == AEVersion2 {
				// AE-2 voids the stored CRC32; the HMAC tag already
				// authenticates the payload.
				checkCRC = false
			}
		default:
			checkByte := zipCryptoCheckByte(fh.CRC32, fh.ModifiedTime, fh.Flags&flagDataDescriptor != 0)
			zc, zerr := newZipCryptoReader(bounded, []byte(pw), checkByte)
			if zerr != nil {
				return nil, zerr
			}
			body = zc
		}
	}

	dec, ok := lookupDecompressor(z.decompressors, fh.Method)
	if !ok {
		return nil, unsupportedArchive("compression method %s not supported", fh.Method)
	}
	rc, err := dec(body)
	if err != nil {
		return nil, err
	}

	if !checkCRC {
		return rc, nil
	}
	return &crcVerifyReader{r: rc, hash: crc32.NewIEEE(), want: fh.CRC32}, nil
}

// OpenRaw returns the entry's compressed, still-encrypted bytes verbatim,
// with no decryption, decompression, or CRC verification layered on top.
// ByIndexRaw is built on it.
func (z *Reader) OpenRaw(fh *FileHeader) (io.Reader, error) {
	dataStart, err := z.entryDataStart(fh)
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(z.r, int64(dataStart), int64(fh.CompressedSize64)), nil
}

func (z *Reader) entryDataStart(fh *FileHeader) (uint64, error) {
	if v, ok := fh.dataStart.Load(); ok {
		return v, nil
	}
	v, err := computeAndValidateDataStart(z.r, fh)
	if err != nil {
		return 0, err
	}
	return fh.dataStart.Set(v), nil
}

func resolvePassword(fh *FileHeader, explicit string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	if fh.password != nil {
		return fh.password()
	}
	return "", false
}

// crcVerifyReader wraps a decompressed entry stream, accumulating a
// running CRC32 and comparing it against the expected value only once the
// wrapped reader reports io.EOF.
type crcVerifyReader struct {
	r          io.ReadCloser
	hash       hashIEEE
	want       uint32
	pendingErr error
}

type hashIEEE interface {
	io.Writer
	Sum32() uint32
}

func (c *crcVerifyReader) Read(p []byte) (int, error) {
	if c.pendingErr != nil {
		return 0, c.pendingErr
	}
	n, err := c.r.Read(p)
	if n > 0 {
		c.hash.Write(p[:n])
	}
	if err == io.EOF {
		if c.hash.Sum32() != c.want {
			if n > 0 {
				c.pendingErr = ErrChecksum
				return n, nil
			}
			return 0, ErrChecksum
		}
	}
	return n, err
}

func (c *crcVerifyReader) Close() error { return c.r.Close() }
