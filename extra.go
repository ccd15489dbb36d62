package zip

import (
	"hash/crc32"
	"time"
)

// extraFieldSentinels tracks which fixed-width fields of the header that
// is currently being parsed were stored as the ZIP64 "use the extra field
// instead" sentinel (0xFFFFFFFF), in the documented field order: original
// size, compressed size, local header offset, disk number.
type extraFieldSentinels struct {
	uncompressedSize bool
	compressedSize   bool
	headerOffset     bool
	diskNumber       bool
}

func (s extraFieldSentinels) any() bool {
	return s.uncompressedSize || s.compressedSize || s.headerOffset || s.diskNumber
}

// parseExtraFields walks the TLV sequence in extra, dispatching recognized
// tags into fh's side-band fields. The ZIP64 extended-info block (0x0001)
// is consumed and stripped from the blob retained on fh.Extra, since it is
// always regenerated from scratch on write; every other tag, recognized or
// not, is preserved verbatim.
func parseExtraFields(fh *FileHeader, extra []byte, sentinels extraFieldSentinels) error {
	var kept []byte
	aesOffset := -1

	b := readBuf(extra)
	for len(b) >= 4 {
		tag := b.uint16()
		size := int(b.uint16())
		if size > len(b) {
			return invalidArchive("extra field %#x declares length %d beyond remaining %d bytes", tag, size, len(b))
		}
		data := b.sub(size)

		switch tag {
		case zip64ExtraID:
			if err := applyZip64Extra(fh, data, sentinels); err != nil {
				return err
			}
			fh.LargeFile = true
			// Stripped: not appended to kept.
			continue

		case winzipAesExtraID:
			if err := applyAESExtra(fh, data); err != nil {
				return err
			}
			aesOffset = len(kept)

		case extTimeExtraID:
			if err := applyExtendedTimestamp(fh, data); err != nil {
				return err
			}

		case ntfsExtraID:
			applyNTFSExtra(fh, data)

		case unicodeCommentID:
			applyUnicodeOverride(data, fh.CommentRaw, &fh.Comment)

		case unicodePathID:
			applyUnicodeOverride(data, fh.NameRaw, &fh.Name)
		}

		kept = append(kept, encodeExtraHeader(tag, size)...)
		kept = append(kept, data...)
	}

	fh.Extra = kept
	fh.aesExtraOffset = aesOffset
	return nil
}

func encodeExtraHeader(tag uint16, size int) []byte {
	var buf [4]byte
	w := writeBuf(buf[:])
	w.uint16(tag)
	w.uint16(uint16(size))
	return buf[:]
}

// applyZip64Extra promotes sentinel 32-bit fields to their 64-bit values,
// in the documented order, consuming only as many 8-byte (or 4-byte, for
// the disk number) fields as the caller's sentinel flags call for.
func applyZip64Extra(fh *FileHeader, data []byte, sentinels extraFieldSentinels) error {
	if !sentinels.any() {
		// Nothing to promote; tolerate the field and move on so the
		// caller stays in sync with the rest of the extra blob.
		return nil
	}
	b := readBuf(data)
	if sentinels.uncompressedSize {
		if len(b) < 8 {
			return invalidArchive("zip64 extra field too short for uncompressed size")
		}
		fh.UncompressedSize64 = b.uint64()
	}
	if sentinels.compressedSize {
		if len(b) < 8 {
			return invalidArchive("zip64 extra field too short for compressed size")
		}
		fh.CompressedSize64 = b.uint64()
	}
	if sentinels.headerOffset {
		if len(b) < 8 {
			return invalidArchive("zip64 extra field too short for header offset")
		}
		fh.headerStart = b.uint64()
	}
	if sentinels.diskNumber {
		if len(b) >= 4 {
			b.uint32()
		}
	}
	return nil
}

// applyAESExtra parses the WinZip AES (0x9901) extra field: vendor
// version, vendor ID (must be "AE"), key strength, and the inner
// compression method that was applied before encryption.
func applyAESExtra(fh *FileHeader, data []byte) error {
	if len(data) != 7 {
		return invalidArchive("AES extra field has length %d, want 7", len(data))
	}
	b := readBuf(data)
	vendor := b.uint16()
	vendorID := b.uint16()
	if vendorID != winzipAesVendorID {
		return invalidArchive("AES extra field has vendor ID %#x, want %#x", vendorID, winzipAesVendorID)
	}
	strength := b.uint8()
	innerMethod := Method(b.uint16())

	var keySize int
	switch strength {
	case 1:
		keySize = 128
	case 2:
		keySize = 192
	case 3:
		keySize = 256
	default:
		return invalidArchive("AES extra field has unknown strength %d", strength)
	}

	fh.AES = &AESExtra{KeySize: keySize, Vendor: vendor, Method: innerMethod}
	fh.Method = innerMethod
	return nil
}

// applyExtendedTimestamp parses the Info-ZIP extended timestamp (0x5455)
// extra field: a flags byte followed by a 4-byte Unix epoch second value
// for each of mtime/atime/ctime that is flagged present.
func applyExtendedTimestamp(fh *FileHeader, data []byte) error {
	if len(data) < 1 {
		return invalidArchive("extended timestamp extra field is empty")
	}
	b := readBuf(data)
	flags := b.uint8()
	ts := &ExtendedTimestamp{}
	if flags&1 != 0 {
		if len(b) < 4 {
			return invalidArchive("extended timestamp extra field missing mtime")
		}
		ts.HasMtime = true
		ts.Mtime = time.Unix(int64(int32(b.uint32())), 0).UTC()
		fh.Modified = ts.Mtime
	}
	if flags&2 != 0 && len(b) >= 4 {
		ts.HasAtime = true
		ts.Atime = time.Unix(int64(int32(b.uint32())), 0).UTC()
	}
	if flags&4 != 0 && len(b) >= 4 {
		ts.HasCtime = true
		ts.Ctime = time.Unix(int64(int32(b.uint32())), 0).UTC()
	}
	fh.ExtendedTimestamp = ts
	return nil
}

const ntfsTicksPerSecond = 1e7

var ntfsEpoch = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)

// applyNTFSExtra parses the NTFS (0x000a) extra field: a reserved 4 bytes
// followed by a sequence of (tag, size, data) sub-attributes; only
// sub-attribute 1 (the standard mtime/atime/ctime triple, in 100ns ticks
// since 1601) is recognized.
func applyNTFSExtra(fh *FileHeader, data []byte) {
	if len(data) < 4 {
		return
	}
	b := readBuf(data)
	b.uint32() // reserved
	for len(b) >= 4 {
		attrTag := b.uint16()
		attrSize := int(b.uint16())
		if attrSize > len(b) {
			return
		}
		attr := b.sub(attrSize)
		if attrTag != 1 || attrSize != 24 {
			continue
		}
		ab := readBuf(attr)
		mtime := ntfsTicksToTime(ab.uint64())
		atime := ntfsTicksToTime(ab.uint64())
		ctime := ntfsTicksToTime(ab.uint64())
		fh.NTFSTimes = &NTFSTimes{Mtime: mtime, Atime: atime, Ctime: ctime}
		fh.Modified = mtime
	}
}

func ntfsTicksToTime(ticks uint64) time.Time {
	secs := int64(ticks / ntfsTicksPerSecond)
	nsecs := (1e9 / ntfsTicksPerSecond) * int64(ticks%ntfsTicksPerSecond)
	return ntfsEpoch.Add(time.Duration(secs)*time.Second + time.Duration(nsecs)*time.Nanosecond)
}

// applyUnicodeOverride validates the CRC32 carried by an Info-ZIP Unicode
// path/comment extra field against the raw bytes it overrides, and if it
// matches, replaces *decoded with the UTF-8 text from the extra field.
func applyUnicodeOverride(data []byte, rawBytes []byte, decoded *string) {
	if len(data) < 5 {
		return
	}
	b := readBuf(data)
	b.uint8() // version, always 1
	wantCRC := b.uint32()
	if crc32.ChecksumIEEE(rawBytes) != wantCRC {
		return
	}
	*decoded = string(b)
}

// buildZip64Extra renders a ZIP64 extended-info extra field in the
// documented order. Both sizes are always included; wantOffset adds the
// local header offset after them. In the central directory the writer sets
// every header field the block carries to the 0xFFFFFFFF sentinel, so a
// reader consumes all of it.
func buildZip64Extra(uncompressed, compressed, headerOffset uint64, wantOffset bool) []byte {
	n := 2
	if wantOffset {
		n++
	}
	buf := make([]byte, 4+8*n)
	w := writeBuf(buf)
	w.uint16(zip64ExtraID)
	w.uint16(uint16(8 * n))
	w.uint64(uncompressed)
	w.uint64(compressed)
	if wantOffset {
		w.uint64(headerOffset)
	}
	return buf
}
