// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"os"
	"path"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// FileHeader is the canonical per-entry record. It unifies what was read
// from the central directory header and its extra-field blocks with the
// payload offset found from the local file header, into one value that
// callers deal with regardless of where the archive came from. Trailing
// data descriptors are not read.
type FileHeader struct {
	// Name is the decoded, UTF-8 entry name. A trailing slash marks a
	// directory entry.
	Name string

	// NameRaw holds the bytes of Name exactly as stored on disk, before
	// the CP437/UTF-8 decoding rule was applied, so that callers needing
	// byte-exact round-tripping are not at the mercy of the decoder.
	NameRaw []byte

	// Comment is the decoded entry comment.
	Comment string

	// CommentRaw mirrors NameRaw for Comment.
	CommentRaw []byte

	// NonUTF8 indicates, on read, that the UTF-8 general-purpose flag bit
	// was clear, so Name and Comment were first decoded from CP437; it
	// stays set even when an Info-ZIP Unicode extra field then replaced
	// the decoded text. On write, it asks for non-UTF-8 output.
	NonUTF8 bool

	CreatorVersion uint16
	ReaderVersion  uint16
	Flags          uint16
	Method         Method

	// Modified is the entry's last-modified time. Reading an entry
	// always yields at least the 2-second-resolution MS-DOS timestamp;
	// if an extended timestamp or NTFS extra field was present it takes
	// precedence. All three sources are decoded in UTC; the legacy
	// encoding stays available in ModifiedDate/ModifiedTime.
	Modified time.Time

	// ModifiedDate and ModifiedTime are the raw MS-DOS packed date/time
	// fields, preserved for callers that need the legacy encoding
	// regardless of any extended timestamp extra.
	ModifiedDate, ModifiedTime uint16

	CRC32              uint32
	CompressedSize64   uint64
	UncompressedSize64 uint64
	Extra              []byte
	ExternalAttrs      uint32

	// System is the "version made by" host system, derived from the
	// high byte of CreatorVersion.
	System System

	// LargeFile forces emission of a ZIP64 extended-info extra field
	// even if the entry's size does not yet require it. It is also set
	// automatically, on read, when such a field was present.
	LargeFile bool

	// Encrypted indicates general-purpose bit 0; set automatically on
	// read, and by SetPassword on write.
	Encrypted bool

	// AES holds the WinZip AES descriptor when Method reports the
	// effective (inner) compression method for an AES-encrypted entry.
	// Nil unless the entry is AES-encrypted.
	AES *AESExtra

	// NTFSTimes and ExtendedTimestamp surface side-band timestamp extras
	// when present; both are nil if the corresponding extra field was
	// absent.
	NTFSTimes         *NTFSTimes
	ExtendedTimestamp *ExtendedTimestamp

	password passwordProvider

	dataStart onceUint64

	// headerStart is the archive-relative (i.e. archive-offset-corrected)
	// byte offset of the local file header. centralHeaderStart is the
	// offset of the corresponding central directory record.
	headerStart        uint64
	centralHeaderStart uint64

	// aesExtraOffset is the byte offset of the 0x9901 extra field within
	// Extra, or -1.
	aesExtraOffset int
}

// System identifies the host system recorded in the high byte of a ZIP
// version field.
type System uint8

const (
	SystemDOS System = iota
	SystemUnix
	SystemUnknown
)

func systemFromVersion(hi uint8) System {
	switch hi {
	case creatorUnix, creatorMacOSX:
		return SystemUnix
	case creatorFAT, creatorNTFS, creatorVFAT:
		return SystemDOS
	default:
		return SystemUnknown
	}
}

// AESExtra is the side-band descriptor recovered from a WinZip AES (0x9901)
// extra field.
type AESExtra struct {
	// KeySize is 128, 192, or 256.
	KeySize int
	// Vendor is AEVersion1 or AEVersion2. AE-2 entries do not carry a
	// meaningful CRC32 (it is always zero), since the AES authentication
	// tag already guarantees integrity.
	Vendor uint16
	// Method is the inner compression method applied before encryption.
	Method Method
}

const (
	AEVersion1 = aeVersion1
	AEVersion2 = aeVersion2
)

// NTFSTimes is the side-band timestamp recovered from a 0x000a (NTFS)
// extra field, at 100ns resolution.
type NTFSTimes struct {
	Mtime, Atime, Ctime time.Time
}

// ExtendedTimestamp is the side-band timestamp recovered from a 0x5455
// (Info-ZIP extended timestamp) extra field.
type ExtendedTimestamp struct {
	HasMtime, HasAtime, HasCtime bool
	Mtime, Atime, Ctime          time.Time
}

// onceUint64 is a set-once memoization cell: the first Set wins, later
// calls are no-ops. It backs FileHeader.dataStart so concurrent readers of
// the same entry converge on one value without taking a lock on the hot
// path.
type onceUint64 struct {
	v atomic.Uint64
}

const onceUint64Unset = ^uint64(0)

func (o *onceUint64) Load() (uint64, bool) {
	v := o.v.Load()
	return v, v != onceUint64Unset
}

func (o *onceUint64) Set(v uint64) uint64 {
	if o.v.CompareAndSwap(onceUint64Unset, v) {
		return v
	}
	return o.v.Load()
}

// newFileHeader is the only valid way to construct a FileHeader: the zero
// value of onceUint64 reads as 0, a plausible data_start, so the sentinel
// must be seeded explicitly.
func newFileHeader() *FileHeader {
	fh := &FileHeader{aesExtraOffset: -1}
	fh.dataStart.v.Store(onceUint64Unset)
	return fh
}

// FileInfo returns an fs.FileInfo view of the header.
func (h *FileHeader) FileInfo() os.FileInfo {
	return headerFileInfo{h}
}

type headerFileInfo struct {
	fh *FileHeader
}

func (fi headerFileInfo) Name() string { return path.Base(fi.fh.Name) }
func (fi headerFileInfo) Size() int64  { return int64(fi.fh.UncompressedSize64) }
func (fi headerFileInfo) IsDir() bool  { return fi.Mode().IsDir() }
func (fi headerFileInfo) ModTime() time.Time { return fi.fh.Modified }
func (fi headerFileInfo) Mode() os.FileMode  { return fi.fh.Mode() }
func (fi headerFileInfo) Sys() interface{}   { return fi.fh }

// FileInfoHeader creates a partially populated FileHeader from an
// os.FileInfo. The caller should set Method if compression is wanted; it
// is Store by default.
func FileInfoHeader(fi os.FileInfo) (*FileHeader, error) {
	size := fi.Size()
	fh := newFileHeader()
	fh.Name = fi.Name()
	fh.UncompressedSize64 = uint64(size)
	fh.Modified = fi.ModTime()
	fh.SetMode(fi.Mode())
	return fh, nil
}

// timeToMsDosTime converts a time.Time to an MS-DOS date and time. The
// resolution is 2 seconds. Years outside 1980-2107 cannot be represented.
func timeToMsDosTime(t time.Time) (fDate uint16, fTime uint16, err error) {
	year := t.Year()
	if year < 1980 || year > 2107 {
		return 0, 0, &DateTimeRangeError{Year: year}
	}
	fDate = uint16(t.Day() + int(t.Month())<<5 + (year-1980)<<9)
	fTime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return fDate, fTime, nil
}

// msDosTimeToTime converts an MS-DOS packed date/time into a time.Time in
// UTC. Out-of-range values (e.g. all zero) are tolerated and simply yield
// an implausible but non-panicking date, per the "tolerate invalid values"
// rule for last-modified time.
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		int(dosDate>>9)+1980,
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f)*2,
		0,
		time.UTC,
	)
}

// detectUTF8 reports whether s is valid UTF-8, and whether it must be
// treated as UTF-8 because it contains bytes outside the CP-437-compatible
// ASCII subset. Ported verbatim from the archive/zip family of
// implementations this package descends from.
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}

// Mode returns the permission and mode bits for the FileHeader, derived
// from ExternalAttrs according to the host system recorded in
// CreatorVersion.
func (h *FileHeader) Mode() (mode os.FileMode) {
	switch h.CreatorVersion >> 8 {
	case creatorUnix, creatorMacOSX:
		mode = unixModeToFileMode(h.ExternalAttrs >> 16)
	case creatorNTFS, creatorVFAT, creatorFAT:
		mode = msdosModeToFileMode(h.ExternalAttrs)
	}
	if len(h.Name) > 0 && h.Name[len(h.Name)-1] == '/' {
		mode |= os.ModeDir
	}
	return mode
}

// SetMode changes the permission and mode bits for the FileHeader,
// recording them as a Unix external attribute and synthesizing the
// corresponding DOS attribute bits.
func (h *FileHeader) SetMode(mode os.FileMode) {
	h.CreatorVersion = h.CreatorVersion&0xff | creatorUnix<<8
	h.ExternalAttrs = fileModeToUnixMode(mode) << 16

	if mode&os.ModeDir != 0 {
		h.ExternalAttrs |= msdosDir
	}
	if mode&0200 == 0 {
		h.ExternalAttrs |= msdosReadOnly
	}
}

// isZip64 reports whether the entry needs ZIP64 extended info: LargeFile is
// set, or a recorded size reaches the ZIP64 threshold.
func (h *FileHeader) isZip64() bool {
	return h.LargeFile || h.CompressedSize64 >= zip64Threshold || h.UncompressedSize64 >= zip64Threshold
}

func msdosModeToFileMode(m uint32) (mode os.FileMode) {
	if m&msdosDir != 0 {
		mode = os.ModeDir | 0o775
	} else {
		mode = 0o664
	}
	if m&msdosReadOnly != 0 {
		mode &^= 0o222
	}
	return mode
}

func fileModeToUnixMode(mode os.FileMode) uint32 {
	var m uint32
	switch mode & os.ModeType {
	default:
		m = sIFREG
	case os.ModeDir:
		m = sIFDIR
	case os.ModeSymlink:
		m = sIFLNK
	case os.ModeNamedPipe:
		m = sIFIFO
	case os.ModeSocket:
		m = sIFSOCK
	case os.ModeDevice:
		if mode&os.ModeCharDevice != 0 {
			m = sIFCHR
		} else {
			m = sIFBLK
		}
	}
	if mode&os.ModeSetuid != 0 {
		m |= sISUID
	}
	if mode&os.ModeSetgid != 0 {
		m |= sISGID
	}
	if mode&os.ModeSticky != 0 {
		m |= sISVTX
	}
	return m | uint32(mode&0o777)
}

func unixModeToFileMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0o777)
	switch m & sIFMT {
	case sIFBLK:
		mode |= os.ModeDevice
	case sIFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	case sIFDIR:
		mode |= os.ModeDir
	case sIFIFO:
		mode |= os.ModeNamedPipe
	case sIFLNK:
		mode |= os.ModeSymlink
	case sIFREG:
	case sIFSOCK:
		mode |= os.ModeSocket
	}
	if m&sISGID != 0 {
		mode |= os.ModeSetgid
	}
	if m&sISUID != 0 {
		mode |= os.ModeSetuid
	}
	if m&sISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}
