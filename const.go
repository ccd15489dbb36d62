// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

// Method is a ZIP compression method identifier, as it appears on the wire.
type Method uint16

// Compression methods recognized by this package. Values not listed here
// are preserved verbatim on FileHeader.Method and rejected with an
// UnsupportedArchiveError at read time.
const (
	Store     Method = 0  // no compression
	Shrink    Method = 1  // legacy LZW; codec not implemented, see RegisterDecompressor
	Reduce1   Method = 2  // legacy Reduce factor 1
	Reduce2   Method = 3  // legacy Reduce factor 2
	Reduce3   Method = 4  // legacy Reduce factor 3
	Reduce4   Method = 5  // legacy Reduce factor 4
	Implode   Method = 6  // legacy Implode
	Deflate   Method = 8  // DEFLATE
	Deflate64 Method = 9  // DEFLATE64
	Bzip2     Method = 12 // BZIP2
	Lzma      Method = 14 // LZMA
	Zstd      Method = 93 // Zstandard
	Xz        Method = 95 // XZ
	Ppmd      Method = 98 // PPMd variant I, revision 1
	aesMethod Method = 99 // WinZip AES; effective method is recovered from the 0x9901 extra field
)

func (m Method) String() string {
	switch m {
	case Store:
		return "store"
	case Shrink:
		return "shrink"
	case Reduce1, Reduce2, Reduce3, Reduce4:
		return "reduce"
	case Implode:
		return "implode"
	case Deflate:
		return "deflate"
	case Deflate64:
		return "deflate64"
	case Bzip2:
		return "bzip2"
	case Lzma:
		return "lzma"
	case Zstd:
		return "zstd"
	case Xz:
		return "xz"
	case Ppmd:
		return "ppmd"
	case aesMethod:
		return "aes"
	default:
		return "unknown"
	}
}

// Magic signatures, four bytes little-endian as they appear on disk.
const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50
	dataDescriptorSignature  = 0x08074b50 // de-facto standard; required by OS X Finder
)

// Fixed-portion block lengths, excluding any variable-length name/extra/
// comment fields that follow.
const (
	fileHeaderLen       = 30 // + filename + extra
	directoryHeaderLen  = 46 // + filename + extra + comment
	directoryEndLen     = 22 // + comment
	dataDescriptorLen   = 16 // signature, crc32, compressed size, size (all uint32)
	dataDescriptor64Len = 24 // descriptor with 8 byte sizes
	directory64LocLen   = 20
	directory64EndLen   = 56 // + extensible data sector
)

// Constants for the first byte of CreatorVersion / ReaderVersion, i.e. the
// "version made by" host system.
const (
	creatorFAT    = 0
	creatorUnix   = 3
	creatorNTFS   = 11
	creatorVFAT   = 14
	creatorMacOSX = 19
)

// Version numbers, the low byte of CreatorVersion/ReaderVersion.
const (
	zipVersion20 = 20 // 2.0, baseline DEFLATE support
	zipVersion45 = 45 // 4.5, ZIP64 support
	zipVersion63 = 63 // 6.3, used when emitting an AES-encrypted entry
)

// Limits for fields that are widened to ZIP64 once exceeded.
const (
	uint16max = (1 << 16) - 1
	uint32max = (1 << 32) - 1

	// zip64Threshold is the value at or above which a size or offset field
	// must be promoted to the ZIP64 extra field rather than encoded
	// directly in a 32-bit header field.
	zip64Threshold = uint32max
)

// General-purpose bit flag bits (section 4.4.4 of the ZIP spec).
const (
	flagEncrypted       uint16 = 1 << 0
	flagDataDescriptor  uint16 = 1 << 3
	flagStrongEncrypted uint16 = 1 << 6
	flagUTF8            uint16 = 1 << 11
)

// Extra field tag IDs recognized by this package. IDs 0..31 are reserved
// for official use by PKWARE; IDs above that range are third-party.
const (
	zip64ExtraID        = 0x0001 // ZIP64 extended information
	ntfsExtraID         = 0x000a // NTFS timestamps
	unixExtraID         = 0x000d // PKWARE Unix
	extTimeExtraID      = 0x5455 // Info-ZIP extended timestamp
	infoZipUnixExtraID  = 0x7855 // Info-ZIP Unix (type 2)
	unicodeCommentID    = 0x6375 // Info-ZIP Unicode comment
	unicodePathID       = 0x7075 // Info-ZIP Unicode path
	winzipAesExtraID    = 0x9901 // WinZip AES encryption
)

// AES vendor version, part of the 0x9901 extra field.
const (
	aeVersion1 uint16 = 1
	aeVersion2 uint16 = 2
)

const winzipAesVendorID = 0x4541 // "AE"

// Unix file-type and permission bits, as agreed on by tooling rather than
// specified anywhere normative.
const (
	sIFMT   = 0xf000
	sIFSOCK = 0xc000
	sIFLNK  = 0xa000
	sIFREG  = 0x8000
	sIFBLK  = 0x6000
	sIFDIR  = 0x4000
	sIFCHR  = 0x2000
	sIFIFO  = 0x1000
	sISUID  = 0x800
	sISGID  = 0x400
	sISVTX  = 0x200

	msdosDir      = 0x10
	msdosReadOnly = 0x01
)
