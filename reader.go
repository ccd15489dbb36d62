package zip

import (
	"bufio"
	"io"
	"sort"
)

// Reader serves random-access read access to an archive's directory and
// entries. It reads through an io.ReaderAt and keeps no cursor of its own;
// the By* lookups only index the directory parsed by OpenReader.
type Reader struct {
	r             io.ReaderAt
	size          int64
	archiveOffset int64

	// File holds every entry in central-directory (insertion) order.
	File []*FileHeader

	// Comment is the archive comment recorded in the end-of-directory
	// record.
	Comment string

	centralDirectoryStart int64
	centralDirectorySize  int64

	nameIndex map[string]int

	decompressors map[Method]Decompressor
}

type readerConfig struct {
	offsetPolicy OffsetPolicy
}

// ReaderOption configures OpenReader.
type ReaderOption func(*readerConfig)

// WithOffsetPolicy selects how the archive offset is determined. The
// default is DetectOffset.
func WithOffsetPolicy(p OffsetPolicy) ReaderOption {
	return func(c *readerConfig) { c.offsetPolicy = p }
}

// OpenReader opens the ZIP archive presented by r, which must expose
// exactly size bytes. It locates the end-of-central-directory record (and
// its ZIP64 counterpart, if present), ranks every viable candidate, and
// accepts the first one that yields a self-consistent central directory.
func OpenReader(r io.ReaderAt, size int64, opts ...ReaderOption) (*Reader, error) {
	cfg := readerConfig{offsetPolicy: DetectOffset()}
	for _, opt := range opts {
		opt(&cfg)
	}

	candidates, err := findEOCDCandidates(r, size, cfg.offsetPolicy)
	if err != nil {
		return nil, err
	}

	var firstUnsupported, firstOther error
	for _, cand := range candidates {
		zr, err := buildReaderFromCandidate(r, size, cand)
		if err == nil {
			return zr, nil
		}
		if _, ok := err.(*UnsupportedArchiveError); ok {
			if firstUnsupported == nil {
				firstUnsupported = err
			}
		} else if firstOther == nil {
			firstOther = err
		}
	}
	if firstOther != nil {
		return nil, firstOther
	}
	if firstUnsupported != nil {
		return nil, firstUnsupported
	}
	return nil, invalidArchive("no end-of-central-directory candidate parsed successfully")
}

func buildReaderFromCandidate(r io.ReaderAt, size int64, cand eocdCandidate) (*Reader, error) {
	physicalCDStart := cand.archiveOffset + int64(cand.cdOffset)
	if physicalCDStart < 0 || physicalCDStart > cand.eocdPos {
		return nil, invalidArchive("central directory start %d out of range", physicalCDStart)
	}

	cdLen := cand.eocdPos - physicalCDStart
	cr := &countingReaderAt{r: r, base: physicalCDStart}
	src := bufio.NewReader(io.NewSectionReader(cr, 0, cdLen))

	zr := &Reader{
		r:                      r,
		size:                   size,
		archiveOffset:          cand.archiveOffset,
		Comment:                cand.comment,
		centralDirectoryStart:  physicalCDStart,
		centralDirectorySize:   cdLen,
		nameIndex:              make(map[string]int),
	}

	for {
		startOff := cr.offset - int64(src.Buffered())
		fh, err := parseCentralHeader(src)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		fh.centralHeaderStart = uint64(physicalCDStart + startOff)
		fh.headerStart = uint64(int64(fh.headerStart) + cand.archiveOffset)

		if _, exists := zr.nameIndex[fh.Name]; !exists {
			zr.nameIndex[fh.Name] = len(zr.File)
		}
		zr.File = append(zr.File, fh)
	}

	if !entryCountMatches(cand, len(zr.File)) {
		return nil, invalidArchive("central directory entry count mismatch: parsed %d, expected %d", len(zr.File), cand.numEntries)
	}

	for _, fh := range zr.File {
		dataStart, err := computeAndValidateDataStart(r, fh)
		if err != nil {
			return nil, err
		}
		fh.dataStart.Set(dataStart)
	}

	return zr, nil
}

func entryCountMatches(cand eocdCandidate, parsed int) bool {
	if cand.isZip64 {
		return uint64(parsed) == cand.numEntries
	}
	if cand.numEntries == uint16max {
		// Truncated legacy count; only the low 16 bits are meaningful
		// without a ZIP64 record, which this candidate doesn't have.
		return uint16(parsed) == uint16(cand.numEntries)
	}
	return uint64(parsed) == cand.numEntries
}

// countingReaderAt adapts an io.ReaderAt into a 0-based view starting at
// base, tracking the highest offset read so sequential central-directory
// parsing can record each entry's starting byte position.
type countingReaderAt struct {
	r      io.ReaderAt
	base   int64
	offset int64
}

func (c *countingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := c.r.ReadAt(p, c.base+off)
	if end := off + int64(n); end > c.offset {
		c.offset = end
	}
	return n, err
}

// parseCentralHeader reads one 46-byte central directory file header plus
// its variable-length name/extra/comment fields from src, implementing C4
// step 1-4.
func parseCentralHeader(src *bufio.Reader) (*FileHeader, error) {
	var fixed [directoryHeaderLen]byte
	if _, err := io.ReadFull(src, fixed[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, invalidArchive("short central directory header: %v", err)
	}

	b := readBuf(fixed[:])
	if sig := b.uint32(); sig != directoryHeaderSignature {
		return nil, invalidArchive("wrong central directory header signature %#x", sig)
	}

	fh := newFileHeader()
	fh.CreatorVersion = b.uint16()
	fh.ReaderVersion = b.uint16()
	fh.Flags = b.uint16()
	fh.Method = Method(b.uint16())
	fh.ModifiedTime = b.uint16()
	fh.ModifiedDate = b.uint16()
	fh.CRC32 = b.uint32()
	compressedSize32 := b.uint32()
	uncompressedSize32 := b.uint32()
	nameLen := int(b.uint16())
	extraLen := int(b.uint16())
	commentLen := int(b.uint16())
	diskNumberStart := b.uint16() // multi-disk archives are unsupported, but the ZIP64 extra can still carry this field
	_ = b.uint16() // internal attributes
	fh.ExternalAttrs = b.uint32()
	headerOffset32 := b.uint32()

	fh.System = systemFromVersion(uint8(fh.CreatorVersion >> 8))
	fh.CompressedSize64 = uint64(compressedSize32)
	fh.UncompressedSize64 = uint64(uncompressedSize32)
	fh.headerStart = uint64(headerOffset32)
	fh.Encrypted = fh.Flags&flagEncrypted != 0
	fh.Modified = msDosTimeToTime(fh.ModifiedDate, fh.ModifiedTime)

	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(src, nameBuf); err != nil {
		return nil, invalidArchive("short central directory file name: %v", err)
	}
	extraBuf := make([]byte, extraLen)
	if _, err := io.ReadFull(src, extraBuf); err != nil {
		return nil, invalidArchive("short central directory extra field: %v", err)
	}
	commentBuf := make([]byte, commentLen)
	if _, err := io.ReadFull(src, commentBuf); err != nil {
		return nil, invalidArchive("short central directory comment: %v", err)
	}

	fh.NameRaw = nameBuf
	fh.CommentRaw = commentBuf
	name, nameNonUTF8 := decodeEntryText(nameBuf, fh.Flags)
	fh.Name = name
	comment, _ := decodeEntryText(commentBuf, fh.Flags)
	fh.Comment = comment
	fh.NonUTF8 = nameNonUTF8

	sentinels := extraFieldSentinels{
		uncompressedSize: uncompressedSize32 == uint32max,
		compressedSize:   compressedSize32 == uint32max,
		headerOffset:     headerOffset32 == uint32max,
		diskNumber:       diskNumberStart == uint16max,
	}
	if err := parseExtraFields(fh, extraBuf, sentinels); err != nil {
		return nil, err
	}

	if fh.Encrypted && fh.Method == aesMethod && fh.AES == nil {
		return nil, invalidArchive("AES-encrypted entry %q missing AES extra field", fh.Name)
	}

	return fh, nil
}

// decodeEntryText applies the name/comment decoding rule from §3: UTF-8 if
// the language-encoding flag is set, else CP437. It reports whether the
// result came from the CP437 fallback (i.e. is "non-UTF-8").
func decodeEntryText(raw []byte, flags uint16) (text string, nonUTF8 bool) {
	if flags&flagUTF8 != 0 {
		return string(raw), false
	}
	return decodeCP437(raw), true
}

// computeAndValidateDataStart implements C4 step 7: seek to the entry's
// local header, parse just enough of it to locate the first payload byte,
// and verify the data-start/central-header-start ordering invariant.
func computeAndValidateDataStart(r io.ReaderAt, fh *FileHeader) (uint64, error) {
	var fixed [fileHeaderLen]byte
	if _, err := readFullAt(r, fixed[:], int64(fh.headerStart)); err != nil {
		return 0, invalidArchive("entry %q: short local file header: %v", fh.Name, err)
	}
	b := readBuf(fixed[:])
	if sig := b.uint32(); sig != fileHeaderSignature {
		return 0, invalidArchive("entry %q: wrong local file header signature %#x", fh.Name, sig)
	}
	b.uint16() // reader version
	b.uint16() // flags
	b.uint16() // method
	b.uint16() // mod time
	b.uint16() // mod date
	b.uint32() // crc32
	b.uint32() // compressed size
	b.uint32() // uncompressed size
	nameLen := int(b.uint16())
	extraLen := int(b.uint16())

	dataStart := fh.headerStart + fileHeaderLen + uint64(nameLen) + uint64(extraLen)
	if dataStart > fh.centralHeaderStart {
		return 0, invalidArchive("entry %q: data start %d exceeds central header start %d", fh.Name, dataStart, fh.centralHeaderStart)
	}
	if dataStart+fh.CompressedSize64 > fh.centralHeaderStart {
		return 0, invalidArchive("entry %q: payload extends past central header start", fh.Name)
	}
	return dataStart, nil
}

// RegisterDecompressor overrides, for this Reader only, the decoder used
// for method.
func (z *Reader) RegisterDecompressor(method Method, d Decompressor) {
	if z.decompressors == nil {
		z.decompressors = make(map[Method]Decompressor)
	}
	z.decompressors[method] = d
}

// Len reports the number of entries in the archive.
func (z *Reader) Len() int { return len(z.File) }

// IsEmpty reports whether the archive has no entries.
func (z *Reader) IsEmpty() bool { return len(z.File) == 0 }

// Names returns every entry name, in central-directory order.
func (z *Reader) Names() []string {
	names := make([]string, len(z.File))
	for i, fh := range z.File {
		names[i] = fh.Name
	}
	return names
}

// IndexForName returns the stable insertion index of name, and whether it
// was found. When an archive contains duplicate names (legal, if unusual)
// the first occurrence wins.
func (z *Reader) IndexForName(name string) (int, bool) {
	i, ok := z.nameIndex[name]
	return i, ok
}

// NameForIndex returns the name of the entry at index i.
func (z *Reader) NameForIndex(i int) (string, bool) {
	if i < 0 || i >= len(z.File) {
		return "", false
	}
	return z.File[i].Name, true
}

// ByIndex returns the FileHeader at index i.
func (z *Reader) ByIndex(i int) (*FileHeader, error) {
	if i < 0 || i >= len(z.File) {
		return nil, &FileNotFoundError{Name: ""}
	}
	return z.File[i], nil
}

// ByName returns the FileHeader named name.
func (z *Reader) ByName(name string) (*FileHeader, error) {
	i, ok := z.nameIndex[name]
	if !ok {
		return nil, &FileNotFoundError{Name: name}
	}
	return z.File[i], nil
}

// ByIndexRaw returns the compressed, still-encrypted bytes of the entry at
// index i, with no decryption, decompression, or CRC verification applied.
func (z *Reader) ByIndexRaw(i int) (io.Reader, error) {
	fh, err := z.ByIndex(i)
	if err != nil {
		return nil, err
	}
	return z.OpenRaw(fh)
}

// ByIndexDecrypt opens the entry at index i for decompressed, CRC-verified
// reading, using password to decrypt it if it is encrypted.
func (z *Reader) ByIndexDecrypt(i int, password string) (io.ReadCloser, error) {
	fh, err := z.ByIndex(i)
	if err != nil {
		return nil, err
	}
	return z.OpenPassword(fh, password)
}

// DecompressedSize returns the sum of every entry's uncompressed size, or
// false if any entry's size is ambiguous (a zero size recorded alongside
// the data-descriptor flag, meaning the true size lives only in the
// trailing descriptor and was never cross-checked against a stream read).
func (z *Reader) DecompressedSize() (uint64, bool) {
	var total uint64
	for _, fh := range z.File {
		if fh.Flags&flagDataDescriptor != 0 && fh.UncompressedSize64 == 0 {
			return 0, false
		}
		total += fh.UncompressedSize64
	}
	return total, true
}

// sortedNames returns a copy of names sorted lexically. Extract does not
// use it: it creates parent directories as it meets each entry.
func sortedNames(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
