package zip

import (
	"crypto/rand"
	"hash"
	"hash/crc32"
	"io"
	"time"
)

// writerState tracks the C6 state machine: Idle, writing an Entry's
// payload, or Finished. Transitions are driven entirely by CreateHeader,
// finishEntry (invoked implicitly by the next CreateHeader, by Finish, and
// by RawCopyFile, DeepCopyFile and MergeArchive), AbortFile, and Finish.
type writerState int

const (
	writerIdle writerState = iota
	writerEntry
	writerFinished
)

// Writer assembles a ZIP archive onto a seekable sink, one entry at a
// time. A seekable sink is required because AbortFile rewinds output.
type Writer struct {
	sink  io.WriteSeeker
	pos   int64
	state writerState

	// sinkReaderAt is sink's io.ReaderAt view, when it has one: needed by
	// DeepCopyFile to read an already-written entry's payload back out of
	// the archive currently being assembled.
	sinkReaderAt io.ReaderAt

	dir     []*FileHeader
	comment string

	anyZip64 bool

	pending *pendingEntry

	compressors map[Method]Compressor
	rand        io.Reader
}

// NewWriter returns a Writer that appends to sink starting at its current
// position.
func NewWriter(sink io.WriteSeeker) *Writer {
	w := &Writer{sink: sink, rand: rand.Reader}
	if ra, ok := sink.(io.ReaderAt); ok {
		w.sinkReaderAt = ra
	}
	return w
}

// SetComment sets the archive comment emitted in the end-of-directory
// record.
func (w *Writer) SetComment(comment string) error {
	if len(comment) > uint16max {
		return invalidArchive("archive comment too long")
	}
	w.comment = comment
	return nil
}

// RegisterCompressor overrides, for this Writer only, the encoder used for
// method.
func (w *Writer) RegisterCompressor(method Method, c Compressor) {
	if w.compressors == nil {
		w.compressors = make(map[Method]Compressor)
	}
	w.compressors[method] = c
}

func (w *Writer) write(p []byte) (int, error) {
	n, err := w.sink.Write(p)
	w.pos += int64(n)
	return n, err
}

// entryConfig carries per-entry options outside of FileHeader, since
// encryption parameters are a property of how an entry is written rather
// than of the entry's identity.
type entryConfig struct {
	aesKeySize int
	aesVendor  uint16
}

// EntryOption configures a single CreateHeader call.
type EntryOption func(*entryConfig)

// WithAES requests WinZip AES encryption at the given key size (128, 192,
// or 256 bits) instead of ZipCrypto, using vendor version AE-2 (which
// omits the now-redundant CRC32 check in favor of the HMAC tag). The
// entry must also have a password set via FileHeader.SetPassword.
func WithAES(keySizeBits int) EntryOption {
	return func(c *entryConfig) { c.aesKeySize = keySizeBits; c.aesVendor = AEVersion2 }
}

// WithAESVendor is like WithAES but selects the vendor version explicitly.
func WithAESVendor(keySizeBits int, vendor uint16) EntryOption {
	return func(c *entryConfig) { c.aesKeySize = keySizeBits; c.aesVendor = vendor }
}

// pendingEntry holds the mutable state of the entry currently being
// written: its header, the write-side mirror of the layered reader stack,
// and the running counters that become the final CRC32/sizes once the
// entry is finished.
type pendingEntry struct {
	fh                *FileHeader
	wantZip64         bool
	useDataDescriptor bool

	crc               hash.Hash32
	uncompressedCount uint64
	compressedCount   uint64

	comp        io.WriteCloser
	aesFinisher *aesWriter
}

// entrySinkWriter is the innermost layer of the write-side stack: it
// writes straight to the archive's output position and counts bytes
// toward the entry's compressed size, which for encrypted entries
// includes the encryption envelope (salt, verification bytes, auth tag).
type entrySinkWriter struct {
	w  *Writer
	pe *pendingEntry
}

func (s *entrySinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.write(p)
	s.pe.compressedCount += uint64(n)
	return n, err
}

// entryWriter is what CreateHeader returns: the outermost layer, which
// the caller writes plaintext entry bytes into.
type entryWriter struct {
	pe *pendingEntry
}

func (e *entryWriter) Write(p []byte) (int, error) {
	e.pe.crc.Write(p)
	e.pe.uncompressedCount += uint64(len(p))
	return e.pe.comp.Write(p)
}

// CreateHeader begins writing a new entry described by fh, implicitly
// finishing whatever entry was previously open. It returns a writer for
// the entry's (uncompressed) payload bytes.
func (w *Writer) CreateHeader(fh *FileHeader, opts ...EntryOption) (io.Writer, error) {
	if w.state == writerFinished {
		return nil, invalidArchive("writer already finished")
	}
	if err := w.finishEntry(); err != nil {
		return nil, err
	}

	var cfg entryConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if fh.Modified.IsZero() {
		fh.Modified = time.Now()
	}
	isDir := len(fh.Name) > 0 && fh.Name[len(fh.Name)-1] == '/'

	pe := &pendingEntry{fh: fh, crc: crc32.NewIEEE()}

	if cfg.aesKeySize > 0 {
		if _, ok := resolvePassword(fh, ""); !ok {
			return nil, unsupportedArchive("AES requested for %q without a password", fh.Name)
		}
		fh.Encrypted = true
		fh.AES = &AESExtra{KeySize: cfg.aesKeySize, Vendor: cfg.aesVendor, Method: fh.Method}
	}

	pe.wantZip64 = fh.LargeFile
	pe.useDataDescriptor = !isDir
	if isDir {
		fh.Method = Store
		fh.CompressedSize64 = 0
		fh.UncompressedSize64 = 0
	}

	fh.headerStart = uint64(w.pos)
	if err := w.writeLocalHeader(fh, pe.wantZip64, pe.useDataDescriptor); err != nil {
		return nil, err
	}

	var out io.Writer = &entrySinkWriter{w: w, pe: pe}

	if fh.Encrypted {
		pw, ok := resolvePassword(fh, "")
		if !ok {
			return nil, unsupportedArchive("password required for %q", fh.Name)
		}
		if fh.AES != nil {
			aw, err := newAESWriter(out, []byte(pw), fh.AES.KeySize, w.rand)
			if err != nil {
				return nil, err
			}
			out = aw
			pe.aesFinisher = aw
		} else {
			checkByte := zipCryptoCheckByte(0, fh.ModifiedTime, true)
			zw, err := newZipCryptoWriter(out, []byte(pw), checkByte, w.rand)
			if err != nil {
				return nil, err
			}
			out = zw
		}
	}

	comp, ok := lookupCompressor(w.compressors, fh.Method)
	if !ok {
		return nil, unsupportedArchive("compression method %s not supported", fh.Method)
	}
	compWriter, err := comp(out)
	if err != nil {
		return nil, err
	}
	pe.comp = compWriter

	w.pending = pe
	w.state = writerEntry
	return &entryWriter{pe: pe}, nil
}

// Create is a convenience wrapper over CreateHeader for a Stored-or-
// Deflated entry with a default modification time.
func (w *Writer) Create(name string) (io.Writer, error) {
	fh := newFileHeader()
	fh.Name = name
	fh.Method = Deflate
	return w.CreateHeader(fh)
}

// finishEntry closes out whatever entry is pending: flushing the
// compressor (and, for AES, emitting the authentication tag), recording
// the final CRC32 and sizes, emitting a data descriptor if one was
// promised, and appending the entry to the central directory list.
func (w *Writer) finishEntry() error {
	pe := w.pending
	if pe == nil {
		return nil
	}
	w.pending = nil
	w.state = writerIdle

	if err := pe.comp.Close(); err != nil {
		return err
	}
	if pe.aesFinisher != nil {
		if err := pe.aesFinisher.Finish(); err != nil {
			return err
		}
	}

	fh := pe.fh
	fh.CRC32 = pe.crc.Sum32()
	if fh.AES != nil && fh.AES.Vendor == AEVersion2 {
		fh.CRC32 = 0
	}
	fh.UncompressedSize64 = pe.uncompressedCount
	fh.CompressedSize64 = pe.compressedCount

	if !pe.wantZip64 && (fh.CompressedSize64 >= zip64Threshold || fh.UncompressedSize64 >= zip64Threshold) {
		return invalidArchive("entry %q exceeded 4 GiB without the large-file option set", fh.Name)
	}
	if pe.wantZip64 {
		w.anyZip64 = true
	}

	if pe.useDataDescriptor {
		if err := w.writeDataDescriptor(fh, pe.wantZip64); err != nil {
			return err
		}
	}

	w.dir = append(w.dir, fh)
	return nil
}

func (w *Writer) writeDataDescriptor(fh *FileHeader, wantZip64 bool) error {
	var buf []byte
	if wantZip64 {
		buf = make([]byte, dataDescriptor64Len)
	} else {
		buf = make([]byte, dataDescriptorLen)
	}
	b := writeBuf(buf)
	b.uint32(dataDescriptorSignature)
	b.uint32(fh.CRC32)
	if wantZip64 {
		b.uint64(fh.CompressedSize64)
		b.uint64(fh.UncompressedSize64)
	} else {
		b.uint32(uint32(fh.CompressedSize64))
		b.uint32(uint32(fh.UncompressedSize64))
	}
	_, err := w.write(buf)
	return err
}

// AbortFile discards the entry currently being written and rewinds the
// sink to the position where its local header began. It is only valid
// between CreateHeader and the next CreateHeader/Finish.
func (w *Writer) AbortFile() error {
	pe := w.pending
	if pe == nil {
		return invalidArchive("AbortFile with no entry open")
	}
	w.pending = nil
	w.state = writerIdle

	if _, err := w.sink.Seek(int64(pe.fh.headerStart), io.SeekStart); err != nil {
		return err
	}
	w.pos = int64(pe.fh.headerStart)
	return nil
}

// Finish flushes any pending entry, writes the central directory and
// end-of-directory records, and transitions the writer to Finished. No
// further entries may be written afterward.
func (w *Writer) Finish() error {
	if w.state == writerFinished {
		return nil
	}
	if err := w.finishEntry(); err != nil {
		return err
	}
	if err := w.writeCentralDirectory(); err != nil {
		return err
	}
	w.state = writerFinished
	return nil
}

// Close is an alias for Finish, so Writer satisfies io.Closer.
func (w *Writer) Close() error { return w.Finish() }

func (w *Writer) writeLocalHeader(fh *FileHeader, wantZip64, useDD bool) error {
	nameBytes := []byte(fh.Name)
	if len(nameBytes) > uint16max {
		return invalidArchive("entry name %q too long", fh.Name)
	}

	valid1, require1 := detectUTF8(fh.Name)
	valid2, require2 := detectUTF8(fh.Comment)
	switch {
	case fh.NonUTF8:
		fh.Flags &^= flagUTF8
	case (require1 || require2) && valid1 && valid2:
		fh.Flags |= flagUTF8
	}

	modDate, modTime, err := timeToMsDosTime(fh.Modified)
	if err != nil {
		return err
	}
	fh.ModifiedDate, fh.ModifiedTime = modDate, modTime

	extra := append([]byte(nil), buildExtendedTimestampExtra(fh.Modified)...)
	if wantZip64 {
		extra = append(extra, buildZip64Extra(0, 0, 0, false)...)
	}
	if fh.AES != nil {
		extra = append(extra, buildAESExtraField(fh.AES)...)
	}
	fh.Extra = extra

	fh.ReaderVersion = zipVersion20
	if wantZip64 {
		fh.ReaderVersion = zipVersion45
	}
	if fh.AES != nil {
		fh.ReaderVersion = zipVersion63
	}
	fh.CreatorVersion = fh.CreatorVersion&0xff00 | fh.ReaderVersion

	if useDD {
		fh.Flags |= flagDataDescriptor
	} else {
		fh.Flags &^= flagDataDescriptor
	}
	if fh.Encrypted {
		fh.Flags |= flagEncrypted
	}

	wireMethod := fh.Method
	if fh.AES != nil {
		wireMethod = aesMethod
	}

	var crcField, compField, uncompField uint32
	if !useDD {
		crcField = fh.CRC32
		compField = uint32(fh.CompressedSize64)
		uncompField = uint32(fh.UncompressedSize64)
	}

	var buf [fileHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(fileHeaderSignature)
	b.uint16(fh.ReaderVersion)
	b.uint16(fh.Flags)
	b.uint16(uint16(wireMethod))
	b.uint16(fh.ModifiedTime)
	b.uint16(fh.ModifiedDate)
	b.uint32(crcField)
	b.uint32(compField)
	b.uint32(uncompField)
	b.uint16(uint16(len(nameBytes)))
	b.uint16(uint16(len(fh.Extra)))

	if _, err := w.write(buf[:]); err != nil {
		return err
	}
	if _, err := w.write(nameBytes); err != nil {
		return err
	}
	_, err = w.write(fh.Extra)
	return err
}

func buildExtendedTimestampExtra(t time.Time) []byte {
	buf := make([]byte, 9)
	wb := writeBuf(buf)
	wb.uint16(extTimeExtraID)
	wb.uint16(5)
	wb.uint8(1)
	wb.uint32(uint32(t.Unix()))
	return buf
}

func buildAESExtraField(info *AESExtra) []byte {
	buf := make([]byte, 11)
	wb := writeBuf(buf)
	wb.uint16(winzipAesExtraID)
	wb.uint16(7)
	wb.uint16(info.Vendor)
	wb.uint16(winzipAesVendorID)
	var strength uint8
	switch info.KeySize {
	case 128:
		strength = 1
	case 192:
		strength = 2
	case 256:
		strength = 3
	}
	wb.uint8(strength)
	wb.uint16(uint16(info.Method))
	return buf
}

func (w *Writer) writeCentralDirectory() error {
	cdStart := w.pos

	for _, fh := range w.dir {
		nameBytes := []byte(fh.Name)
		commentBytes := []byte(fh.Comment)

		extra := append([]byte(nil), buildExtendedTimestampExtra(fh.Modified)...)

		wantZip64 := fh.isZip64()
		offsetNeeded := fh.headerStart >= zip64Threshold
		var compField, uncompField, offsetField uint32
		if wantZip64 || offsetNeeded {
			extra = append(extra, buildZip64Extra(fh.UncompressedSize64, fh.CompressedSize64, fh.headerStart, offsetNeeded)...)
		}
		if wantZip64 || offsetNeeded {
			compField, uncompField = uint32max, uint32max
		} else {
			compField, uncompField = uint32(fh.CompressedSize64), uint32(fh.UncompressedSize64)
		}
		if offsetNeeded {
			offsetField = uint32max
			w.anyZip64 = true
		} else {
			offsetField = uint32(fh.headerStart)
		}
		if wantZip64 {
			w.anyZip64 = true
		}
		if fh.AES != nil {
			extra = append(extra, buildAESExtraField(fh.AES)...)
		}

		wireMethod := fh.Method
		if fh.AES != nil {
			wireMethod = aesMethod
		}

		var buf [directoryHeaderLen]byte
		b := writeBuf(buf[:])
		b.uint32(directoryHeaderSignature)
		b.uint16(fh.CreatorVersion)
		b.uint16(fh.ReaderVersion)
		b.uint16(fh.Flags)
		b.uint16(uint16(wireMethod))
		b.uint16(fh.ModifiedTime)
		b.uint16(fh.ModifiedDate)
		b.uint32(fh.CRC32)
		b.uint32(compField)
		b.uint32(uncompField)
		b.uint16(uint16(len(nameBytes)))
		b.uint16(uint16(len(extra)))
		b.uint16(uint16(len(commentBytes)))
		b.uint16(0)
		b.uint16(0)
		b.uint32(fh.ExternalAttrs)
		b.uint32(offsetField)

		if _, err := w.write(buf[:]); err != nil {
			return err
		}
		if _, err := w.write(nameBytes); err != nil {
			return err
		}
		if _, err := w.write(extra); err != nil {
			return err
		}
		if _, err := w.write(commentBytes); err != nil {
			return err
		}
	}

	cdSize := uint64(w.pos - cdStart)
	records := uint64(len(w.dir))

	needZip64EOCD := w.anyZip64 || records >= uint16max || uint64(cdStart) >= zip64Threshold || cdSize >= zip64Threshold

	if needZip64EOCD {
		zip64EOCDPos := w.pos

		var buf [directory64EndLen]byte
		b := writeBuf(buf[:])
		b.uint32(directory64EndSignature)
		b.uint64(directory64EndLen - 12)
		b.uint16(zipVersion45)
		b.uint16(zipVersion45)
		b.uint32(0)
		b.uint32(0)
		b.uint64(records)
		b.uint64(records)
		b.uint64(cdSize)
		b.uint64(uint64(cdStart))
		if _, err := w.write(buf[:]); err != nil {
			return err
		}

		var locBuf [directory64LocLen]byte
		lb := writeBuf(locBuf[:])
		lb.uint32(directory64LocSignature)
		lb.uint32(0)
		lb.uint64(uint64(zip64EOCDPos))
		lb.uint32(1)
		if _, err := w.write(locBuf[:]); err != nil {
			return err
		}
	}

	eocdRecords := uint16(records)
	if records >= uint16max {
		eocdRecords = uint16max
	}
	eocdSize := uint32(cdSize)
	if cdSize >= zip64Threshold {
		eocdSize = uint32max
	}
	eocdOffset := uint32(cdStart)
	if uint64(cdStart) >= zip64Threshold {
		eocdOffset = uint32max
	}

	commentBytes := []byte(w.comment)
	var buf [directoryEndLen]byte
	b := writeBuf(buf[:])
	b.uint32(directoryEndSignature)
	b.uint16(0)
	b.uint16(0)
	b.uint16(eocdRecords)
	b.uint16(eocdRecords)
	b.uint32(eocdSize)
	b.uint32(eocdOffset)
	b.uint16(uint16(len(commentBytes)))
	if _, err := w.write(buf[:]); err != nil {
		return err
	}
	_, err := w.write(commentBytes)
	return err
}
