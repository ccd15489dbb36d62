package zip

import (
	"crypto/rand"
	"io"
)

// AppendSink is what NewAppend requires of its sink: random access to read
// back the existing archive, plus the ability to seek before overwriting
// its central directory with new entries.
type AppendSink interface {
	io.ReaderAt
	io.WriteSeeker
}

// NewAppend re-opens an existing archive on sink for appending further
// entries: it re-parses the central directory (re-entering C3/C4), seeks
// the sink to the start of that now-stale central directory so new entries
// overwrite it, and restores the in-memory entry list so Finish rewrites a
// central directory covering both the old and the new entries.
//
// Appending to an archive whose central directory is not located at
// archive offset zero (i.e. one found via a non-zero archive-offset
// correction, such as a self-extractor) is not supported.
func NewAppend(sink AppendSink, size int64) (*Writer, error) {
	zr, err := OpenReader(sink, size)
	if err != nil {
		return nil, err
	}
	if zr.archiveOffset != 0 {
		return nil, unsupportedArchive("appending to an archive with a non-zero archive offset is not supported")
	}
	if _, err := sink.Seek(zr.centralDirectoryStart, io.SeekStart); err != nil {
		return nil, err
	}

	w := &Writer{
		sink:         sink,
		sinkReaderAt: sink,
		pos:          zr.centralDirectoryStart,
		comment:      zr.Comment,
		rand:         rand.Reader,
	}
	w.dir = append(w.dir, zr.File...)
	for _, fh := range w.dir {
		if fh.isZip64() {
			w.anyZip64 = true
		}
	}
	return w, nil
}

// writerSinkAdapter presents Writer.write as a plain io.Writer, for use
// with io.Copy by the *CopyFile/MergeArchive operations.
type writerSinkAdapter struct{ w *Writer }

func (a writerSinkAdapter) Write(p []byte) (int, error) { return a.w.write(p) }

// RawCopyFile copies fh's bytes verbatim — local header through the end of
// its compressed payload — from src into w, adding a translated central
// directory record. No decryption, decompression, or re-encryption
// happens; this is the cheap path for merging or renaming an entry without
// touching its payload.
func (w *Writer) RawCopyFile(src *Reader, fh *FileHeader) error {
	if err := w.finishEntry(); err != nil {
		return err
	}
	dataStart, err := src.entryDataStart(fh)
	if err != nil {
		return err
	}
	regionLen := int64(dataStart+fh.CompressedSize64) - int64(fh.headerStart)
	region := io.NewSectionReader(src.r, int64(fh.headerStart), regionLen)

	newHeaderStart := uint64(w.pos)
	if _, err := io.Copy(writerSinkAdapter{w}, region); err != nil {
		return err
	}

	copyFH := cloneFileHeader(fh)
	copyFH.headerStart = newHeaderStart
	w.dir = append(w.dir, copyFH)
	if copyFH.isZip64() {
		w.anyZip64 = true
	}
	return nil
}

// DeepCopyFile re-emits existing's local header and payload under newName,
// reusing the already-compressed bytes read back from w's own sink.
// existing must be an entry already present in w's directory (from
// NewAppend, a prior CreateHeader, or a prior *CopyFile call), since this
// reads the payload back from the archive currently being written rather
// than from a separate source.
func (w *Writer) DeepCopyFile(existing *FileHeader, newName string) error {
	if w.sinkReaderAt == nil {
		return unsupportedArchive("writer's sink does not support reading back already-written entries")
	}
	if err := w.finishEntry(); err != nil {
		return err
	}
	dataStart, ok := existing.dataStart.Load()
	if !ok {
		// Not yet known (e.g. an entry written by CreateHeader): locate the
		// payload from the local header already written to the sink.
		var hdr [fileHeaderLen]byte
		if _, err := readFullAt(w.sinkReaderAt, hdr[:], int64(existing.headerStart)); err != nil {
			return invalidArchive("entry %q: short local file header: %v", existing.Name, err)
		}
		b := readBuf(hdr[:])
		if sig := b.uint32(); sig != fileHeaderSignature {
			return invalidArchive("entry %q: wrong local file header signature %#x", existing.Name, sig)
		}
		b.sub(22) // versions, flags, method, time, date, crc32, sizes
		nameLen, extraLen := uint64(b.uint16()), uint64(b.uint16())
		dataStart = existing.dataStart.Set(existing.headerStart + fileHeaderLen + nameLen + extraLen)
	}

	wantZip64 := existing.isZip64()
	newFH := cloneFileHeader(existing)
	newFH.Name = newName
	newFH.headerStart = uint64(w.pos)
	if err := w.writeLocalHeader(newFH, wantZip64, false); err != nil {
		return err
	}

	region := io.NewSectionReader(w.sinkReaderAt, int64(dataStart), int64(existing.CompressedSize64))
	if _, err := io.Copy(writerSinkAdapter{w}, region); err != nil {
		return err
	}

	w.dir = append(w.dir, newFH)
	if wantZip64 {
		w.anyZip64 = true
	}
	return nil
}

// ShallowCopyFile emits a new central directory record under newName that
// aliases existing's local header: two directory entries end up pointing
// at one payload. This is legal per the ZIP format but unusual, and some
// readers reject it; existing must already be part of w's directory.
func (w *Writer) ShallowCopyFile(existing *FileHeader, newName string) error {
	found := false
	for _, fh := range w.dir {
		if fh == existing {
			found = true
			break
		}
	}
	if !found {
		return invalidArchive("shallow copy source %q is not part of this archive", existing.Name)
	}

	alias := cloneFileHeader(existing)
	alias.Name = newName
	alias.headerStart = existing.headerStart
	w.dir = append(w.dir, alias)
	if alias.isZip64() {
		w.anyZip64 = true
	}
	return nil
}

// MergeArchive streams other's entire entries region — from the first
// entry's local header through the byte before its central directory —
// into w's sink verbatim, then appends translated central directory
// records with every offset rebased by the distance the region moved.
func (w *Writer) MergeArchive(other *Reader) error {
	if err := w.finishEntry(); err != nil {
		return err
	}
	if len(other.File) == 0 {
		return nil
	}

	regionStart := other.File[0].headerStart
	for _, fh := range other.File {
		if fh.headerStart < regionStart {
			regionStart = fh.headerStart
		}
	}
	physRegionStart := int64(regionStart)
	physRegionEnd := other.centralDirectoryStart
	delta := w.pos - physRegionStart

	region := io.NewSectionReader(other.r, physRegionStart, physRegionEnd-physRegionStart)
	if _, err := io.Copy(writerSinkAdapter{w}, region); err != nil {
		return err
	}

	for _, fh := range other.File {
		copyFH := cloneFileHeader(fh)
		copyFH.headerStart = uint64(int64(fh.headerStart) + delta)
		if ds, ok := fh.dataStart.Load(); ok {
			copyFH.dataStart.Set(uint64(int64(ds) + delta))
		}
		w.dir = append(w.dir, copyFH)
		if copyFH.isZip64() {
			w.anyZip64 = true
		}
	}
	return nil
}

// cloneFileHeader copies every semantic field of src into a freshly
// constructed FileHeader, explicitly leaving the set-once data_start cell
// at its unset sentinel rather than copying the atomic value underneath it.
func cloneFileHeader(src *FileHeader) *FileHeader {
	fh := newFileHeader()
	fh.Name = src.Name
	fh.NameRaw = append([]byte(nil), src.NameRaw...)
	fh.Comment = src.Comment
	fh.CommentRaw = append([]byte(nil), src.CommentRaw...)
	fh.NonUTF8 = src.NonUTF8
	fh.CreatorVersion = src.CreatorVersion
	fh.ReaderVersion = src.ReaderVersion
	fh.Flags = src.Flags
	fh.Method = src.Method
	fh.Modified = src.Modified
	fh.ModifiedDate = src.ModifiedDate
	fh.ModifiedTime = src.ModifiedTime
	fh.CRC32 = src.CRC32
	fh.CompressedSize64 = src.CompressedSize64
	fh.UncompressedSize64 = src.UncompressedSize64
	fh.Extra = append([]byte(nil), src.Extra...)
	fh.ExternalAttrs = src.ExternalAttrs
	fh.System = src.System
	fh.LargeFile = src.LargeFile
	fh.Encrypted = src.Encrypted
	fh.AES = src.AES
	fh.NTFSTimes = src.NTFSTimes
	fh.ExtendedTimestamp = src.ExtendedTimestamp
	fh.password = src.password
	fh.aesExtraOffset = src.aesExtraOffset
	return fh
}
