package zip

import (
	"bytes"
	"io"
)

var (
	zip32EOCDMagic = []byte{0x50, 0x4b, 0x05, 0x06}
	zip64EOCDMagic = []byte{0x50, 0x4b, 0x06, 0x06}
	zip64LocMagic  = []byte{0x50, 0x4b, 0x06, 0x07}
	centralMagic   = []byte{0x50, 0x4b, 0x01, 0x02}
)

// OffsetPolicy selects how the archive offset (the constant added to every
// in-archive offset to translate it into the outer byte stream) is
// determined when opening an archive that may be prefixed by non-ZIP
// bytes, such as a self-extractor stub or a shebang line.
type OffsetPolicy struct {
	kind  offsetPolicyKind
	known int64
}

type offsetPolicyKind int

const (
	offsetFromCentralDirectory offsetPolicyKind = iota
	offsetKnown
	offsetDetect
)

// KnownOffset fixes the archive offset to a caller-supplied value.
func KnownOffset(n int64) OffsetPolicy { return OffsetPolicy{kind: offsetKnown, known: n} }

// FromCentralDirectoryOffset derives the archive offset purely by
// arithmetic on the located end-of-directory record, without verifying
// that a central-directory header actually sits there.
func FromCentralDirectoryOffset() OffsetPolicy { return OffsetPolicy{kind: offsetFromCentralDirectory} }

// DetectOffset derives the archive offset as FromCentralDirectoryOffset
// does, then verifies it by checking for the central-directory magic at
// the implied position, falling back to a zero offset if that check
// fails. This handles self-extractors whose central directory is not
// immediately preceded by file entries.
func DetectOffset() OffsetPolicy { return OffsetPolicy{kind: offsetDetect} }

// eocdCandidate is one viable reading of the end-of-central-directory
// region. Several may exist in one file because a comment or filename can
// itself contain an EOCD magic sequence; the caller tries each in rank
// order until one yields a self-consistent central directory.
type eocdCandidate struct {
	isZip64       bool
	archiveOffset int64
	cdOffset      uint64
	cdSize        uint64
	numEntries    uint64
	diskNumber    uint32
	diskWithCD    uint32
	numEntriesThisDisk uint64
	comment       string
	eocdPos       int64
}

// findEOCDCandidates implements the central-directory locator (C3):
// it scans backward for every ZIP32 end-of-directory record that parses,
// attempts a ZIP64 upgrade for each, computes the archive offset per
// policy, and returns all candidates ranked ZIP64-first then
// highest-offset-first. The caller (the entry metadata parser) tries each
// in turn and accepts the first that yields a self-consistent directory.
func findEOCDCandidates(r io.ReaderAt, size int64, policy OffsetPolicy) ([]eocdCandidate, error) {
	if size < directoryEndLen {
		return nil, invalidArchive("file too short to contain an end-of-central-directory record")
	}

	finder := newMagicFinder(r, zip32EOCDMagic, 0, size, magicWindowSizeZip32)

	var zip64Candidates, zip32Candidates []eocdCandidate

	for {
		pos, ok, err := finder.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		rest := size - pos
		if rest < directoryEndLen {
			continue
		}
		buf := make([]byte, directoryEndLen)
		if _, err := readFullAt(r, buf, pos); err != nil {
			return nil, err
		}
		b := readBuf(buf)
		if b.uint32() != directoryEndSignature {
			continue
		}
		diskNumber := b.uint16()
		diskWithCD := b.uint16()
		numEntriesThisDisk := b.uint16()
		numEntries := b.uint16()
		cdSize := b.uint32()
		cdOffset := b.uint32()
		commentLen := b.uint16()

		if pos+directoryEndLen+int64(commentLen) > size {
			continue
		}
		commentBuf := make([]byte, commentLen)
		if commentLen > 0 {
			if _, err := readFullAt(r, commentBuf, pos+directoryEndLen); err != nil {
				return nil, err
			}
		}

		cand32 := eocdCandidate{
			archiveOffset:      0,
			cdOffset:           uint64(cdOffset),
			cdSize:             uint64(cdSize),
			numEntries:         uint64(numEntries),
			diskNumber:         uint32(diskNumber),
			diskWithCD:         uint32(diskWithCD),
			numEntriesThisDisk: uint64(numEntriesThisDisk),
			comment:            decodeCP437(commentBuf),
			eocdPos:            pos,
		}

		if cand64, ok, err := tryZip64Upgrade(r, pos); err != nil {
			return nil, err
		} else if ok {
			if err := resolveArchiveOffset(r, &cand64, policy); err != nil {
				return nil, err
			}
			zip64Candidates = append(zip64Candidates, cand64)
		}

		if err := resolveArchiveOffset(r, &cand32, policy); err != nil {
			return nil, err
		}
		zip32Candidates = append(zip32Candidates, cand32)
	}

	if len(zip32Candidates) == 0 {
		return nil, invalidArchive("no end-of-central-directory record found")
	}

	return append(zip64Candidates, zip32Candidates...), nil
}

// tryZip64Upgrade looks for a ZIP64 locator immediately preceding a ZIP32
// EOCD candidate at zip32Pos, and if found, locates and parses the ZIP64
// EOCD record it points to.
func tryZip64Upgrade(r io.ReaderAt, zip32Pos int64) (eocdCandidate, bool, error) {
	locPos := zip32Pos - directory64LocLen
	if locPos < 0 {
		return eocdCandidate{}, false, nil
	}
	buf := make([]byte, directory64LocLen)
	if _, err := readFullAt(r, buf, locPos); err != nil {
		return eocdCandidate{}, false, nil
	}
	b := readBuf(buf)
	if b.uint32() != directory64LocSignature {
		return eocdCandidate{}, false, nil
	}
	_ = b.uint32()           // disk with zip64 EOCD start
	hintOffset := b.uint64() // zip64 EOCD offset, pre archive-offset-correction
	_ = b.uint32()           // total number of disks

	finder := newOptimisticMagicFinder(r, zip64EOCDMagic, 0, locPos, int64(hintOffset), true, false, magicWindowSizeZip64)
	pos, ok, err := finder.next()
	if err != nil {
		return eocdCandidate{}, false, err
	}
	if !ok {
		return eocdCandidate{}, false, nil
	}

	if locPos-pos < directory64EndLen {
		return eocdCandidate{}, false, nil
	}
	fixed := make([]byte, directory64EndLen)
	if _, err := readFullAt(r, fixed, pos); err != nil {
		return eocdCandidate{}, false, err
	}
	fb := readBuf(fixed)
	if fb.uint32() != directory64EndSignature {
		return eocdCandidate{}, false, nil
	}
	_ = fb.uint64() // size of remaining record
	versionMadeBy := fb.uint16()
	versionNeeded := fb.uint16()
	diskNumber := fb.uint32()
	diskWithCD := fb.uint32()
	numEntriesThisDisk := fb.uint64()
	numEntries := fb.uint64()
	cdSize := fb.uint64()
	cdOffset := fb.uint64()

	if versionNeeded > versionMadeBy {
		return eocdCandidate{}, false, unsupportedArchive("zip64 end-of-directory: version needed %d exceeds version made by %d", versionNeeded, versionMadeBy)
	}
	if numEntriesThisDisk > numEntries {
		return eocdCandidate{}, false, invalidArchive("zip64 end-of-directory: disk entry count exceeds total")
	}
	if diskNumber != diskWithCD {
		return eocdCandidate{}, false, unsupportedArchive("multi-disk archives are not supported")
	}

	return eocdCandidate{
		isZip64:            true,
		cdOffset:            cdOffset,
		cdSize:              cdSize,
		numEntries:          numEntries,
		diskNumber:          diskNumber,
		diskWithCD:          diskWithCD,
		numEntriesThisDisk:  numEntriesThisDisk,
		eocdPos:             pos,
	}, true, nil
}

func resolveArchiveOffset(r io.ReaderAt, cand *eocdCandidate, policy OffsetPolicy) error {
	switch policy.kind {
	case offsetKnown:
		cand.archiveOffset = policy.known
		return nil

	case offsetFromCentralDirectory:
		cand.archiveOffset = cand.eocdPos - int64(cand.cdSize) - int64(cand.cdOffset)
		return nil

	case offsetDetect:
		cand.archiveOffset = cand.eocdPos - int64(cand.cdSize) - int64(cand.cdOffset)
		probe := make([]byte, 4)
		physicalCDStart := cand.archiveOffset + int64(cand.cdOffset)
		if physicalCDStart < 0 {
			cand.archiveOffset = 0
			return nil
		}
		if _, err := readFullAt(r, probe, physicalCDStart); err != nil {
			cand.archiveOffset = 0
			return nil
		}
		if !bytes.Equal(probe, centralMagic) {
			cand.archiveOffset = 0
		}
		return nil

	default:
		return nil
	}
}
