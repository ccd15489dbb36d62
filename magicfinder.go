package zip

import (
	"bytes"
	"io"
)

// Window widths for magicFinder's backward scan. The ZIP32 end-of-
// directory record's comment is capped at 64 KiB by its own 16-bit length
// field, but two KiB comfortably covers the common case in one read; the
// ZIP64 locator/EOCD pair is fixed-size and close to the ZIP32 record, but
// gets a wider four KiB window since it's searched for less often and can
// afford the extra margin against an unusually large ZIP32 comment sitting
// between the two.
const (
	magicWindowSizeZip32 = 2048
	magicWindowSizeZip64 = 4096
)

// magicFinder scans backward through [lo, hi) of r looking for needle,
// buffering windowSize bytes at a time and sliding the window toward
// the front of the range on each miss. It exists because the end-of-
// central-directory record can be preceded by an arbitrary comment that
// may itself contain the EOCD signature, so a single backward scan from
// the end of the file is the only reliable way to find the real one: the
// caller asks next() repeatedly to walk every candidate from the back
// until one passes its own consistency checks.
type magicFinder struct {
	r          io.ReaderAt
	needle     []byte
	lo, hi     int64
	windowSize int64

	cursor          int64
	buf             []byte
	midBufferOffset int // -1 when no partial window is pending
}

func newMagicFinder(r io.ReaderAt, needle []byte, lo, hi int64, windowSize int64) *magicFinder {
	return &magicFinder{
		r:               r,
		needle:          needle,
		lo:              lo,
		hi:              hi,
		windowSize:      windowSize,
		cursor:          maxInt64(hi-windowSize, lo),
		midBufferOffset: -1,
	}
}

// next returns the byte offset of the next occurrence of needle, scanning
// from the end of the range toward the front. It returns ok == false once
// the entire range has been exhausted.
func (f *magicFinder) next() (pos int64, ok bool, err error) {
	for f.cursor >= f.lo {
		windowStart := f.cursor
		windowEnd := minInt64(f.cursor+f.windowSize, f.hi)
		if windowEnd <= windowStart {
			break
		}

		windowLen := int(windowEnd - windowStart)
		if cap(f.buf) < windowLen {
			f.buf = make([]byte, windowLen)
		}
		window := f.buf[:windowLen]

		if f.midBufferOffset < 0 {
			if _, err := readFullAt(f.r, window, windowStart); err != nil {
				return 0, false, err
			}
		}

		searchEnd := windowLen
		if f.midBufferOffset >= 0 {
			searchEnd = f.midBufferOffset
		}

		if idx := bytes.LastIndex(window[:searchEnd], f.needle); idx >= 0 {
			f.midBufferOffset = idx
			return windowStart + int64(idx), true, nil
		}

		f.midBufferOffset = -1

		if windowStart == f.lo {
			f.lo = f.hi
			break
		}

		f.cursor = clampInt64(f.cursor+int64(len(f.needle))-f.windowSize, f.lo, f.hi)
	}

	return 0, false, nil
}

// optimisticMagicFinder tries a caller-supplied hint offset first (e.g. the
// previous archive's end-of-central-directory position when re-opening an
// archive known to be append-only) before falling back to a full backward
// scan.
type optimisticMagicFinder struct {
	inner     *magicFinder
	hint      int64
	hintValid bool
	mandatory bool
}

func newOptimisticMagicFinder(r io.ReaderAt, needle []byte, lo, hi int64, hint int64, hintValid, mandatory bool, windowSize int64) *optimisticMagicFinder {
	return &optimisticMagicFinder{
		inner:     newMagicFinder(r, needle, lo, hi, windowSize),
		hint:      hint,
		hintValid: hintValid,
		mandatory: mandatory,
	}
}

func (f *optimisticMagicFinder) next() (int64, bool, error) {
	if f.hintValid {
		f.hintValid = false
		buf := make([]byte, len(f.inner.needle))
		if _, err := readFullAt(f.inner.r, buf, f.hint); err == nil && bytes.Equal(buf, f.inner.needle) {
			return f.hint, true, nil
		} else if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return 0, false, err
		}
		if f.mandatory {
			return 0, false, nil
		}
	}
	return f.inner.next()
}

func readFullAt(r io.ReaderAt, buf []byte, off int64) (int, error) {
	return io.ReadFull(io.NewSectionReader(r, off, int64(len(buf))), buf)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
