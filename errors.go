// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"errors"
	"fmt"
)

// InvalidArchiveError reports structural corruption in an archive: a wrong
// magic signature, inconsistent sizes, a truncated extra field, or anything
// else that means the bytes on disk do not describe a well-formed ZIP file.
//
// The error is scoped to whatever operation found it: a bad entry does not
// necessarily invalidate the rest of the archive.
type InvalidArchiveError struct {
	Reason string
}

func (e *InvalidArchiveError) Error() string { return "zip: invalid archive: " + e.Reason }

func invalidArchive(format string, args ...interface{}) error {
	return &InvalidArchiveError{Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedArchiveError reports that an archive is structurally well
// formed but relies on a feature this package does not implement: an
// unrecognized compression method, multi-disk spanning, or a password
// protected entry opened without a password.
type UnsupportedArchiveError struct {
	Reason string
}

func (e *UnsupportedArchiveError) Error() string { return "zip: unsupported archive: " + e.Reason }

func unsupportedArchive(format string, args ...interface{}) error {
	return &UnsupportedArchiveError{Reason: fmt.Sprintf(format, args...)}
}

// FileNotFoundError reports that a requested name or index does not
// resolve to any entry in the archive.
type FileNotFoundError struct {
	Name string
}

func (e *FileNotFoundError) Error() string {
	if e.Name == "" {
		return "zip: file not found"
	}
	return "zip: file not found: " + e.Name
}

// InvalidPasswordError reports that the supplied password failed the
// verification bytes of a ZipCrypto header or a WinZip AES key check.
type InvalidPasswordError struct {
	Name string
}

func (e *InvalidPasswordError) Error() string {
	return "zip: invalid password for " + e.Name
}

// DateTimeRangeError reports a time that cannot be represented as an
// MS-DOS date, which covers 1980-01-01 through 2107-12-31 23:59:58 at
// 2 second resolution.
type DateTimeRangeError struct {
	Year int
}

func (e *DateTimeRangeError) Error() string {
	return fmt.Sprintf("zip: year %d outside of range 1980-2107", e.Year)
}

// ErrChecksum is returned by an entry Reader when the CRC32 computed over
// the decompressed bytes does not match the checksum recorded in the
// directory, once end-of-stream has been reached. It is returned as is, not
// wrapped, so both err == ErrChecksum and errors.Is(err, ErrChecksum) work.
// It is a plain I/O error rather than an InvalidArchiveError: CRC
// verification is a property of Read, not of opening the archive.
var ErrChecksum = errors.New("zip: checksum error")

// AsIOError converts a package error into one of the package's exported
// sentinel errors, for host applications that want to classify a failure
// into a coarse I/O-style kind (bad data, unsupported feature, missing
// entry, bad input) without switching on the concrete *XxxError types
// themselves. The result wraps the matching sentinel, so errors.Is(result,
// ErrInvalidData) and similar checks work; unrecognized errors pass through
// unchanged.
func AsIOError(err error) error {
	var invalid *InvalidArchiveError
	var unsupported *UnsupportedArchiveError
	var notFound *FileNotFoundError
	var badPassword *InvalidPasswordError
	switch {
	case errors.As(err, &invalid):
		return fmt.Errorf("%w: %s", ErrInvalidData, invalid.Reason)
	case errors.As(err, &unsupported):
		return fmt.Errorf("%s: %w", unsupported.Reason, ErrUnsupported)
	case errors.As(err, &notFound):
		return fmt.Errorf("%w: %s", ErrNotFound, notFound.Name)
	case errors.As(err, &badPassword):
		return fmt.Errorf("%w: %s", ErrInvalidInput, badPassword.Name)
	default:
		return err
	}
}

// Sentinel errors returned (wrapped) by AsIOError, one per coarse-grained
// failure kind a host application might branch on.
var (
	ErrInvalidData  = errors.New("invalid data")
	ErrUnsupported  = errors.New("unsupported")
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)
