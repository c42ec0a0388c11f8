// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package zipedit

import "fmt"

// Kind identifies the broad category of a zipedit error, so that callers
// (and pkg/wheel, which wraps these into its own error Kind) can branch on
// cause without string-matching messages.
type Kind int

const (
	// KindIO covers ordinary read/write/seek failures on the underlying file.
	KindIO Kind = iota
	// KindNotZip means the end-of-central-directory record was never found.
	KindNotZip
	// KindTruncated means a record was found but ran past the end of the file.
	KindTruncated
	// KindZip64Malformed means a ZIP64 extra field was present but
	// internally inconsistent (wrong size, missing expected subfields).
	KindZip64Malformed
	// KindUnsupportedMethod means an entry uses a compression method other
	// than Store or Deflate.
	KindUnsupportedMethod
	// KindUnsupportedEncryption means an entry has the encryption bit set.
	KindUnsupportedEncryption
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindNotZip:
		return "not a zip file"
	case KindTruncated:
		return "truncated zip file"
	case KindZip64Malformed:
		return "malformed zip64 extra field"
	case KindUnsupportedMethod:
		return "unsupported compression method"
	case KindUnsupportedEncryption:
		return "unsupported encryption"
	default:
		return "unknown"
	}
}

// Error is the error type returned by Reader and Writer. Context is a short
// human-readable detail (an entry name, an offset, ...); Err, if non-nil, is
// the underlying cause.
type Error struct {
	Kind    Kind
	Context string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("zipedit: %s: %s: %v", e.Kind, e.Context, e.Err)
	}
	return fmt.Sprintf("zipedit: %s: %s", e.Kind, e.Context)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, context string, err error) *Error {
	return &Error{Kind: kind, Context: context, Err: err}
}
