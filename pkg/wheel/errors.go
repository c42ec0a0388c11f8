// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package wheel

import (
	"fmt"

	"github.com/datawire/wheeledit/pkg/zipedit"
)

// Kind identifies the broad category of an Editor error.
type Kind int

const (
	KindIO Kind = iota
	KindNotZip
	KindTruncated
	KindZip64Malformed
	KindUnsupportedMethod
	KindUnsupportedEncryption
	KindMalformedWheel
	KindMetadataParse
	KindWheelParse
	KindRecordParse
	KindElfParse
	KindRPathTooLong
	KindUnknownField
	KindPathOutsideArchive
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
	case KindMalformedWheel:
		return "malformed wheel"
	case KindMetadataParse:
		return "malformed METADATA"
	case KindWheelParse:
		return "malformed WHEEL"
	case KindRecordParse:
		return "malformed RECORD"
	case KindElfParse:
		return "malformed ELF file"
	case KindRPathTooLong:
		return "replacement rpath/runpath is too long"
	case KindUnknownField:
		return "unknown field"
	case KindPathOutsideArchive:
		return "path escapes the archive root"
	default:
		return "unknown"
	}
}

// Error is the error type returned by Editor methods.
type Error struct {
	Kind    Kind
	Context string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wheel: %s: %s: %v", e.Kind, e.Context, e.Err)
	}
	return fmt.Sprintf("wheel: %s: %s", e.Kind, e.Context)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, context string, err error) *Error {
	return &Error{Kind: kind, Context: context, Err: err}
}

// wrapZipError translates a *zipedit.Error into the equivalent *Error Kind.
func wrapZipError(context string, err error) error {
	if err == nil {
		return nil
	}
	zerr, ok := err.(*zipedit.Error)
	if !ok {
		return newError(KindIO, context, err)
	}
	kind := map[zipedit.Kind]Kind{
		zipedit.KindIO:                    KindIO,
		zipedit.KindNotZip:                KindNotZip,
		zipedit.KindTruncated:             KindTruncated,
		zipedit.KindZip64Malformed:        KindZip64Malformed,
		zipedit.KindUnsupportedMethod:     KindUnsupportedMethod,
		zipedit.KindUnsupportedEncryption: KindUnsupportedEncryption,
	}[zerr.Kind]
	return newError(kind, context, zerr)
}
