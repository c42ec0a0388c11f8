// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package zipedit is a from-scratch ZIP reader/writer tuned for editing a
// handful of members of a large archive without re-compressing the rest.
//
// Unlike archive/zip, the Reader exposes each member's raw (still-compressed)
// bytes as an io.ReaderAt slice into the original file, so that a Writer can
// copy them back out verbatim instead of inflating and re-deflating content
// nobody asked to change.
package zipedit

import (
	"time"

	"github.com/datawire/wheeledit/pkg/python"
)

// Compression methods recognized by this package. Anything else is reported
// as an UnsupportedMethod error by the Reader.
const (
	Store   uint16 = 0
	Deflate uint16 = 8
)

const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50
	dataDescriptorSignature  = 0x08074b50

	fileHeaderLen      = 30
	directoryHeaderLen = 46
	directoryEndLen    = 22
	directory64EndLen  = 56
	directory64LocLen  = 20

	zip64ExtraID   = 0x0001
	extTimeExtraID = 0x5455

	zipVersion20 = 20
	zipVersion45 = 45

	creatorUnix = 3

	uint16max = (1 << 16) - 1
	uint32max = (1 << 32) - 1

	// flagDataDescriptor marks that CRC32/sizes live in a trailing data
	// descriptor rather than the local file header.
	flagDataDescriptor = 0x8
	// flagUTF8 marks that Name/Comment are UTF-8, not CP-437.
	flagUTF8 = 0x800
	// flagEncrypted marks "General purpose bit 0" — traditional PKWARE
	// encryption (or one of the stronger schemes signalled via Extra).
	flagEncrypted = 0x1
)

// FileHeader is the subset of a ZIP member's metadata that zipedit tracks
// and round-trips, modeled on the same fields martin-sucha/zipserve tracks
// for its streaming writer.
type FileHeader struct {
	Name     string
	Method   uint16
	Modified time.Time

	CRC32              uint32
	CompressedSize64   uint64
	UncompressedSize64 uint64

	// ExternalAttrs is the raw 32-bit "external file attributes" field;
	// see python.ZIPExternalAttributes for how Python (and this package)
	// interprets it.
	ExternalAttrs uint32

	// CreatorVersion's high byte records which platform wrote the entry
	// (3 == Unix); zipedit always writes Unix-style entries but preserves
	// the creator platform byte of entries it raw-copies.
	CreatorVersion uint16

	// NonUTF8, if set, suppresses the UTF-8 name/comment flag even if Name
	// happens to be valid UTF-8. Carried over from entries that had it set
	// on read; never set by zipedit itself.
	NonUTF8 bool
}

// IsDir reports whether the header describes a directory entry (a
// zero-length member whose name ends in "/").
func (h *FileHeader) IsDir() bool {
	return len(h.Name) > 0 && h.Name[len(h.Name)-1] == '/'
}

// ExternalAttributes decodes ExternalAttrs the way Python's zipfile module
// does, ignoring CreatorVersion.
func (h *FileHeader) ExternalAttributes() python.ZIPExternalAttributes {
	return python.ParseZIPExternalAttributes(h.ExternalAttrs)
}

// IsRegularFile reports whether the entry's recorded Unix mode bits (if any)
// mark it as a regular file. Archives written by tools that never set a Unix
// mode (ExternalAttrs == 0) are treated as regular, since that's the common
// case for wheels built on non-Unix platforms.
func (h *FileHeader) IsRegularFile() bool {
	mode := h.ExternalAttributes().UNIX
	return mode == 0 || mode.IsRegular()
}

// SetExternalAttributes encodes a python.ZIPExternalAttributes into
// ExternalAttrs and marks the entry as Unix-authored.
func (h *FileHeader) SetExternalAttributes(attrs python.ZIPExternalAttributes) {
	h.ExternalAttrs = attrs.Raw()
	h.CreatorVersion = h.CreatorVersion&0x00ff | creatorUnix<<8
}

// isZip64 reports whether this entry's sizes require a ZIP64 extra field.
func (h *FileHeader) isZip64() bool {
	return h.CompressedSize64 >= uint32max || h.UncompressedSize64 >= uint32max
}

// RawContent is a reference to an entry's still-compressed payload, as a
// byte range of the archive the Reader was given. It lets the Writer copy
// bytes straight through with io.Copy instead of inflating and re-deflating.
type RawContent struct {
	// Source is the archive (or other backing store) the bytes live in.
	Source ReaderAtSection
	// Offset is the byte offset of the first byte of compressed content
	// within Source.
	Offset int64
	// Size is the number of compressed bytes.
	Size int64
}

// ReaderAtSection is the minimal interface RawContent needs from its backing
// store; *os.File and *bytes.Reader both satisfy it.
type ReaderAtSection interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// Entry is one member of an archive as tracked by a Reader or staged into a
// Writer: a FileHeader plus exactly one of raw (untouched) or decompressed
// (edited) content.
type Entry struct {
	FileHeader

	// Raw holds the entry's original compressed bytes, valid when Dirty is
	// false. The Writer copies these straight through.
	Raw RawContent

	// Dirty, if true, means Content (not Raw) holds this entry's new,
	// uncompressed payload, and the Writer must compress it fresh.
	Dirty   bool
	Content []byte
}
