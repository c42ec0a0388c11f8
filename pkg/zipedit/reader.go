// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package zipedit

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// maxEOCDSearch bounds how far back from the end of the file we'll scan
// looking for the end-of-central-directory signature (the EOCD comment is
// at most 65535 bytes, plus the 22-byte fixed record).
const maxEOCDSearch = 22 + uint16max

// Reader parses a ZIP archive's central directory and exposes each member
// as an Entry whose compressed bytes are a lazy RawContent slice into src,
// rather than eagerly read or inflated.
type Reader struct {
	src  ReaderAtSection
	size int64

	Entries []*Entry
	Comment string
}

// NewReader parses the central directory of the size-byte archive readable
// through src. It does not read any member's content.
func NewReader(src ReaderAtSection, size int64) (*Reader, error) {
	r := &Reader{src: src, size: size}
	eocdOff, err := r.findEOCD()
	if err != nil {
		return nil, err
	}

	eocd, err := r.readEOCD(eocdOff)
	if err != nil {
		return nil, err
	}

	cdOffset := eocd.cdOffset
	cdRecords := eocd.cdRecords
	if eocd.needsZip64 {
		z64, err := r.readZip64EOCD(eocdOff)
		if err != nil {
			return nil, err
		}
		cdOffset = z64.cdOffset
		cdRecords = z64.cdRecords
	}

	entries, err := r.readCentralDirectory(int64(cdOffset), cdRecords)
	if err != nil {
		return nil, err
	}

	r.Entries = entries
	r.Comment = eocd.comment
	return r, nil
}

type eocdRecord struct {
	cdRecords  uint64
	cdSize     uint64
	cdOffset   uint64
	comment    string
	needsZip64 bool
}

// findEOCD scans backwards from the end of the file for the EOCD signature.
func (r *Reader) findEOCD() (int64, error) {
	searchLen := int64(maxEOCDSearch)
	if searchLen > r.size {
		searchLen = r.size
	}
	buf := make([]byte, searchLen)
	start := r.size - searchLen
	if _, err := r.src.ReadAt(buf, start); err != nil && err != io.EOF {
		return 0, newError(KindIO, "reading tail for end-of-central-directory record", err)
	}
	for i := len(buf) - directoryEndLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:]) == directoryEndSignature {
			return start + int64(i), nil
		}
	}
	return 0, newError(KindNotZip, "no end-of-central-directory signature found", nil)
}

func (r *Reader) readAt(n int, off int64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := r.src.ReadAt(buf, off); err != nil {
		return nil, newError(KindTruncated, fmt.Sprintf("reading %d bytes at offset %d", n, off), err)
	}
	return buf, nil
}

func (r *Reader) readEOCD(off int64) (*eocdRecord, error) {
	buf, err := r.readAt(directoryEndLen, off)
	if err != nil {
		return nil, err
	}
	b := readBuf(buf)
	_ = b.uint32() // signature, already matched
	_ = b.uint16() // number of this disk
	_ = b.uint16() // disk with start of central directory
	numRecordsDisk := b.uint16()
	numRecords := b.uint16()
	cdSize := b.uint32()
	cdOffset := b.uint32()
	commentLen := b.uint16()

	if numRecordsDisk != numRecords {
		return nil, newError(KindZip64Malformed, "multi-disk archives are not supported", nil)
	}

	commentBuf, err := r.readAt(int(commentLen), off+directoryEndLen)
	if err != nil {
		return nil, err
	}

	needsZip64 := numRecords == uint16max || cdSize == uint32max || cdOffset == uint32max
	return &eocdRecord{
		cdRecords:  uint64(numRecords),
		cdSize:     uint64(cdSize),
		cdOffset:   uint64(cdOffset),
		comment:    string(commentBuf),
		needsZip64: needsZip64,
	}, nil
}

type zip64EOCD struct {
	cdRecords uint64
	cdOffset  uint64
}

// readZip64EOCD locates and parses the ZIP64 end-of-central-directory
// locator (which sits immediately before the ordinary EOCD record) and the
// ZIP64 EOCD record it points to.
func (r *Reader) readZip64EOCD(eocdOff int64) (*zip64EOCD, error) {
	locOff := eocdOff - directory64LocLen
	if locOff < 0 {
		return nil, newError(KindZip64Malformed, "zip64 locator would start before the file", nil)
	}
	buf, err := r.readAt(directory64LocLen, locOff)
	if err != nil {
		return nil, err
	}
	b := readBuf(buf)
	sig := b.uint32()
	if sig != directory64LocSignature {
		return nil, newError(KindZip64Malformed, "missing zip64 end-of-central-directory locator", nil)
	}
	_ = b.uint32() // disk with start of zip64 EOCD record
	z64Off := b.uint64()
	_ = b.uint32() // total number of disks

	buf, err = r.readAt(directory64EndLen, int64(z64Off))
	if err != nil {
		return nil, err
	}
	b = readBuf(buf)
	sig = b.uint32()
	if sig != directory64EndSignature {
		return nil, newError(KindZip64Malformed, "zip64 locator points to the wrong place", nil)
	}
	_ = b.uint64() // size of this record (minus signature and this field)
	_ = b.uint16() // version made by
	_ = b.uint16() // version needed to extract
	_ = b.uint32() // number of this disk
	_ = b.uint32() // disk with start of central directory
	_ = b.uint64() // entries in central directory on this disk
	numRecords := b.uint64()
	_ = b.uint64() // size of central directory
	cdOffset := b.uint64()

	return &zip64EOCD{cdRecords: numRecords, cdOffset: cdOffset}, nil
}

func (r *Reader) readCentralDirectory(off int64, numRecords uint64) ([]*Entry, error) {
	entries := make([]*Entry, 0, numRecords)
	for i := uint64(0); i < numRecords; i++ {
		entry, next, err := r.readCentralDirectoryEntry(off)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		off = next
	}
	return entries, nil
}

func (r *Reader) readCentralDirectoryEntry(off int64) (*Entry, int64, error) {
	buf, err := r.readAt(directoryHeaderLen, off)
	if err != nil {
		return nil, 0, err
	}
	b := readBuf(buf)
	sig := b.uint32()
	if sig != directoryHeaderSignature {
		return nil, 0, newError(KindTruncated, fmt.Sprintf("central directory entry at %d has wrong signature", off), nil)
	}
	creatorVersion := b.uint16()
	_ = b.uint16() // version needed to extract
	flags := b.uint16()
	method := b.uint16()
	modTime := b.uint16()
	modDate := b.uint16()
	crc32 := b.uint32()
	compressedSize32 := b.uint32()
	uncompressedSize32 := b.uint32()
	nameLen := b.uint16()
	extraLen := b.uint16()
	commentLen := b.uint16()
	_ = b.uint16() // disk number start
	_ = b.uint16() // internal file attributes
	externalAttrs := b.uint32()
	localOffset32 := b.uint32()

	varOff := off + directoryHeaderLen
	nameBuf, err := r.readAt(int(nameLen), varOff)
	if err != nil {
		return nil, 0, err
	}
	varOff += int64(nameLen)
	extraBuf, err := r.readAt(int(extraLen), varOff)
	if err != nil {
		return nil, 0, err
	}
	varOff += int64(extraLen)
	_, err = r.readAt(int(commentLen), varOff)
	if err != nil {
		return nil, 0, err
	}
	varOff += int64(commentLen)

	name := string(nameBuf)

	if flags&flagEncrypted != 0 {
		return nil, 0, newError(KindUnsupportedEncryption, name, nil)
	}
	if method != Store && method != Deflate {
		return nil, 0, newError(KindUnsupportedMethod, fmt.Sprintf("%s: method %d", name, method), nil)
	}

	compressedSize := uint64(compressedSize32)
	uncompressedSize := uint64(uncompressedSize32)
	localOffset := uint64(localOffset32)

	// ZIP64 extra fields are present in this exact order, and only for
	// whichever of the three base fields were sentinel (0xffffffff).
	if compressedSize32 == uint32max || uncompressedSize32 == uint32max || localOffset32 == uint32max {
		z64, err := parseZip64Extra(extraBuf, uncompressedSize32 == uint32max, compressedSize32 == uint32max, localOffset32 == uint32max)
		if err != nil {
			return nil, 0, newError(KindZip64Malformed, name, err)
		}
		if z64.uncompressedSize != nil {
			uncompressedSize = *z64.uncompressedSize
		}
		if z64.compressedSize != nil {
			compressedSize = *z64.compressedSize
		}
		if z64.localOffset != nil {
			localOffset = *z64.localOffset
		}
	}

	modified := dosTimeToTime(modDate, modTime)
	if t, ok := extendedTimestamp(extraBuf); ok {
		modified = t
	}

	entry := &Entry{
		FileHeader: FileHeader{
			Name:               name,
			Method:             method,
			Modified:           modified,
			CRC32:              crc32,
			CompressedSize64:   compressedSize,
			UncompressedSize64: uncompressedSize,
			ExternalAttrs:      externalAttrs,
			CreatorVersion:     creatorVersion,
			NonUTF8:            flags&flagUTF8 == 0,
		},
	}

	if !entry.IsDir() {
		contentOff, err := r.localContentOffset(int64(localOffset))
		if err != nil {
			return nil, 0, err
		}
		entry.Raw = RawContent{Source: r.src, Offset: contentOff, Size: int64(compressedSize)}
	}

	return entry, varOff, nil
}

// localContentOffset reads just enough of the local file header at
// localOff to find the byte offset where the entry's compressed content
// begins (the name/extra lengths in the local header can, per spec, differ
// in padding from the central directory copy, so it must be read directly).
func (r *Reader) localContentOffset(localOff int64) (int64, error) {
	buf, err := r.readAt(fileHeaderLen, localOff)
	if err != nil {
		return 0, err
	}
	b := readBuf(buf)
	sig := b.uint32()
	if sig != fileHeaderSignature {
		return 0, newError(KindTruncated, fmt.Sprintf("local file header at %d has wrong signature", localOff), nil)
	}
	_ = b.uint16() // version needed
	_ = b.uint16() // flags
	_ = b.uint16() // method
	_ = b.uint16() // mod time
	_ = b.uint16() // mod date
	_ = b.uint32() // crc32
	_ = b.uint32() // compressed size
	_ = b.uint32() // uncompressed size
	nameLen := b.uint16()
	extraLen := b.uint16()
	return localOff + fileHeaderLen + int64(nameLen) + int64(extraLen), nil
}

type zip64Fields struct {
	uncompressedSize *uint64
	compressedSize   *uint64
	localOffset      *uint64
}

// parseZip64Extra finds the ZIP64 extra record (tag 0x0001) within extra and
// reads out only the subfields the caller says were sentinel values in the
// base header, in the mandated order: uncompressed size, compressed size,
// local header offset, disk number.
func parseZip64Extra(extra []byte, wantUncompressed, wantCompressed, wantOffset bool) (*zip64Fields, error) {
	for len(extra) >= 4 {
		tag := binary.LittleEndian.Uint16(extra[0:2])
		size := binary.LittleEndian.Uint16(extra[2:4])
		if len(extra) < int(4+size) {
			return nil, fmt.Errorf("extra field truncated")
		}
		data := extra[4 : 4+size]
		if tag == zip64ExtraID {
			b := readBuf(data)
			out := &zip64Fields{}
			if wantUncompressed {
				if len(b) < 8 {
					return nil, fmt.Errorf("zip64 extra missing uncompressed size")
				}
				v := b.uint64()
				out.uncompressedSize = &v
			}
			if wantCompressed {
				if len(b) < 8 {
					return nil, fmt.Errorf("zip64 extra missing compressed size")
				}
				v := b.uint64()
				out.compressedSize = &v
			}
			if wantOffset {
				if len(b) < 8 {
					return nil, fmt.Errorf("zip64 extra missing local header offset")
				}
				v := b.uint64()
				out.localOffset = &v
			}
			return out, nil
		}
		extra = extra[4+size:]
	}
	return nil, fmt.Errorf("no zip64 extra field present")
}

// extendedTimestamp looks for an "extended timestamp" extra field (0x5455)
// carrying a modification time, as written by Info-ZIP and by this
// package's own Writer.
func extendedTimestamp(extra []byte) (time.Time, bool) {
	for len(extra) >= 4 {
		tag := binary.LittleEndian.Uint16(extra[0:2])
		size := binary.LittleEndian.Uint16(extra[2:4])
		if len(extra) < int(4+size) {
			return time.Time{}, false
		}
		data := extra[4 : 4+size]
		if tag == extTimeExtraID && len(data) >= 5 && data[0]&0x1 != 0 {
			mt := binary.LittleEndian.Uint32(data[1:5])
			return time.Unix(int64(mt), 0).UTC(), true
		}
		extra = extra[4+size:]
	}
	return time.Time{}, false
}

func dosTimeToTime(date, t uint16) time.Time {
	return time.Date(
		int(date>>9)+1980,
		time.Month(date>>5&0xf),
		int(date&0x1f),
		int(t>>11),
		int(t>>5&0x3f),
		int(t&0x1f)*2,
		0,
		time.UTC,
	)
}

// readBuf is a little-endian cursor over a byte slice, matching the
// writeBuf helper martin-sucha/zipserve uses for the symmetric write path.
type readBuf []byte

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}
