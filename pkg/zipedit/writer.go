// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package zipedit

import (
	"compress/flate"
	"encoding/binary"
	"hash/crc32"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// ReproducibleEpoch is the fixed modification time stamped onto any entry a
// Writer recompresses, so that editing a wheel twice in a row (with the same
// edits) produces byte-identical output. Raw-copied (untouched) entries keep
// whatever Modified time they already had.
var ReproducibleEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Writer serializes a list of Entries (as produced or edited from a Reader)
// into a ZIP archive, raw-copying any entry whose Dirty flag is clear and
// re-deflating the rest.
type Writer struct {
	w       io.Writer
	count   int64
	offsets []uint64
}

// NewWriter returns a Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteAll writes every entry in order, followed by the central directory,
// ZIP64 end records (if required), and end-of-central-directory record.
func (zw *Writer) WriteAll(entries []*Entry) error {
	zw.offsets = make([]uint64, len(entries))
	for i, e := range entries {
		zw.offsets[i] = uint64(zw.count)
		if err := zw.writeLocal(e); err != nil {
			return err
		}
	}
	return zw.writeCentralDirectory(entries)
}

func (zw *Writer) write(p []byte) error {
	n, err := zw.w.Write(p)
	zw.count += int64(n)
	return err
}

// writeLocal writes one entry's local file header plus its content,
// compressing it fresh if Dirty, or copying the raw bytes through otherwise.
// An entry whose sizes overflow 32 bits gets a ZIP64 extra field (just the
// two sizes; the local header has no offset/disk-number fields to promote).
func (zw *Writer) writeLocal(e *Entry) error {
	var content []byte
	if e.Dirty && !e.IsDir() {
		e.Method = Deflate
		compressed, crc, size, err := compressContent(e.Method, e.Content)
		if err != nil {
			return newError(KindIO, e.Name, err)
		}
		e.CRC32 = crc
		e.UncompressedSize64 = uint64(size)
		e.CompressedSize64 = uint64(len(compressed))
		e.Modified = ReproducibleEpoch
		content = compressed
	}

	nameBytes := []byte(e.Name)
	extra := extendedTimestampExtra(e.Modified)

	needsZip64 := e.isZip64()
	if needsZip64 {
		var zbuf [16]byte
		zb := writeBuf(zbuf[:])
		zb.uint16(zip64ExtraID)
		zb.uint16(16)
		zb.uint64(e.UncompressedSize64)
		zb.uint64(e.CompressedSize64)
		extra = append(extra, zbuf[:]...)
	}

	modDate, modTime := timeToDOS(e.Modified)

	var buf [fileHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(fileHeaderSignature)
	b.uint16(zipVersion20)
	b.uint16(localFlags(e))
	b.uint16(e.Method)
	b.uint16(modTime)
	b.uint16(modDate)
	b.uint32(e.CRC32)
	if needsZip64 {
		b.uint32(uint32max)
		b.uint32(uint32max)
	} else {
		b.uint32(size32(e.CompressedSize64))
		b.uint32(size32(e.UncompressedSize64))
	}
	b.uint16(uint16(len(nameBytes)))
	b.uint16(uint16(len(extra)))
	if err := zw.write(buf[:]); err != nil {
		return err
	}
	if err := zw.write(nameBytes); err != nil {
		return err
	}
	if err := zw.write(extra); err != nil {
		return err
	}

	if e.IsDir() {
		return nil
	}

	if e.Dirty {
		return zw.write(content)
	}

	return zw.copyRaw(e.Raw)
}

func (zw *Writer) copyRaw(raw RawContent) error {
	section := io.NewSectionReader(raw.Source, raw.Offset, raw.Size)
	_, err := io.Copy(countWriter{zw}, section)
	return err
}

type countWriter struct{ zw *Writer }

func (c countWriter) Write(p []byte) (int, error) {
	n, err := c.zw.w.Write(p)
	c.zw.count += int64(n)
	return n, err
}

func localFlags(e *Entry) uint16 {
	var flags uint16
	valid, require := detectUTF8(e.Name)
	if !e.NonUTF8 && require && valid {
		flags |= flagUTF8
	}
	return flags
}

// detectUTF8 reports whether s is valid UTF-8, and whether it must be
// flagged as such (i.e. it isn't also plain CP-437/ASCII-compatible),
// matching the heuristic martin-sucha/zipserve uses.
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}

func compressContent(method uint16, content []byte) (compressed []byte, crc uint32, size int, err error) {
	crc = crc32.ChecksumIEEE(content)
	size = len(content)

	if method == Store {
		return content, crc, size, nil
	}

	var buf strings.Builder
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, 0, 0, err
	}
	if _, err := fw.Write(content); err != nil {
		return nil, 0, 0, err
	}
	if err := fw.Close(); err != nil {
		return nil, 0, 0, err
	}
	return []byte(buf.String()), crc, size, nil
}

func size32(v uint64) uint32 {
	if v > uint32max {
		return uint32max
	}
	return uint32(v)
}

func timeToDOS(t time.Time) (date, dosTime uint16) {
	if t.Year() < 1980 {
		t = ReproducibleEpoch
	}
	date = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	dosTime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}

func extendedTimestampExtra(t time.Time) []byte {
	var buf [9]byte
	b := writeBuf(buf[:])
	b.uint16(extTimeExtraID)
	b.uint16(5)
	b.uint8(1)
	b.uint32(uint32(t.Unix()))
	return buf[:]
}

// writeCentralDirectory writes the central directory, promoting to ZIP64
// (extra fields per-entry, and ZIP64 EOCD + locator) exactly when the
// relevant count/size/offset would otherwise overflow 16 or 32 bits —
// mirroring martin-sucha/zipserve's writeCentralDirectory.
func (zw *Writer) writeCentralDirectory(entries []*Entry) error {
	start := zw.count

	for i, e := range entries {
		offset := zw.offsets[i]
		nameBytes := []byte(e.Name)
		extra := extendedTimestampExtra(e.Modified)

		modDate, modTime := timeToDOS(e.Modified)

		var buf [directoryHeaderLen]byte
		b := writeBuf(buf[:])
		b.uint32(directoryHeaderSignature)
		creatorVersion := e.CreatorVersion
		if creatorVersion == 0 {
			creatorVersion = creatorUnix << 8
		}
		b.uint16(creatorVersion&0xff00 | zipVersion20)
		b.uint16(zipVersion20)
		b.uint16(localFlags(e))
		b.uint16(e.Method)
		b.uint16(modTime)
		b.uint16(modDate)
		b.uint32(e.CRC32)

		needsZip64 := e.isZip64() || offset >= uint32max
		if needsZip64 {
			b.uint32(uint32max)
			b.uint32(uint32max)

			var zbuf [28]byte
			zb := writeBuf(zbuf[:])
			zb.uint16(zip64ExtraID)
			zb.uint16(24)
			zb.uint64(e.UncompressedSize64)
			zb.uint64(e.CompressedSize64)
			zb.uint64(offset)
			extra = append(extra, zbuf[:]...)
		} else {
			b.uint32(size32(e.CompressedSize64))
			b.uint32(size32(e.UncompressedSize64))
		}

		b.uint16(uint16(len(nameBytes)))
		b.uint16(uint16(len(extra)))
		b.uint16(0) // comment length
		b.uint16(0) // disk number start
		b.uint16(0) // internal file attributes
		b.uint32(e.ExternalAttrs)
		if offset > uint32max {
			b.uint32(uint32max)
		} else {
			b.uint32(uint32(offset))
		}

		if err := zw.write(buf[:]); err != nil {
			return err
		}
		if err := zw.write(nameBytes); err != nil {
			return err
		}
		if err := zw.write(extra); err != nil {
			return err
		}
	}

	size := uint64(zw.count - start)
	records := uint64(len(entries))
	cdOffset := uint64(start)

	if records >= uint16max || size >= uint32max || cdOffset >= uint32max {
		end := uint64(zw.count)

		var buf [directory64EndLen + directory64LocLen]byte
		b := writeBuf(buf[:])
		b.uint32(directory64EndSignature)
		b.uint64(directory64EndLen - 12)
		b.uint16(zipVersion45)
		b.uint16(zipVersion45)
		b.uint32(0)
		b.uint32(0)
		b.uint64(records)
		b.uint64(records)
		b.uint64(size)
		b.uint64(cdOffset)

		b.uint32(directory64LocSignature)
		b.uint32(0)
		b.uint64(end)
		b.uint32(1)

		if err := zw.write(buf[:]); err != nil {
			return err
		}

		records = uint16max
		size = uint32max
		cdOffset = uint32max
	}

	var buf [directoryEndLen]byte
	b := writeBuf(buf[:])
	b.uint32(directoryEndSignature)
	b.uint16(0) // disk number
	b.uint16(0) // disk with start of central directory
	b.uint16(uint16(records))
	b.uint16(uint16(records))
	b.uint32(uint32(size))
	b.uint32(uint32(cdOffset))
	b.uint16(0) // comment length
	return zw.write(buf[:])
}

// writeBuf is a little-endian cursor for building fixed-size header buffers,
// the mirror image of readBuf, matching zipserve's own writeBuf helper.
type writeBuf []byte

func (b *writeBuf) uint8(v uint8) {
	(*b)[0] = v
	*b = (*b)[1:]
}

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

func (b *writeBuf) uint64(v uint64) {
	binary.LittleEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}
