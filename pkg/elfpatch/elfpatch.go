// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package elfpatch edits the RPATH/RUNPATH dynamic-section entries of an
// ELF32 or ELF64 binary in place, without relinking or otherwise touching
// anything else in the file.
//
// No file in the example corpus parses ELF, so this package is hand-written
// against the ELF specification, following the corpus's general style for
// hand-rolled binary-format codecs (little-endian cursor helpers over raw
// bytes, as pkg/zipedit uses for the ZIP format).
package elfpatch

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	elfMagic = "\x7fELF"

	classELF32 = 1
	classELF64 = 2

	dataLittleEndian = 1
	dataBigEndian    = 2

	ptDynamic = 2

	dtNull     = 0
	dtStrtab   = 5
	dtStrsz    = 10
	dtRpath    = 15
	dtRunpath  = 29
)

// Kind identifies why Patch could not apply an edit.
type Kind int

const (
	// KindNotELF means the file doesn't start with the ELF magic number.
	KindNotELF Kind = iota
	// KindParse means the ELF structure itself is malformed.
	KindParse
	// KindNoDynamicSection means the file has no PT_DYNAMIC segment (e.g.
	// it's statically linked, or not an executable/shared object at all).
	KindNoDynamicSection
	// KindRPathTooLong means the replacement string doesn't fit in the
	// space the existing RPATH/RUNPATH string occupies in the string
	// table; elfpatch never grows the string table.
	KindRPathTooLong
)

func (k Kind) String() string {
	switch k {
	case KindNotELF:
		return "not an ELF file"
	case KindParse:
		return "malformed ELF file"
	case KindNoDynamicSection:
		return "no PT_DYNAMIC segment"
	case KindRPathTooLong:
		return "replacement rpath/runpath is too long"
	default:
		return "unknown"
	}
}

// Error is returned by Patch.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("elfpatch: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("elfpatch: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Result describes what Patch changed.
type Result struct {
	// SetRPath, SetRunpath report whether a DT_RPATH / DT_RUNPATH entry
	// was found and overwritten.
	SetRPath   bool
	SetRunpath bool
}

// Patch overwrites every DT_RPATH and DT_RUNPATH string in content's
// dynamic section with newValue, padding the tail of the string table slot
// with NUL bytes. content is modified and returned in place (its backing
// array is reused; callers that need the original untouched should copy
// first). It is an error for newValue (plus its terminating NUL) to be
// longer than the space the existing string occupied, since this package
// never relocates or grows the dynamic string table.
func Patch(content []byte, newValue string) (Result, error) {
	if len(content) < 20 || !bytes.HasPrefix(content, []byte(elfMagic)) {
		return Result{}, &Error{Kind: KindNotELF}
	}

	class := content[4]
	order, err := byteOrder(content[5])
	if err != nil {
		return Result{}, &Error{Kind: KindParse, Err: err}
	}

	var layout layout
	switch class {
	case classELF32:
		layout = layout32
	case classELF64:
		layout = layout64
	default:
		return Result{}, &Error{Kind: KindParse, Err: fmt.Errorf("unrecognized EI_CLASS %d", class)}
	}

	dynOff, dynSize, err := findDynamicSegment(content, order, layout)
	if err != nil {
		return Result{}, err
	}

	_, strtabOff, strsz, err := findStringTable(content, order, layout, dynOff, dynSize)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for off := dynOff; off+int64(layout.dynEntSize) <= dynOff+dynSize; off += int64(layout.dynEntSize) {
		tag, val := readDynEntry(content, order, layout, off)
		if tag == dtNull {
			break
		}
		if tag != dtRpath && tag != dtRunpath {
			continue
		}

		strOff := strtabOff + int64(val)
		maxLen := strsz - int64(val)
		if strOff < 0 || strOff >= int64(len(content)) {
			return Result{}, &Error{Kind: KindParse, Err: fmt.Errorf("rpath/runpath string offset out of range")}
		}

		oldLen := int64(bytes.IndexByte(content[strOff:minInt64(int64(len(content)), strOff+maxLen)], 0))
		if oldLen < 0 {
			oldLen = maxLen
		}

		if int64(len(newValue)) > oldLen {
			return Result{}, &Error{Kind: KindRPathTooLong}
		}

		n := copy(content[strOff:], newValue)
		for i := strOff + int64(n); i < strOff+oldLen; i++ {
			content[i] = 0
		}

		if tag == dtRpath {
			result.SetRPath = true
		} else {
			result.SetRunpath = true
		}
	}

	return result, nil
}

type layout struct {
	ehsize        int
	phoff         int
	phentsize     int
	phnum         int
	phEntSize     int
	phTypeOff     int
	phOffsetOff   int
	phFilesizeOff int
	phAddrSize    int // 4 for ELF32, 8 for ELF64
	dynEntSize    int
}

var layout32 = layout{
	phoff: 28, phentsize: 42, phnum: 44,
	phEntSize: 32, phTypeOff: 0, phOffsetOff: 4, phFilesizeOff: 16,
	phAddrSize: 4,
	dynEntSize: 8,
}

var layout64 = layout{
	phoff: 32, phentsize: 54, phnum: 56,
	phEntSize: 56, phTypeOff: 0, phOffsetOff: 8, phFilesizeOff: 32,
	phAddrSize: 8,
	dynEntSize: 16,
}

func byteOrder(ident byte) (binary.ByteOrder, error) {
	switch ident {
	case dataLittleEndian:
		return binary.LittleEndian, nil
	case dataBigEndian:
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("unrecognized EI_DATA %d", ident)
	}
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// findDynamicSegment locates the PT_DYNAMIC program header and returns the
// file offset and size of the dynamic section it describes.
func findDynamicSegment(content []byte, order binary.ByteOrder, lay layout) (off, size int64, err error) {
	if len(content) < lay.phoff+8 {
		return 0, 0, &Error{Kind: KindParse, Err: fmt.Errorf("file too short for program header table")}
	}
	phOff := readUint(content, order, lay.phoff, lay.addrFieldWidth())
	phEntSize := int(order.Uint16(content[lay.phentsize:]))
	phNum := int(order.Uint16(content[lay.phnum:]))

	for i := 0; i < phNum; i++ {
		base := int(phOff) + i*phEntSize
		if base+lay.phEntSize > len(content) {
			return 0, 0, &Error{Kind: KindParse, Err: fmt.Errorf("program header %d out of range", i)}
		}
		typ := order.Uint32(content[base+lay.phTypeOff:])
		if typ != ptDynamic {
			continue
		}
		segOff := readUint(content, order, base+lay.phOffsetOff, lay.phAddrSize)
		segSize := readUint(content, order, base+lay.phFilesizeOff, lay.phAddrSize)
		return int64(segOff), int64(segSize), nil
	}

	return 0, 0, &Error{Kind: KindNoDynamicSection}
}

// addrFieldWidth is the width, in bytes, of e_phoff in this class (4 for
// ELF32, 8 for ELF64); phAddrSize doubles as this since both fields share
// the class's native word size.
func (l layout) addrFieldWidth() int { return l.phAddrSize }

func readUint(content []byte, order binary.ByteOrder, off, width int) uint64 {
	switch width {
	case 4:
		return uint64(order.Uint32(content[off:]))
	case 8:
		return order.Uint64(content[off:])
	default:
		panic("unsupported width")
	}
}

// findStringTable walks the dynamic section looking for DT_STRTAB (a
// virtual address) and DT_STRSZ, then resolves the virtual address to a
// file offset with a second program-header scan (vaddrToFileOffset), using
// the PT_LOAD segment whose file-backed range contains that address.
func findStringTable(content []byte, order binary.ByteOrder, lay layout, dynOff, dynSize int64) (vaddr uint64, fileOff int64, size int64, err error) {
	var strtabVaddr uint64
	var strsz uint64
	sawStrtab, sawStrsz := false, false

	for off := dynOff; off+int64(lay.dynEntSize) <= dynOff+dynSize; off += int64(lay.dynEntSize) {
		tag, val := readDynEntry(content, order, lay, off)
		switch tag {
		case dtStrtab:
			strtabVaddr = val
			sawStrtab = true
		case dtStrsz:
			strsz = val
			sawStrsz = true
		case dtNull:
		}
		if tag == dtNull {
			break
		}
	}
	if !sawStrtab || !sawStrsz {
		return 0, 0, 0, &Error{Kind: KindParse, Err: fmt.Errorf("dynamic section has no DT_STRTAB/DT_STRSZ")}
	}

	off, err := vaddrToFileOffset(content, order, lay, strtabVaddr)
	if err != nil {
		return 0, 0, 0, err
	}
	return strtabVaddr, off, int64(strsz), nil
}

// vaddrToFileOffset translates a virtual address to a file offset by
// finding the PT_LOAD segment that contains it.
func vaddrToFileOffset(content []byte, order binary.ByteOrder, lay layout, vaddr uint64) (int64, error) {
	const ptLoad = 1

	phOff := readUint(content, order, lay.phoff, lay.addrFieldWidth())
	phEntSize := int(order.Uint16(content[lay.phentsize:]))
	phNum := int(order.Uint16(content[lay.phnum:]))

	vaddrOff := lay.phOffsetOff + lay.phAddrSize // p_vaddr immediately follows p_offset
	filesizeOff := lay.phFilesizeOff

	for i := 0; i < phNum; i++ {
		base := int(phOff) + i*phEntSize
		typ := order.Uint32(content[base+lay.phTypeOff:])
		if typ != ptLoad {
			continue
		}
		segOff := readUint(content, order, base+lay.phOffsetOff, lay.phAddrSize)
		segVaddr := readUint(content, order, base+vaddrOff, lay.phAddrSize)
		segFilesz := readUint(content, order, base+filesizeOff, lay.phAddrSize)

		if vaddr >= segVaddr && vaddr < segVaddr+segFilesz {
			return int64(segOff + (vaddr - segVaddr)), nil
		}
	}

	return 0, fmt.Errorf("virtual address %#x not mapped by any PT_LOAD segment", vaddr)
}

// readDynEntry reads one Elf32_Dyn/Elf64_Dyn entry (d_tag, d_val) at off.
func readDynEntry(content []byte, order binary.ByteOrder, lay layout, off int64) (tag int64, val uint64) {
	half := lay.dynEntSize / 2
	if half == 4 {
		tag = int64(int32(order.Uint32(content[off:])))
		val = uint64(order.Uint32(content[off+4:]))
	} else {
		tag = int64(order.Uint64(content[off:]))
		val = order.Uint64(content[off+8:])
	}
	return tag, val
}
