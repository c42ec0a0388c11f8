// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package wheel_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/wheeledit/pkg/wheel"
	"github.com/datawire/wheeledit/pkg/wheel/record"
)

const testMetadata = `Metadata-Version: 2.1
Name: example
Version: 1.0.0
Summary: An example package
`

const testWheel = `Wheel-Version: 1.0
Generator: bdist_wheel (0.37.0)
Root-Is-Purelib: true
Tag: py3-none-any
`

// buildTestWheel writes a minimal, valid wheel archive to dir and returns
// its path. files maps archive-relative path to content for every member
// besides RECORD; RECORD is generated to match.
func buildTestWheel(t *testing.T, dir string, files map[string][]byte) string {
	t.Helper()

	rec := &record.Record{}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	p := filepath.Join(dir, "example-1.0.0-py3-none-any.whl")
	f, err := os.Create(p)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range names {
		content := files[name]
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
		rec.Set(record.Row{Path: name, Hash: record.HashContent(content), Size: record.SizeOf(len(content))})
	}
	rec.Set(record.Row{Path: "example-1.0.0.dist-info/RECORD"})
	recordBytes, err := rec.Marshal()
	require.NoError(t, err)
	w, err := zw.Create("example-1.0.0.dist-info/RECORD")
	require.NoError(t, err)
	_, err = w.Write(recordBytes)
	require.NoError(t, err)

	require.NoError(t, zw.Close())
	return p
}

func baseFiles(extra map[string][]byte) map[string][]byte {
	files := map[string][]byte{
		"example/__init__.py":              []byte("# package\n"),
		"example-1.0.0.dist-info/METADATA": []byte(testMetadata),
		"example-1.0.0.dist-info/WHEEL":    []byte(testWheel),
	}
	for k, v := range extra {
		files[k] = v
	}
	return files
}

// readZipMember extracts one member's uncompressed content from a ZIP file
// on disk, independent of pkg/zipedit, so tests cross-validate against the
// stdlib implementation rather than the package under test.
func readZipMember(t *testing.T, zipPath, name string) []byte {
	t.Helper()
	zr, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		return data
	}
	t.Fatalf("member %q not found in %q", name, zipPath)
	return nil
}

// allZipMembers implements record.ContentProvider over a ZIP file on disk,
// used to verify RECORD integrity end-to-end after Save.
type allZipMembers struct {
	zr *zip.ReadCloser
}

func (z allZipMembers) ReadMember(name string) ([]byte, error) {
	for _, f := range z.zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, os.ErrNotExist
}

func TestSetSummaryPreservesOtherHashes(t *testing.T) {
	dir := t.TempDir()
	p := buildTestWheel(t, dir, baseFiles(nil))
	before := readZipMember(t, p, "example/__init__.py")

	ed, err := wheel.Open(context.Background(), p)
	require.NoError(t, err)
	ed.SetSummary("X")
	require.NoError(t, ed.Save(""))
	require.NoError(t, ed.Close())

	ed2, err := wheel.Open(context.Background(), p)
	require.NoError(t, err)
	defer ed2.Close()

	assert.Equal(t, "X", ed2.Summary())
	after := readZipMember(t, p, "example/__init__.py")
	assert.Equal(t, before, after)
}

func TestAddRequiresDistAppends(t *testing.T) {
	dir := t.TempDir()
	metadataWithReq := testMetadata + "Requires-Dist: requests>=2.20.0\n"
	p := buildTestWheel(t, dir, baseFiles(map[string][]byte{
		"example-1.0.0.dist-info/METADATA": []byte(metadataWithReq),
	}))

	ed, err := wheel.Open(context.Background(), p)
	require.NoError(t, err)
	ed.AddRequiresDist("click>=8.0.0")
	require.NoError(t, ed.Save(""))
	require.NoError(t, ed.Close())

	ed2, err := wheel.Open(context.Background(), p)
	require.NoError(t, err)
	defer ed2.Close()
	assert.Equal(t, []string{"requests>=2.20.0", "click>=8.0.0"}, ed2.RequiresDist())
}

func TestSaveProducesValidRecordAfterMutation(t *testing.T) {
	dir := t.TempDir()
	p := buildTestWheel(t, dir, baseFiles(nil))

	ed, err := wheel.Open(context.Background(), p)
	require.NoError(t, err)
	ed.SetSummary("repaired")
	require.NoError(t, ed.Save(""))
	require.NoError(t, ed.Close())

	ed2, err := wheel.Open(context.Background(), p)
	require.NoError(t, err)
	defer ed2.Close()

	zr, err := zip.OpenReader(p)
	require.NoError(t, err)
	defer zr.Close()
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}

	err = record.Verify(ed2.RawRecord(), "example-1.0.0.dist-info", names, allZipMembers{zr: zr})
	assert.NoError(t, err)
}

func TestSaveOnRenameMovesEveryDistInfoRecordRow(t *testing.T) {
	dir := t.TempDir()
	p := buildTestWheel(t, dir, baseFiles(map[string][]byte{
		"example-1.0.0.dist-info/LICENSE":       []byte("MIT\n"),
		"example-1.0.0.dist-info/top_level.txt": []byte("example\n"),
		"example-1.0.0.data/scripts/example-cli": []byte("#!/bin/sh\necho hi\n"),
	}))

	ed, err := wheel.Open(context.Background(), p)
	require.NoError(t, err)
	ed.SetName("renamed")
	ed.SetVersion("2.0.0")
	require.NoError(t, ed.Save(""))
	require.NoError(t, ed.Close())

	zr, err := zip.OpenReader(p)
	require.NoError(t, err)
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	for _, want := range []string{
		"renamed-2.0.0.dist-info/LICENSE",
		"renamed-2.0.0.dist-info/top_level.txt",
		"renamed-2.0.0.data/scripts/example-cli",
		"renamed-2.0.0.dist-info/METADATA",
		"renamed-2.0.0.dist-info/WHEEL",
		"renamed-2.0.0.dist-info/RECORD",
	} {
		assert.Contains(t, names, want)
	}
	for _, old := range []string{
		"example-1.0.0.dist-info/LICENSE",
		"example-1.0.0.dist-info/top_level.txt",
		"example-1.0.0.data/scripts/example-cli",
	} {
		assert.NotContains(t, names, old)
	}

	ed2, err := wheel.Open(context.Background(), p)
	require.NoError(t, err)
	defer ed2.Close()

	for _, name := range names {
		if name == "renamed-2.0.0.dist-info/RECORD" {
			continue
		}
		row, ok := ed2.RawRecord().Get(name)
		assert.True(t, ok, "RECORD is missing a row for %q", name)
		assert.NotEmpty(t, row.Hash, "RECORD row for %q was not renamed to track its new path", name)
	}

	err = record.Verify(ed2.RawRecord(), "renamed-2.0.0.dist-info", names, allZipMembers{zr: zr})
	assert.NoError(t, err)
}

func TestSaveRepairsCorruptSourceHash(t *testing.T) {
	dir := t.TempDir()
	p := buildTestWheel(t, dir, baseFiles(nil))

	zr, err := zip.OpenReader(p)
	require.NoError(t, err)
	recordData, err := func() ([]byte, error) {
		for _, f := range zr.File {
			if f.Name != "example-1.0.0.dist-info/RECORD" {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
		t.Fatal("RECORD not found")
		return nil, nil
	}()
	require.NoError(t, err)
	require.NoError(t, zr.Close())

	rec, err := record.Parse(bytes.NewReader(recordData))
	require.NoError(t, err)
	row, ok := rec.Get("example/__init__.py")
	require.True(t, ok)
	row.Hash = "sha256=" + strings.Repeat("A", 43)
	rec.Set(row)
	corrupted, err := rec.Marshal()
	require.NoError(t, err)

	overwriteZipMember(t, p, "example-1.0.0.dist-info/RECORD", corrupted)

	ed, err := wheel.Open(context.Background(), p)
	require.NoError(t, err)
	ed.SetSummary("unrelated change")
	require.NoError(t, ed.Save(""))
	require.NoError(t, ed.Close())

	ed2, err := wheel.Open(context.Background(), p)
	require.NoError(t, err)
	defer ed2.Close()

	zr2, err := zip.OpenReader(p)
	require.NoError(t, err)
	defer zr2.Close()
	names := make([]string, 0, len(zr2.File))
	for _, f := range zr2.File {
		names = append(names, f.Name)
	}

	err = record.Verify(ed2.RawRecord(), "example-1.0.0.dist-info", names, allZipMembers{zr: zr2})
	assert.NoError(t, err)
}

// overwriteZipMember rewrites a single member's content in the ZIP file at
// zipPath, rebuilding the archive via archive/zip so the test can simulate a
// wheel that already shipped with a corrupt RECORD, independent of
// pkg/zipedit.
func overwriteZipMember(t *testing.T, zipPath, name string, content []byte) {
	t.Helper()
	zr, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer zr.Close()

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		if f.Name == name {
			data = content
		}
		w, err := zw.Create(f.Name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, zr.Close())
	require.NoError(t, os.WriteFile(zipPath, buf.Bytes(), 0o644))
}

func TestSetPlatformTagUpdatesFilenameAndTag(t *testing.T) {
	dir := t.TempDir()
	p := buildTestWheel(t, dir, baseFiles(nil))

	ed, err := wheel.Open(context.Background(), p)
	require.NoError(t, err)
	ed.SetPlatformTag("manylinux_2_28_x86_64")
	name, err := ed.Filename()
	require.NoError(t, err)
	assert.Equal(t, "example-1.0.0-py3-none-manylinux_2_28_x86_64.whl", name)

	require.NoError(t, ed.Save(""))
	require.NoError(t, ed.Close())

	ed2, err := wheel.Open(context.Background(), p)
	require.NoError(t, err)
	defer ed2.Close()
	assert.Equal(t, "manylinux_2_28_x86_64", ed2.PlatformTag())
}

// buildMinimalELF64 builds a synthetic ELF64 object with a single PT_LOAD
// segment and a PT_DYNAMIC segment holding DT_STRTAB/DT_STRSZ/DT_RUNPATH/
// DT_NULL, matching the layout elfpatch.Patch expects. It mirrors
// pkg/elfpatch's own test helper since Editor.SetRPath exercises the same
// format end-to-end through a real ZIP member.
func buildMinimalELF64(t *testing.T, runpath string, strtabSize int) []byte {
	t.Helper()
	require.Less(t, len(runpath)+1, strtabSize)

	const (
		ehdrSize   = 64
		phdrSize   = 56
		phdrCount  = 2
		dynEntSize = 16
	)
	phOff := int64(ehdrSize)
	dynOff := phOff + phdrCount*phdrSize
	dynSize := int64(4 * dynEntSize)
	strtabOff := dynOff + dynSize
	totalSize := strtabOff + int64(strtabSize)

	buf := new(bytes.Buffer)
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.Write(make([]byte, 8))

	le := binary.LittleEndian
	w16 := func(v uint16) { _ = binary.Write(buf, le, v) }
	w32 := func(v uint32) { _ = binary.Write(buf, le, v) }
	w64 := func(v uint64) { _ = binary.Write(buf, le, v) }

	w16(2)
	w16(0x3e)
	w32(1)
	w64(0)
	w64(uint64(phOff))
	w64(0)
	w32(0)
	w16(ehdrSize)
	w16(phdrSize)
	w16(phdrCount)
	w16(0)
	w16(0)
	w16(0)

	writePhdr := func(typ, flags uint32, offset, vaddr, filesz, memsz uint64) {
		w32(typ)
		w32(flags)
		w64(offset)
		w64(vaddr)
		w64(vaddr)
		w64(filesz)
		w64(memsz)
		w64(0)
	}
	writePhdr(1, 5, 0, 0, uint64(totalSize), uint64(totalSize))
	writePhdr(2, 6, uint64(dynOff), uint64(dynOff), uint64(dynSize), uint64(dynSize))

	writeDyn := func(tag int64, val uint64) {
		w64(uint64(tag))
		w64(val)
	}
	writeDyn(5, uint64(strtabOff))
	writeDyn(10, uint64(strtabSize))
	writeDyn(29, 1) // DT_RUNPATH
	writeDyn(0, 0)

	strtab := make([]byte, strtabSize)
	copy(strtab[1:], runpath)
	buf.Write(strtab)

	return buf.Bytes()
}

func TestSetRPathRewritesELFMemberAndCountsMatches(t *testing.T) {
	dir := t.TempDir()
	soContent := buildMinimalELF64(t, "/old/long/path", 32)

	p := buildTestWheel(t, dir, baseFiles(map[string][]byte{
		"example/_native.so": soContent,
	}))

	ed, err := wheel.Open(context.Background(), p)
	require.NoError(t, err)

	count, err := ed.SetRPath("*.so", "$ORIGIN")
	require.NoError(t, err)
	assert.Equal(t, 0, count) // the glob matches the whole relative path, not just a basename

	count, err = ed.SetRPath("example/*.so", "$ORIGIN")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, ed.Save(""))
	require.NoError(t, ed.Close())

	data := readZipMember(t, p, "example/_native.so")
	assert.Contains(t, string(data), "$ORIGIN")
}
