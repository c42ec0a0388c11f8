// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package wheel implements wheeledit's load/mutate/save orchestration over a
// Python wheel (.whl) file: an Editor opens the archive, exposes its
// METADATA/WHEEL/RECORD dist-info members as structured types, applies
// edits to them and to ELF RPATH/RUNPATH entries, and writes back only the
// touched members, raw-copying everything else.
package wheel

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/wheeledit/pkg/elfpatch"
	"github.com/datawire/wheeledit/pkg/python/pep425"
	"github.com/datawire/wheeledit/pkg/wheel/metadata"
	"github.com/datawire/wheeledit/pkg/wheel/record"
	"github.com/datawire/wheeledit/pkg/wheel/wheelfile"
	"github.com/datawire/wheeledit/pkg/zipedit"
)

// specVersionMajor is the highest Wheel-Version major number this package
// understands; see
// the Wheel-Version compatibility check in Open.
const specVersionMajor = 1

// Editor is an in-memory, load/mutate/save view over one wheel file. The
// zero value is not usable; construct one with Open.
type Editor struct {
	srcPath string
	file    *os.File

	entries []*zipedit.Entry

	distInfoDir string

	metadataEntry *zipedit.Entry
	wheelEntry    *zipedit.Entry
	recordEntry   *zipedit.Entry

	Metadata *metadata.Metadata
	Wheel    *wheelfile.Info
	record   *record.Record
}

// Open parses the wheel file at srcPath: its ZIP central directory, its
// dist-info directory, and the METADATA/WHEEL/RECORD members within it.
// Every other member is kept as a lazy, unread Entry until Save.
func Open(ctx context.Context, srcPath string) (*Editor, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return nil, newError(KindIO, srcPath, err)
	}

	ed, err := open(ctx, f, srcPath)
	if err != nil {
		f.Close()
		return nil, err
	}
	return ed, nil
}

func open(ctx context.Context, f *os.File, srcPath string) (*Editor, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, newError(KindIO, srcPath, err)
	}

	zr, err := zipedit.NewReader(f, info.Size())
	if err != nil {
		return nil, wrapZipError(srcPath, err)
	}

	for _, e := range zr.Entries {
		if err := validateEntryName(e.Name); err != nil {
			return nil, newError(KindPathOutsideArchive, e.Name, err)
		}
	}

	distInfoDir, err := locateDistInfoDir(zr.Entries)
	if err != nil {
		return nil, newError(KindMalformedWheel, srcPath, err)
	}

	ed := &Editor{
		srcPath:     srcPath,
		file:        f,
		entries:     zr.Entries,
		distInfoDir: distInfoDir,
	}

	ed.metadataEntry = ed.findEntry(path.Join(distInfoDir, "METADATA"))
	ed.wheelEntry = ed.findEntry(path.Join(distInfoDir, "WHEEL"))
	ed.recordEntry = ed.findEntry(path.Join(distInfoDir, "RECORD"))
	if ed.metadataEntry == nil || ed.wheelEntry == nil || ed.recordEntry == nil {
		return nil, newError(KindMalformedWheel, srcPath, fmt.Errorf("dist-info directory %q is missing METADATA, WHEEL, or RECORD", distInfoDir))
	}

	metadataBytes, err := ed.metadataEntry.ReadAll()
	if err != nil {
		return nil, wrapZipError(ed.metadataEntry.Name, err)
	}
	ed.Metadata, err = metadata.Parse(metadataBytes)
	if err != nil {
		return nil, newError(KindMetadataParse, ed.metadataEntry.Name, err)
	}

	wheelBytes, err := ed.wheelEntry.ReadAll()
	if err != nil {
		return nil, wrapZipError(ed.wheelEntry.Name, err)
	}
	ed.Wheel, err = wheelfile.Parse(wheelBytes)
	if err != nil {
		return nil, newError(KindWheelParse, ed.wheelEntry.Name, err)
	}
	if major, ok := wheelVersionMajor(ed.Wheel.WheelVersion); ok {
		if major > specVersionMajor {
			return nil, newError(KindWheelParse, ed.wheelEntry.Name,
				fmt.Errorf("wheel file's Wheel-Version (%s) is not compatible with this wheel parser", ed.Wheel.WheelVersion))
		}
		if major == specVersionMajor && ed.Wheel.WheelVersion != "1.0" {
			dlog.Warnf(ctx, "wheel file's Wheel-Version (%s) is newer than this wheel parser", ed.Wheel.WheelVersion)
		}
	}

	recordBytes, err := ed.recordEntry.ReadAll()
	if err != nil {
		return nil, wrapZipError(ed.recordEntry.Name, err)
	}
	ed.record, err = record.Parse(bytes.NewReader(recordBytes))
	if err != nil {
		return nil, newError(KindRecordParse, ed.recordEntry.Name, err)
	}

	return ed, nil
}

// wheelVersionMajor extracts the major version number from a "X.Y"
// Wheel-Version string, reporting false if it isn't numeric (callers treat
// that as "can't judge compatibility, so don't").
func wheelVersionMajor(v string) (int, bool) {
	major := strings.SplitN(v, ".", 2)[0]
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0, false
	}
	return n, true
}

func validateEntryName(name string) error {
	if path.IsAbs(name) {
		return fmt.Errorf("entry name is absolute: %q", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return fmt.Errorf("entry name contains a %q segment: %q", "..", name)
		}
	}
	return nil
}

func (ed *Editor) findEntry(name string) *zipedit.Entry {
	for _, e := range ed.entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// Close releases the underlying file handle. It is safe to call after Save.
func (ed *Editor) Close() error {
	return ed.file.Close()
}

// Name returns the distribution name, per Metadata's Name field.
func (ed *Editor) Name() string {
	v, _ := ed.Metadata.Get("Name")
	return v
}

// Version returns the distribution version, per Metadata's Version field.
func (ed *Editor) Version() string {
	v, _ := ed.Metadata.Get("Version")
	return v
}

// Summary, Author, AuthorEmail, License, RequiresPython, and
// DescriptionContentType read their respective single-valued METADATA
// fields, returning "" if absent.
func (ed *Editor) Summary() string        { v, _ := ed.Metadata.Get("Summary"); return v }
func (ed *Editor) Author() string         { v, _ := ed.Metadata.Get("Author"); return v }
func (ed *Editor) AuthorEmail() string    { v, _ := ed.Metadata.Get("Author-Email"); return v }
func (ed *Editor) License() string        { v, _ := ed.Metadata.Get("License"); return v }
func (ed *Editor) RequiresPython() string { v, _ := ed.Metadata.Get("Requires-Python"); return v }
func (ed *Editor) DescriptionContentType() string {
	v, _ := ed.Metadata.Get("Description-Content-Type")
	return v
}

// RawRecord returns the Editor's decoded RECORD, for callers (including
// tests) that need to inspect or independently verify it.
func (ed *Editor) RawRecord() *record.Record { return ed.record }

// Classifiers and RequiresDist return the ordered sequence of values for
// their multi-valued METADATA fields.
func (ed *Editor) Classifiers() []string  { return ed.Metadata.GetAll("Classifier") }
func (ed *Editor) RequiresDist() []string { return ed.Metadata.GetAll("Requires-Dist") }

// ProjectURLs returns the label->URL mapping of Project-URL fields.
func (ed *Editor) ProjectURLs() map[string]string { return ed.Metadata.ProjectURLs() }

// GetMetadata returns the first value of an arbitrary METADATA field name,
// covering fields with no dedicated accessor (e.g. Obsoletes-Dist).
func (ed *Editor) GetMetadata(name string) (string, bool) { return ed.Metadata.Get(name) }

// SetMetadata sets a single-valued METADATA field.
func (ed *Editor) SetMetadata(name, value string) { ed.Metadata.Set(name, value) }

// SetName sets the distribution name. The dist-info directory and filename
// are renamed to match on Save.
func (ed *Editor) SetName(name string) { ed.Metadata.Set("Name", name) }

// SetVersion sets the distribution version. The dist-info directory and
// filename are renamed to match on Save.
func (ed *Editor) SetVersion(version string) { ed.Metadata.Set("Version", version) }

// SetSummary, SetAuthor, SetAuthorEmail, SetLicense, and SetRequiresPython
// set their respective single-valued METADATA fields.
func (ed *Editor) SetSummary(v string)        { ed.Metadata.Set("Summary", v) }
func (ed *Editor) SetAuthor(v string)         { ed.Metadata.Set("Author", v) }
func (ed *Editor) SetAuthorEmail(v string)    { ed.Metadata.Set("Author-Email", v) }
func (ed *Editor) SetLicense(v string)        { ed.Metadata.Set("License", v) }
func (ed *Editor) SetRequiresPython(v string) { ed.Metadata.Set("Requires-Python", v) }

// AddClassifier appends a Classifier value without disturbing existing
// ones.
func (ed *Editor) AddClassifier(v string) { ed.Metadata.Add("Classifier", v) }

// SetClassifiers replaces every Classifier value, at the position of the
// first existing occurrence.
func (ed *Editor) SetClassifiers(values []string) { ed.Metadata.SetAll("Classifier", values) }

// AddRequiresDist appends a Requires-Dist value without disturbing existing
// ones.
func (ed *Editor) AddRequiresDist(v string) { ed.Metadata.Add("Requires-Dist", v) }

// SetRequiresDist replaces every Requires-Dist value, at the position of
// the first existing occurrence.
func (ed *Editor) SetRequiresDist(values []string) { ed.Metadata.SetAll("Requires-Dist", values) }

// PythonTag, ABITag, and PlatformTag return the compressed component of the
// first tracked compatibility tag (wheels conventionally list one tag, or a
// cross-product sharing the same components being edited in lockstep).
func (ed *Editor) PythonTag() string {
	if len(ed.Wheel.Tags) == 0 {
		return ""
	}
	return ed.Wheel.Tags[0].Python
}

func (ed *Editor) ABITag() string {
	if len(ed.Wheel.Tags) == 0 {
		return ""
	}
	return ed.Wheel.Tags[0].ABI
}

func (ed *Editor) PlatformTag() string {
	if len(ed.Wheel.Tags) == 0 {
		return ""
	}
	return ed.Wheel.Tags[0].Platform
}

// SetPythonTag, SetABITag, and SetPlatformTag rewrite every tracked
// compatibility tag's respective component in parallel.
func (ed *Editor) SetPythonTag(v string)   { ed.Wheel.SetPythonTag(v) }
func (ed *Editor) SetABITag(v string)      { ed.Wheel.SetABITag(v) }
func (ed *Editor) SetPlatformTag(v string) { ed.Wheel.SetPlatformTag(v) }

// Filename derives the canonical wheel filename for the Editor's current
// state.
func (ed *Editor) Filename() (string, error) {
	if len(ed.Wheel.Tags) == 0 {
		return "", newError(KindMalformedWheel, ed.srcPath, fmt.Errorf("no compatibility tags"))
	}
	// A wheel filename only encodes a single tag triple; when Tags holds a
	// cross-product expansion, the filename uses the first.
	tag := pep425.Tag{Python: ed.PythonTag(), ABI: ed.ABITag(), Platform: ed.PlatformTag()}
	data := FileNameData{Distribution: ed.Name(), Version: ed.Version(), Tag: tag}
	name, err := GenerateFilename(data)
	if err != nil {
		return "", newError(KindMalformedWheel, ed.srcPath, err)
	}
	return name, nil
}

// SetRPath rewrites the DT_RPATH/DT_RUNPATH dynamic-section string of every
// ELF member whose archive-relative path matches glob (shell-style, per
// path.Match), to rpath. It returns the number of members that matched,
// were ELF binaries with at least one such entry, and were successfully
// rewritten. A match whose replacement string doesn't fit in the existing
// one's slot aborts the operation (leaving all prior edits made by this
// call in place) and returns a *Error with Kind KindRPathTooLong.
func (ed *Editor) SetRPath(glob, rpath string) (int, error) {
	count := 0
	for _, e := range ed.entries {
		if e.IsDir() || !e.IsRegularFile() {
			continue
		}
		matched, err := path.Match(glob, e.Name)
		if err != nil {
			return count, newError(KindMalformedWheel, glob, fmt.Errorf("invalid glob: %w", err))
		}
		if !matched {
			continue
		}

		content, err := e.ReadAll()
		if err != nil {
			return count, wrapZipError(e.Name, err)
		}

		result, err := elfpatch.Patch(content, rpath)
		if err != nil {
			perr, ok := err.(*elfpatch.Error)
			if ok && (perr.Kind == elfpatch.KindNotELF || perr.Kind == elfpatch.KindNoDynamicSection) {
				continue
			}
			if ok && perr.Kind == elfpatch.KindRPathTooLong {
				return count, newError(KindRPathTooLong, e.Name, err)
			}
			return count, newError(KindElfParse, e.Name, err)
		}

		if result.SetRPath || result.SetRunpath {
			e.SetContent(content)
			count++
		}
	}
	return count, nil
}

// Save re-serializes the dist-info member trio and writes the resulting
// archive to dstPath (or back to the wheel's original path, if dstPath is
// ""), via a sibling temporary file renamed into place so that a failure
// during Save never corrupts or removes the original. If the distribution
// name or version changed, the dist-info directory (and .data directory,
// if any) are renamed to match. RECORD is always rebuilt from scratch from
// the final set of entries and their final names, rather than patched in
// place: every non-directory member (other than RECORD itself and its
// detached signatures, RECORD.jws/RECORD.p7s, which PEP 427 exempts) gets a
// freshly computed sha256 hash and size, so a rename never leaves a stale
// path behind and a corrupt source hash never survives a save.
func (ed *Editor) Save(dstPath string) error {
	if dstPath == "" {
		dstPath = ed.srcPath
	}

	newDistInfoDir := DistInfoDirName(ed.Name(), ed.Version())
	if newDistInfoDir != ed.distInfoDir {
		renameDistInfoDir(ed.entries, ed.distInfoDir, newDistInfoDir)
		ed.distInfoDir = newDistInfoDir
	}

	ed.metadataEntry.SetContent(ed.Metadata.Marshal())
	ed.wheelEntry.SetContent(ed.Wheel.Marshal())

	jwsName := path.Join(ed.distInfoDir, "RECORD.jws")
	p7sName := path.Join(ed.distInfoDir, "RECORD.p7s")

	rec := &record.Record{}
	for _, e := range ed.entries {
		if e == ed.recordEntry || e.IsDir() || e.Name == jwsName || e.Name == p7sName {
			continue
		}
		content, err := e.ReadAll()
		if err != nil {
			return wrapZipError(e.Name, err)
		}
		rec.Set(record.Row{
			Path: e.Name,
			Hash: record.HashContent(content),
			Size: record.SizeOf(len(content)),
		})
	}
	rec.Set(record.Row{Path: ed.recordEntry.Name})
	sortRecordRows(rec, ed.distInfoDir)
	ed.record = rec

	recordBytes, err := ed.record.Marshal()
	if err != nil {
		return newError(KindRecordParse, ed.recordEntry.Name, err)
	}
	ed.recordEntry.SetContent(recordBytes)

	tmp, err := os.CreateTemp(path.Dir(dstPath), ".wheeledit-*.whl.tmp")
	if err != nil {
		return newError(KindIO, dstPath, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup; no-op once renamed away

	zw := zipedit.NewWriter(tmp)
	if err := zw.WriteAll(ed.entries); err != nil {
		tmp.Close()
		return newError(KindIO, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return newError(KindIO, tmpPath, err)
	}

	if err := os.Rename(tmpPath, dstPath); err != nil {
		return newError(KindIO, dstPath, err)
	}

	return nil
}

// sortRecordRows orders RECORD's rows with the dist-info directory's own
// members (METADATA, RECORD, WHEEL, ...) last, matching the conventional
// layout bdist_wheel produces, with RECORD itself always the final row.
func sortRecordRows(r *record.Record, distInfoDir string) {
	prefix := distInfoDir + "/"
	sort.SliceStable(r.Rows, func(i, j int) bool {
		iDist := strings.HasPrefix(r.Rows[i].Path, prefix)
		jDist := strings.HasPrefix(r.Rows[j].Path, prefix)
		if iDist != jDist {
			return !iDist
		}
		return false
	})
}
