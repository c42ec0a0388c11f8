// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package record reads and writes a wheel's dist-info/RECORD file: a CSV
// manifest of (path, hash, size) rows covering every other member of the
// archive.
package record

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"hash"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/datawire/dlib/derror"
)

// strongHashes lists the hash algorithms a wheel installer must accept in
// RECORD; md5 and sha1 are explicitly excluded by PEP 427 because signed
// wheels rely on RECORD's hashes being strong.
//
//nolint:gochecknoglobals // Would be 'const'.
var strongHashes = map[string]func() hash.Hash{
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

// Row is one line of a RECORD file: a path relative to the archive root, an
// optional "algo=digest" hash (urlsafe-base64, no padding), and an optional
// size in bytes. The RECORD file's own row, and directory entries, have
// empty Hash and Size.
type Row struct {
	Path string
	Hash string
	Size string
}

// Record is an ordered list of Rows, preserving the file order RECORD was
// written in.
type Record struct {
	Rows []Row
}

// Parse reads a RECORD file's CSV body.
func Parse(r io.Reader) (*Record, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("wheel/record: parse: %w", err)
	}
	rec := &Record{Rows: make([]Row, 0, len(rows))}
	for i, row := range rows {
		if len(row) != 3 {
			return nil, fmt.Errorf("wheel/record: row %d: does not have 3 columns: %q", i, row)
		}
		rec.Rows = append(rec.Rows, Row{Path: row[0], Hash: row[1], Size: row[2]})
	}
	return rec, nil
}

// Marshal emits the RECORD file's CSV body, quoting a field only when it
// contains a comma, quote, or newline, exactly as csv.Writer produces by
// default (real wheel tooling, including pip, writes RECORD with LF line
// endings, not CRLF).
func (r *Record) Marshal() ([]byte, error) {
	buf := new(strings.Builder)
	w := csv.NewWriter(buf)
	for _, row := range r.Rows {
		if err := w.Write([]string{row.Path, row.Hash, row.Size}); err != nil {
			return nil, fmt.Errorf("wheel/record: marshal: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("wheel/record: marshal: %w", err)
	}
	return []byte(buf.String()), nil
}

// Get returns the row for path, and whether it was present.
func (r *Record) Get(p string) (Row, bool) {
	for _, row := range r.Rows {
		if row.Path == p {
			return row, true
		}
	}
	return Row{}, false
}

// Set replaces the row for path (matched by Path), appending a new row if
// none existed yet.
func (r *Record) Set(row Row) {
	for i := range r.Rows {
		if r.Rows[i].Path == row.Path {
			r.Rows[i] = row
			return
		}
	}
	r.Rows = append(r.Rows, row)
}

// Rename updates the Path of the row matching oldPath, if any, leaving its
// hash and size untouched. Editor.Save does not call it: Save rebuilds
// RECORD from the final entry names instead.
func (r *Record) Rename(oldPath, newPath string) {
	for i := range r.Rows {
		if r.Rows[i].Path == oldPath {
			r.Rows[i].Path = newPath
			return
		}
	}
}

// HashContent computes a RECORD-style "algo=digest" hash string for
// uncompressed content, using sha256 (the algorithm this package writes for
// any row it generates or regenerates).
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256=" + base64.RawURLEncoding.EncodeToString(sum[:])
}

// SizeOf formats a content length the way RECORD rows do.
func SizeOf(n int) string {
	return strconv.Itoa(n)
}

// ContentProvider supplies the uncompressed bytes of an archive member by
// its archive-relative path, used by Verify to recompute hashes.
type ContentProvider interface {
	ReadMember(path string) ([]byte, error)
}

// Verify checks every row in r against the actual content of the archive
// (via contents), and confirms that every archive member other than
// directories, RECORD itself, and its detached signatures (RECORD.jws,
// RECORD.p7s) is mentioned. It aggregates every violation it finds into a
// single derror.MultiError rather than stopping at the first one, exactly
// as the teacher's integrityCheck does.
func Verify(r *Record, distInfoDir string, members []string, contents ContentProvider) error {
	recordName := path.Join(distInfoDir, "RECORD")
	jwsName := path.Join(distInfoDir, "RECORD.jws")
	p7sName := path.Join(distInfoDir, "RECORD.p7s")

	todo := make(map[string]struct{}, len(members))
	for _, name := range members {
		switch {
		case name == recordName || name == jwsName || name == p7sName:
			continue
		case strings.HasSuffix(name, "/"):
			continue
		default:
			todo[name] = struct{}{}
		}
	}

	var errs derror.MultiError
	for i, row := range r.Rows {
		name := path.Clean(row.Path)
		delete(todo, name)

		if row.Hash == "" || row.Size == "" {
			if name != recordName && !strings.HasSuffix(row.Path, "/") {
				errs = append(errs, fmt.Errorf("RECORD row %d: missing hash or size: %q", i, row))
			}
			continue
		}

		algo := strings.SplitN(row.Hash, "=", 2)[0]
		newHasher, ok := strongHashes[algo]
		if !ok {
			errs = append(errs, fmt.Errorf("RECORD row %d: file %q: unsupported hash algorithm %q", i, name, algo))
			continue
		}

		data, err := contents.ReadMember(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("RECORD row %d: file %q: %w", i, name, err))
			continue
		}

		h := newHasher()
		h.Write(data)
		actHash := algo + "=" + base64.RawURLEncoding.EncodeToString(h.Sum(nil))
		if actHash != row.Hash {
			errs = append(errs, fmt.Errorf("RECORD row %d: file %q: checksum mismatch: RECORD=%q actual=%q",
				i, name, row.Hash, actHash))
		}
		if strconv.Itoa(len(data)) != row.Size {
			errs = append(errs, fmt.Errorf("RECORD row %d: file %q: size mismatch: RECORD=%s actual=%d",
				i, name, row.Size, len(data)))
		}
	}

	if len(todo) > 0 {
		names := make([]string, 0, len(todo))
		for name := range todo {
			names = append(names, name)
		}
		sort.Strings(names)
		errs = append(errs, fmt.Errorf("files not mentioned in RECORD: %q", names))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
