// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package record_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/wheeledit/pkg/wheel/record"
)

const sample = `pkg/__init__.py,sha256=47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU,0
pkg/mod.py,sha256=EhsDXqRHKDHC2hb4ha8AmO1N3e3MfqiWvJbYCSgGbxs,26
pkg-1.0.dist-info/RECORD,,
`

func TestParseAndMarshalRoundTrips(t *testing.T) {
	rec, err := record.Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, rec.Rows, 3)
	assert.Equal(t, "pkg/__init__.py", rec.Rows[0].Path)
	assert.Equal(t, "", rec.Rows[2].Hash)

	out, err := rec.Marshal()
	require.NoError(t, err)
	assert.Equal(t, sample, string(out))
}

func TestRenameUpdatesMatchingRow(t *testing.T) {
	rec, err := record.Parse(strings.NewReader(sample))
	require.NoError(t, err)

	rec.Rename("pkg-1.0.dist-info/RECORD", "pkg-2.0.dist-info/RECORD")
	row, ok := rec.Get("pkg-2.0.dist-info/RECORD")
	require.True(t, ok)
	assert.Equal(t, "", row.Hash)
}

func TestHashContentMatchesKnownDigest(t *testing.T) {
	assert.Equal(t, "sha256=47DEQpj8HBSa-_TImW-5JCeuQeRkm5NMpJWZG3hSuFU", record.HashContent(nil))
}

type fakeContents map[string][]byte

func (f fakeContents) ReadMember(p string) ([]byte, error) { return f[p], nil }

func TestVerifyReportsMismatchesAndMissingMembers(t *testing.T) {
	rec := &record.Record{Rows: []record.Row{
		{Path: "pkg/mod.py", Hash: "sha256=deadbeef", Size: "3"},
		{Path: "pkg-1.0.dist-info/RECORD", Hash: "", Size: ""},
	}}
	members := []string{"pkg/mod.py", "pkg/extra.py", "pkg-1.0.dist-info/RECORD"}
	contents := fakeContents{"pkg/mod.py": []byte("abc")}

	err := record.Verify(rec, "pkg-1.0.dist-info", members, contents)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
	assert.Contains(t, err.Error(), "files not mentioned in RECORD")
}

func TestVerifyPassesOnConsistentRecord(t *testing.T) {
	content := []byte("abc")
	rec := &record.Record{Rows: []record.Row{
		{Path: "pkg/mod.py", Hash: record.HashContent(content), Size: record.SizeOf(len(content))},
		{Path: "pkg-1.0.dist-info/RECORD", Hash: "", Size: ""},
	}}
	members := []string{"pkg/mod.py", "pkg-1.0.dist-info/RECORD"}
	contents := fakeContents{"pkg/mod.py": content}

	assert.NoError(t, record.Verify(rec, "pkg-1.0.dist-info", members, contents))
}
