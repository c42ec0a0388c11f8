// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"text/tabwriter"

	"github.com/davecgh/go-spew/spew"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/datawire/wheeledit/pkg/zipedit"
)

var spewConfig = spew.ConfigState{ //nolint:exhaustivestruct
	Indent:                  "  ",
	DisableCapacities:       true,
	DisablePointerAddresses: true,
	SortKeys:                true,
}

// openZip opens filename and parses its central directory, returning the
// entries and a closer the caller must invoke once done reading content.
func openZip(filename string) ([]*zipedit.Entry, func() error, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	zr, err := zipedit.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return zr.Entries, f.Close, nil
}

// DumpEntryListing renders a one-line-per-member table (mode bits implied
// by ExternalAttrs, size, CRC32, name), the ZIP-domain equivalent of
// dumping a tar listing.
func DumpEntryListing(entries []*zipedit.Entry) (string, error) {
	ret := new(strings.Builder)
	table := tabwriter.NewWriter(ret, 0, 1, 1, ' ', 0)
	for _, e := range entries {
		if _, err := fmt.Fprintln(table, strings.Join([]string{
			"",
			fmt.Sprintf("method=%d", e.Method),
			fmt.Sprintf("crc32=%08x", e.CRC32),
			fmt.Sprintf("% 10d", e.UncompressedSize64),
			e.Name,
		}, "\t")); err != nil {
			return "", err
		}
	}
	if err := table.Flush(); err != nil {
		return "", err
	}
	return ret.String(), nil
}

// DumpEntryFull renders every entry's header and decompressed content via
// go-spew, for the comprehensive (slow, but maximally diagnostic) fallback
// comparison.
func DumpEntryFull(entries []*zipedit.Entry) (string, error) {
	ret := new(strings.Builder)
	for _, e := range entries {
		if _, err := fmt.Fprintf(ret, "header = %s", spewConfig.Sdump(e.FileHeader)); err != nil {
			return "", err
		}
		content, err := e.ReadAll()
		if err != nil {
			return "", err
		}
		if _, err := fmt.Fprintf(ret, "content =%s", spewConfig.Sdump(content)); err != nil {
			return "", err
		}
	}
	return ret.String(), nil
}

// AssertEqualWheels compares two wheel (or any ZIP) files on disk: first
// their listings (for a fast, readable failure), then their full decoded
// content if the listings matched. Set WHEELEDIT_TEST_KEEPFILES=1 to skip
// cleanup of the compared files for manual inspection.
func AssertEqualWheels(t *testing.T, expPath, actPath string) bool {
	t.Helper()

	if keep, _ := strconv.ParseBool(os.Getenv("WHEELEDIT_TEST_KEEPFILES")); keep {
		t.Logf("comparing %s vs %s", expPath, actPath)
	}

	expEntries, expClose, err := openZip(expPath)
	if err != nil {
		t.Errorf("error opening expected wheel %q: %v", expPath, err)
		return false
	}
	defer closeOrError(t, expClose)

	actEntries, actClose, err := openZip(actPath)
	if err != nil {
		t.Errorf("error opening actual wheel %q: %v", actPath, err)
		return false
	}
	defer closeOrError(t, actClose)

	expStr, err := DumpEntryListing(expEntries)
	if err != nil {
		t.Errorf("error dumping expected wheel listing: %v", err)
		return false
	}
	actStr, err := DumpEntryListing(actEntries)
	if err != nil {
		t.Errorf("error dumping actual wheel listing: %v", err)
		return false
	}
	if expStr != actStr {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{ //nolint:exhaustivestruct
			A:        difflib.SplitLines(expStr),
			B:        difflib.SplitLines(actStr),
			FromFile: "Expected",
			ToFile:   "Actual",
			Context:  1,
		})
		t.Errorf("Listing diff:\n%s", diff)
		return false
	}

	expStr, err = DumpEntryFull(expEntries)
	if err != nil {
		t.Errorf("error dumping expected wheel: %v", err)
		return false
	}
	actStr, err = DumpEntryFull(actEntries)
	if err != nil {
		t.Errorf("error dumping actual wheel: %v", err)
		return false
	}
	if expStr != actStr {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{ //nolint:exhaustivestruct
			A:        difflib.SplitLines(expStr),
			B:        difflib.SplitLines(actStr),
			FromFile: "Expected",
			ToFile:   "Actual",
			Context:  10,
		})
		t.Errorf("Full diff:\n%s", diff)
		return false
	}

	return true
}

func closeOrError(t *testing.T, closeFn func() error) {
	t.Helper()
	if err := closeFn(); err != nil {
		t.Errorf("error closing wheel file: %v", err)
	}
}
