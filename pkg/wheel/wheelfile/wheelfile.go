// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package wheelfile reads and writes a wheel's dist-info/WHEEL file: a
// small key/value document describing the build itself (as opposed to
// METADATA, which describes the package).
package wheelfile

import (
	"strings"

	"github.com/datawire/wheeledit/pkg/python/pep425"
	"github.com/datawire/wheeledit/pkg/wheel/metadata"
)

// Info is the decoded contents of a WHEEL file.
type Info struct {
	WheelVersion   string
	Generator      string
	RootIsPurelib  bool
	Tags           []pep425.Tag
	Build          string
	raw            *metadata.Metadata
}

// Parse decodes a WHEEL file's bytes, expanding each (possibly compressed)
// Tag line into its component fields.
func Parse(data []byte) (*Info, error) {
	md, err := metadata.Parse(data)
	if err != nil {
		return nil, err
	}

	info := &Info{raw: md}
	info.WheelVersion, _ = md.Get("Wheel-Version")
	info.Generator, _ = md.Get("Generator")
	purelib, _ := md.Get("Root-Is-Purelib")
	info.RootIsPurelib = strings.EqualFold(strings.TrimSpace(purelib), "true")
	info.Build, _ = md.Get("Build")

	for _, raw := range md.GetAll("Tag") {
		parts := strings.SplitN(raw, "-", 3)
		if len(parts) != 3 {
			continue
		}
		info.Tags = append(info.Tags, pep425.Tag{Python: parts[0], ABI: parts[1], Platform: parts[2]})
	}

	return info, nil
}

// TagStrings renders the Tag fields back to their wire form, one compressed
// "python-abi-platform" string per entry in info.Tags.
func (info *Info) TagStrings() []string {
	out := make([]string, len(info.Tags))
	for i, t := range info.Tags {
		out[i] = t.String()
	}
	return out
}

// SetPythonTag rewrites every tracked Tag's Python component in place,
// updating all tag lines in parallel the way spec.md requires: a single
// edit to the python tag touches every Tag line's python-component, not
// just the first.
func (info *Info) SetPythonTag(python string) {
	for i := range info.Tags {
		info.Tags[i] = info.Tags[i].WithPython(python)
	}
}

// SetABITag rewrites every tracked Tag's ABI component in place.
func (info *Info) SetABITag(abi string) {
	for i := range info.Tags {
		info.Tags[i] = info.Tags[i].WithABI(abi)
	}
}

// SetPlatformTag rewrites every tracked Tag's Platform component in place.
func (info *Info) SetPlatformTag(platform string) {
	for i := range info.Tags {
		info.Tags[i] = info.Tags[i].WithPlatform(platform)
	}
}

// Marshal renders Info back into a WHEEL file's bytes. It writes the typed
// fields back into raw (the Metadata Parse produced) in place with
// Set/SetAll, rather than building a fresh Metadata from scratch, so that
// field order and any key this package doesn't model (a vendor extension,
// say) round-trip exactly as parsed.
func (info *Info) Marshal() []byte {
	md := info.raw
	if md == nil {
		md = &metadata.Metadata{}
	}
	md.Set("Wheel-Version", info.WheelVersion)
	md.Set("Generator", info.Generator)
	if info.RootIsPurelib {
		md.Set("Root-Is-Purelib", "true")
	} else {
		md.Set("Root-Is-Purelib", "false")
	}
	md.SetAll("Tag", info.TagStrings())
	if info.Build != "" {
		md.Set("Build", info.Build)
	} else {
		md.Delete("Build")
	}
	return md.Marshal()
}
