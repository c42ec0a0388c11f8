// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package wheel

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/datawire/wheeledit/pkg/python/pep425"
)

// FileNameData is the decoded form of a wheel filename:
// {distribution}-{version}(-{build tag})?-{python tag}-{abi tag}-{platform tag}.whl
type FileNameData struct {
	Distribution string
	Version      string
	BuildTag     *BuildTag
	Tag          pep425.Tag
}

// BuildTag is the optional numeric(+suffix) build tag component of a wheel
// filename, used to disambiguate multiple wheels built from the same
// source at the same version.
type BuildTag struct {
	Int int
	Str string
}

func (t BuildTag) String() string {
	return fmt.Sprintf("%d%s", t.Int, t.Str)
}

var reFilename = regexp.MustCompile(regexp.MustCompile(`\s+`).ReplaceAllString(`
	^(?P<distribution>[^-]+)
	-(?P<version>[^-]+)
	(?:-(?P<build_n>[0-9]+)(?P<build_l>[^-0-9][^-]*)?)?
	-(?P<python>[^-]+)
	-(?P<abi>[^-]+)
	-(?P<platform>[^-]+)
	\.whl$`, ``))

// ParseFilename decodes a wheel filename into its components.
func ParseFilename(filename string) (*FileNameData, error) {
	match := reFilename.FindStringSubmatch(filename)
	if match == nil {
		return nil, fmt.Errorf("wheel: invalid wheel filename: %q", filename)
	}

	var ret FileNameData
	ret.Distribution = match[reFilename.SubexpIndex("distribution")]
	ret.Version = match[reFilename.SubexpIndex("version")]

	if buildN := match[reFilename.SubexpIndex("build_n")]; buildN != "" {
		n, _ := strconv.Atoi(buildN)
		ret.BuildTag = &BuildTag{Int: n, Str: match[reFilename.SubexpIndex("build_l")]}
	}

	ret.Tag = pep425.Tag{
		Python:   match[reFilename.SubexpIndex("python")],
		ABI:      match[reFilename.SubexpIndex("abi")],
		Platform: match[reFilename.SubexpIndex("platform")],
	}

	return &ret, nil
}

// underscoreNormalizeRE collapses runs of "-_." into a single separator, per
// PEP 503 (and, for dist-info directory and wheel-filename purposes,
// PEP 427's escaping rule that uses "_" instead of PEP 503's "-").
var underscoreNormalizeRE = regexp.MustCompile(`[-_.]+`)

// normalizeDashes replaces each run of -_. characters in name with sep,
// shared by both PEP 503 name normalization (sep="-", then lowercased) and
// dist-info/wheel-filename escaping (sep="_", case preserved).
func normalizeDashes(name, sep string) string {
	return underscoreNormalizeRE.ReplaceAllLiteralString(name, sep)
}

// NormalizePEP503 normalizes a project name per PEP 503: lowercase, with
// every run of -, _, or . collapsed to a single -.
func NormalizePEP503(name string) string {
	return strings.ToLower(normalizeDashes(name, "-"))
}

// NormalizeDistInfo escapes a project name for use in a dist-info directory
// name or a wheel filename: every run of -, _, or . collapsed to a single
// _, case preserved.
func NormalizeDistInfo(name string) string {
	return normalizeDashes(name, "_")
}

// GenerateFilename renders data back into a wheel filename, validating that
// no component accidentally introduces an extra "-" that would make the
// filename ambiguous to parse back. The distribution component is
// PEP-503-normalized (lowercased, then underscore-joined rather than
// dash-joined, since a literal "-" there would be indistinguishable from
// the filename's own field separator).
func GenerateFilename(data FileNameData) (string, error) {
	var ret strings.Builder
	ret.WriteString(strings.ToLower(NormalizeDistInfo(data.Distribution)))

	if strings.Contains(data.Version, "-") {
		return "", fmt.Errorf("wheel: invalid version: contains dash: %q", data.Version)
	}
	ret.WriteString("-")
	ret.WriteString(data.Version)

	if data.BuildTag != nil {
		build := data.BuildTag.String()
		if strings.Contains(build, "-") {
			return "", fmt.Errorf("wheel: invalid build tag: contains dash: %q", build)
		}
		ret.WriteString("-")
		ret.WriteString(build)
	}

	compat := data.Tag.String()
	if strings.Count(compat, "-") != 2 {
		return "", fmt.Errorf("wheel: invalid compatibility tag: %q", compat)
	}
	ret.WriteString("-")
	ret.WriteString(compat)
	ret.WriteString(".whl")

	return ret.String(), nil
}

// DistInfoDirName returns the "{distribution}-{version}.dist-info" name a
// wheel's RECORD/METADATA/WHEEL files live under, per PEP 427.
func DistInfoDirName(distribution, version string) string {
	return NormalizeDistInfo(distribution) + "-" + version + ".dist-info"
}
