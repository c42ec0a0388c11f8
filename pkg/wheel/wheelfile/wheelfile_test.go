// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package wheelfile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/wheeledit/pkg/python/pep425"
	"github.com/datawire/wheeledit/pkg/wheel/wheelfile"
)

const sample = `Wheel-Version: 1.0
Generator: bdist_wheel (0.37.0)
Root-Is-Purelib: true
Tag: py2-none-any
Tag: py3-none-any
`

func TestParseExpandsTags(t *testing.T) {
	info, err := wheelfile.Parse([]byte(sample))
	require.NoError(t, err)
	assert.True(t, info.RootIsPurelib)
	assert.Equal(t, []pep425.Tag{
		{Python: "py2", ABI: "none", Platform: "any"},
		{Python: "py3", ABI: "none", Platform: "any"},
	}, info.Tags)
}

func TestSetPlatformTagUpdatesEveryTagLine(t *testing.T) {
	info, err := wheelfile.Parse([]byte(sample))
	require.NoError(t, err)

	info.SetPlatformTag("manylinux2014_x86_64")
	for _, tag := range info.Tags {
		assert.Equal(t, "manylinux2014_x86_64", tag.Platform)
	}
	assert.Equal(t, []string{"py2-none-manylinux2014_x86_64", "py3-none-manylinux2014_x86_64"}, info.TagStrings())
}

func TestMarshalRoundTrips(t *testing.T) {
	info, err := wheelfile.Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, sample, string(info.Marshal()))
}
