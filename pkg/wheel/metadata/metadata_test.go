// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/wheeledit/pkg/wheel/metadata"
)

const sample = `Metadata-Version: 2.1
Name: example
Version: 1.0.0
Summary: An example package
Classifier: Programming Language :: Python :: 3
Classifier: License :: OSI Approved :: MIT License
Description-Content-Type: text/markdown

This is the long description.
It has two lines.
`

func TestParsePreservesFieldOrderAndMultiValues(t *testing.T) {
	md, err := metadata.Parse([]byte(sample))
	require.NoError(t, err)

	assert.Len(t, md.GetAll("Classifier"), 2)
	name, ok := md.Get("name")
	require.True(t, ok)
	assert.Equal(t, "example", name)
	assert.Contains(t, md.Body, "long description")
}

func TestSetReplacesFirstOccurrenceInPlace(t *testing.T) {
	md, err := metadata.Parse([]byte(sample))
	require.NoError(t, err)

	md.Set("Version", "2.0.0")
	v, _ := md.Get("Version")
	assert.Equal(t, "2.0.0", v)
	assert.Equal(t, "Version", md.Fields[2].Name)
}

func TestSetAllReplacesMultiValuedFieldAtOriginalPosition(t *testing.T) {
	md, err := metadata.Parse([]byte(sample))
	require.NoError(t, err)

	firstClassifierIdx := -1
	for i, f := range md.Fields {
		if f.Name == "Classifier" {
			firstClassifierIdx = i
			break
		}
	}
	require.NotEqual(t, -1, firstClassifierIdx)

	md.SetAll("Classifier", []string{"Programming Language :: Python :: 3.11"})
	assert.Equal(t, []string{"Programming Language :: Python :: 3.11"}, md.GetAll("Classifier"))
	assert.Equal(t, "Classifier", md.Fields[firstClassifierIdx].Name)
}

func TestMarshalRoundTrips(t *testing.T) {
	md, err := metadata.Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, sample, string(md.Marshal()))
}

func TestAddAppendsNewOccurrence(t *testing.T) {
	md, err := metadata.Parse([]byte(sample))
	require.NoError(t, err)
	md.Add("Requires-Dist", "requests>=2")
	assert.Equal(t, []string{"requests>=2"}, md.GetAll("Requires-Dist"))
}
