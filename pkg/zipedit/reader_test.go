// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package zipedit_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/datawire/wheeledit/pkg/zipedit"
)

func TestNewReaderRejectsNonZip(t *testing.T) {
	data := []byte("this is not a zip file, just some bytes\n")
	_, err := zipedit.NewReader(bytes.NewReader(data), int64(len(data)))
	var zerr *zipedit.Error
	assert.True(t, errors.As(err, &zerr))
	if zerr != nil {
		assert.Equal(t, zipedit.KindNotZip, zerr.Kind)
	}
}

func TestNewReaderRejectsTruncated(t *testing.T) {
	data := buildZip(t, map[string]string{"a.txt": "hello"})
	truncated := data[:len(data)-4]
	_, err := zipedit.NewReader(bytes.NewReader(truncated), int64(len(truncated)))
	assert.Error(t, err)
}
