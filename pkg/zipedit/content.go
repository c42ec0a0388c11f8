// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package zipedit

import (
	"compress/flate"
	"fmt"
	"io"
)

// ReadAll returns e's uncompressed content: e.Content directly if e.Dirty,
// otherwise e.Raw inflated (or returned as-is for Store) according to
// e.Method.
func (e *Entry) ReadAll() ([]byte, error) {
	if e.Dirty {
		return e.Content, nil
	}
	if e.IsDir() {
		return nil, nil
	}

	section := io.NewSectionReader(e.Raw.Source, e.Raw.Offset, e.Raw.Size)

	switch e.Method {
	case Store:
		buf := make([]byte, e.Raw.Size)
		if _, err := io.ReadFull(section, buf); err != nil {
			return nil, newError(KindIO, e.Name, err)
		}
		return buf, nil
	case Deflate:
		fr := flate.NewReader(section)
		defer fr.Close()
		buf, err := io.ReadAll(fr)
		if err != nil {
			return nil, newError(KindIO, e.Name, err)
		}
		return buf, nil
	default:
		return nil, newError(KindUnsupportedMethod, fmt.Sprintf("%s: method %d", e.Name, e.Method), nil)
	}
}

// SetContent marks e as Dirty and stores new uncompressed content to be
// freshly deflate-compressed the next time a Writer serializes it.
func (e *Entry) SetContent(content []byte) {
	e.Dirty = true
	e.Content = content
}
