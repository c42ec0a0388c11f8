// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package metadata reads and writes a wheel's dist-info/METADATA file: the
// RFC-822-style key/value format also used for sdist PKG-INFO files and
// defined by the various Core Metadata PEPs (241, 345, 566, 643).
//
// Unlike net/textproto.MIMEHeader (which the teacher uses for the simpler,
// single-valued WHEEL file), Metadata preserves field order and exact
// original casing, because METADATA files may carry repeated fields
// (Classifier, Requires-Dist, Project-URL, ...) whose relative order a
// faithful editor must not scramble.
package metadata

import (
	"fmt"
	"strings"
)

// Field is one key/value pair as it appeared (or will appear) in a METADATA
// file. A multi-valued field name (Classifier, Requires-Dist, ...) appears
// as one Field per occurrence.
type Field struct {
	Name  string
	Value string
}

// Metadata is an ordered, order-preserving multimap of METADATA fields, plus
// the optional free-form description body that may follow a blank line.
type Metadata struct {
	Fields []Field
	Body   string
	// UseCRLF records which line ending convention the source file used,
	// so Marshal can reproduce it.
	UseCRLF bool
}

// canonicalName lowercases a field name for case-insensitive comparison,
// matching RFC 822 header-name semantics (and net/textproto.CanonicalMIMEHeaderKey's
// treatment of case, minus the hyphen-capitalization convention that doesn't
// apply to METADATA's field names).
func canonicalName(name string) string {
	return strings.ToLower(name)
}

// Parse reads a METADATA (or WHEEL, or PKG-INFO) file's RFC-822-style
// header block, with unfolding of continuation lines (lines beginning with
// a space or tab, which are appended to the previous field's value), and an
// optional body after the first blank line.
func Parse(data []byte) (*Metadata, error) {
	useCRLF := strings.Contains(string(data), "\r\n")

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(text, "\n")

	md := &Metadata{UseCRLF: useCRLF}

	i := 0
	for ; i < len(lines); i++ {
		line := lines[i]
		if line == "" {
			i++
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(md.Fields) == 0 {
				return nil, fmt.Errorf("wheel/metadata: line %d: continuation line with no preceding field", i+1)
			}
			last := &md.Fields[len(md.Fields)-1]
			last.Value += "\n" + strings.TrimLeft(line, " \t")
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, fmt.Errorf("wheel/metadata: line %d: missing ':' in field %q", i+1, line)
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimPrefix(line[colon+1:], " ")
		md.Fields = append(md.Fields, Field{Name: name, Value: value})
	}

	if i < len(lines) {
		md.Body = strings.Join(lines[i:], "\n")
		// A file with no body content beyond the blank-line separator
		// shouldn't round-trip as a phantom one-line body.
		if strings.TrimRight(md.Body, "\n") == "" {
			md.Body = ""
		}
	}

	return md, nil
}

// Get returns the first value for name (case-insensitive), and whether it
// was present.
func (md *Metadata) Get(name string) (string, bool) {
	target := canonicalName(name)
	for _, f := range md.Fields {
		if canonicalName(f.Name) == target {
			return f.Value, true
		}
	}
	return "", false
}

// GetAll returns every value for name, in file order.
func (md *Metadata) GetAll(name string) []string {
	target := canonicalName(name)
	var out []string
	for _, f := range md.Fields {
		if canonicalName(f.Name) == target {
			out = append(out, f.Value)
		}
	}
	return out
}

// Set replaces the first occurrence of name with value, removing any
// further occurrences, or appends a new field at the end if name was not
// present. The canonical casing of name as given by the caller is used.
func (md *Metadata) Set(name, value string) {
	target := canonicalName(name)
	found := false
	out := md.Fields[:0]
	for _, f := range md.Fields {
		if canonicalName(f.Name) == target {
			if !found {
				out = append(out, Field{Name: name, Value: value})
				found = true
			}
			continue
		}
		out = append(out, f)
	}
	md.Fields = out
	if !found {
		md.Fields = append(md.Fields, Field{Name: name, Value: value})
	}
}

// SetAll replaces every occurrence of name with one Field per value, in the
// position of the first existing occurrence (or at the end if name was not
// present).
func (md *Metadata) SetAll(name string, values []string) {
	target := canonicalName(name)
	insertAt := -1
	out := md.Fields[:0]
	for _, f := range md.Fields {
		if canonicalName(f.Name) == target {
			if insertAt == -1 {
				insertAt = len(out)
			}
			continue
		}
		out = append(out, f)
	}
	md.Fields = out
	newFields := make([]Field, len(values))
	for i, v := range values {
		newFields[i] = Field{Name: name, Value: v}
	}
	if insertAt == -1 {
		md.Fields = append(md.Fields, newFields...)
		return
	}
	combined := make([]Field, 0, len(md.Fields)+len(newFields))
	combined = append(combined, md.Fields[:insertAt]...)
	combined = append(combined, newFields...)
	combined = append(combined, md.Fields[insertAt:]...)
	md.Fields = combined
}

// Add appends a new occurrence of name at the end, without disturbing any
// existing occurrences. Used for multi-valued fields like Classifier and
// Requires-Dist when adding one more value.
func (md *Metadata) Add(name, value string) {
	md.Fields = append(md.Fields, Field{Name: name, Value: value})
}

// Delete removes every occurrence of name.
func (md *Metadata) Delete(name string) {
	target := canonicalName(name)
	out := md.Fields[:0]
	for _, f := range md.Fields {
		if canonicalName(f.Name) != target {
			out = append(out, f)
		}
	}
	md.Fields = out
}

// ProjectURLs parses the Project-URL fields (each formatted "Label, URL")
// into a label->URL map, per PEP 753.
func (md *Metadata) ProjectURLs() map[string]string {
	out := make(map[string]string)
	for _, v := range md.GetAll("Project-URL") {
		parts := strings.SplitN(v, ",", 2)
		if len(parts) != 2 {
			continue
		}
		out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return out
}

// Marshal renders the Metadata back into METADATA file bytes: one "Name:
// value" line per field (continuation lines indented with a single space
// for multi-line values), a blank line, and the body if any.
func (md *Metadata) Marshal() []byte {
	var buf strings.Builder
	nl := "\n"
	if md.UseCRLF {
		nl = "\r\n"
	}
	for _, f := range md.Fields {
		lines := strings.Split(f.Value, "\n")
		buf.WriteString(f.Name)
		buf.WriteString(": ")
		buf.WriteString(lines[0])
		buf.WriteString(nl)
		for _, cont := range lines[1:] {
			buf.WriteString(" ")
			buf.WriteString(cont)
			buf.WriteString(nl)
		}
	}
	if md.Body != "" {
		buf.WriteString(nl)
		body := md.Body
		if md.UseCRLF {
			body = strings.ReplaceAll(body, "\n", "\r\n")
		}
		buf.WriteString(body)
		if !strings.HasSuffix(body, nl) {
			buf.WriteString(nl)
		}
	}
	return []byte(buf.String())
}
