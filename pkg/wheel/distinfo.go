// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package wheel

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/datawire/wheeledit/pkg/zipedit"
)

// locateDistInfoDir finds the single top-level "*.dist-info" directory
// among entries, the way pip's wheel_dist_info_dir() does: by scanning
// every member's top-level path component rather than trusting the
// filename, since PEP 427 itself doesn't pin down how to resolve
// ambiguity.
func locateDistInfoDir(entries []*zipedit.Entry) (string, error) {
	found := make(map[string]struct{})
	for _, e := range entries {
		top := strings.SplitN(path.Clean(e.Name), "/", 2)[0]
		if strings.HasSuffix(top, ".dist-info") {
			found[top] = struct{}{}
		}
	}

	switch len(found) {
	case 0:
		return "", fmt.Errorf("wheel: no .dist-info directory found")
	case 1:
		for dir := range found {
			return dir, nil
		}
		panic("not reached")
	default:
		list := make([]string, 0, len(found))
		for dir := range found {
			list = append(list, dir)
		}
		sort.Strings(list)
		return "", fmt.Errorf("wheel: multiple .dist-info directories found: %v", list)
	}
}

// renameDistInfoDir rewrites the leading "{old}.dist-info/" (or ".data/")
// prefix of every entry whose name is rooted under oldDir or its sibling
// "{stem}.data" directory, to be rooted under newDir (or its sibling data
// directory) instead. It is used when a Set of the package name or version
// changes what the canonical dist-info directory name should be.
func renameDistInfoDir(entries []*zipedit.Entry, oldDir, newDir string) {
	oldData := strings.TrimSuffix(oldDir, ".dist-info") + ".data"
	newData := strings.TrimSuffix(newDir, ".dist-info") + ".data"

	for _, e := range entries {
		switch {
		case e.Name == oldDir || strings.HasPrefix(e.Name, oldDir+"/"):
			e.Name = newDir + strings.TrimPrefix(e.Name, oldDir)
		case e.Name == oldData || strings.HasPrefix(e.Name, oldData+"/"):
			e.Name = newData + strings.TrimPrefix(e.Name, oldData)
		}
	}
}
