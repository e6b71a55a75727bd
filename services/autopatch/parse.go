// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package autopatch implements the autonomous code-change pipeline:
// unified-diff parsing and validation, strict backup/verify/rollback
// application, a bounded proposal store, and an execution audit log.
package autopatch

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// ErrEmptyPatch is returned when the submitted patch text contains no
// file diffs at all.
var ErrEmptyPatch = errors.New("patch contains no file diffs")

// ParseError reports a malformed unified diff. Parsing happens before any
// disk access, so a ParseError guarantees the working tree is untouched.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid patch: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid patch: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PathError reports a target path that escapes the workspace or is
// otherwise not eligible for modification.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("unsafe patch path %q: %s", e.Path, e.Reason)
}

// FilePatch is one file's worth of parsed, path-validated changes.
type FilePatch struct {
	// Path is the cleaned repo-relative target path.
	Path string

	// Hunks are the unified-diff hunks in file order.
	Hunks []*diff.Hunk

	// IsNew marks a file creation (origin /dev/null).
	IsNew bool

	// IsDelete marks a file deletion (destination /dev/null).
	IsDelete bool
}

// ParsePatch parses a multi-file unified diff and validates every target
// path. It performs no disk access.
//
// # Inputs
//
//   - patch: Unified diff text, one or more file sections.
//
// # Outputs
//
//   - []*FilePatch: Parsed per-file changes in submission order.
//   - error: ErrEmptyPatch, *ParseError, or *PathError. Any error means
//     nothing may be applied.
func ParsePatch(patch string) ([]*FilePatch, error) {
	if strings.TrimSpace(patch) == "" {
		return nil, ErrEmptyPatch
	}

	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil, &ParseError{Reason: "unified diff did not parse", Err: err}
	}
	if len(fileDiffs) == 0 {
		return nil, ErrEmptyPatch
	}

	patches := make([]*FilePatch, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		fp := &FilePatch{
			Hunks:    fd.Hunks,
			IsNew:    fd.OrigName == "/dev/null",
			IsDelete: fd.NewName == "/dev/null",
		}
		if fp.IsNew && fp.IsDelete {
			return nil, &ParseError{Reason: "file diff with no valid side"}
		}

		name := fd.NewName
		if fp.IsDelete {
			name = fd.OrigName
		}
		cleaned, pathErr := ValidatePath(name)
		if pathErr != nil {
			return nil, pathErr
		}
		fp.Path = cleaned

		if !fp.IsDelete && len(fp.Hunks) == 0 {
			return nil, &ParseError{Reason: fmt.Sprintf("file %s has no hunks", cleaned)}
		}
		patches = append(patches, fp)
	}
	return patches, nil
}

// ValidatePath strips diff prefixes and rejects anything that could
// escape the workspace root.
//
// # Limitations
//
// This is a lexical check; the applier re-verifies containment against
// the resolved workspace root before touching disk.
func ValidatePath(name string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(name, "a/"), "b/")
	if trimmed == "" || trimmed == "/dev/null" {
		return "", &PathError{Path: name, Reason: "no usable target path"}
	}
	if filepath.IsAbs(trimmed) {
		return "", &PathError{Path: name, Reason: "absolute paths are not allowed"}
	}

	cleaned := filepath.Clean(filepath.FromSlash(trimmed))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", &PathError{Path: name, Reason: "path escapes the workspace"}
	}
	return cleaned, nil
}
