// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package autopatch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/go-diff/diff"
)

// PatchApplicationResult records the outcome for a single file.
type PatchApplicationResult struct {
	// Path is the repo-relative file path.
	Path string `json:"path"`

	// Applied reports whether the new content is on disk and verified.
	Applied bool `json:"applied"`

	// BackupID names the backup file (<uuid>.bak) when one was taken.
	BackupID string `json:"backupId,omitempty"`

	// LinesChanged counts added plus removed lines.
	LinesChanged int `json:"linesChanged"`

	// Verified reports whether the post-write checksum matched.
	Verified bool `json:"verified"`

	// Error holds the failure reason when Applied is false.
	Error string `json:"error,omitempty"`
}

// FailedFile pairs a path with its failure reason.
type FailedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ApplyReport summarizes one apply run across all files in a proposal.
type ApplyReport struct {
	RequestID    string                   `json:"requestId"`
	AppliedFiles []string                 `json:"appliedFiles"`
	FailedFiles  []FailedFile             `json:"failedFiles"`
	Results      []PatchApplicationResult `json:"results"`
	Duration     time.Duration            `json:"durationNs"`
}

// AllApplied reports whether every file succeeded and at least one did.
func (r *ApplyReport) AllApplied() bool {
	return len(r.FailedFiles) == 0 && len(r.AppliedFiles) > 0
}

// Applier performs strict patch application: every file write is
// preceded by a backup and followed by a checksum verification, with
// automatic rollback when verification fails. Failures in one file never
// stop the remaining files.
//
// # Thread Safety
//
// Safe for concurrent use. A per-path mutex serializes applies that
// touch the same file; applies to distinct files proceed in parallel.
type Applier struct {
	root      string
	backupDir string
	log       *ExecutionLog

	// verify checks that absPath holds exactly want after a write. The
	// default re-reads the file and compares checksums; tests swap in
	// failing checks to exercise the rollback path.
	verify func(absPath string, want []byte) error

	locksMu   sync.Mutex
	fileLocks map[string]*sync.Mutex
}

// NewApplier creates an applier rooted at workspace root.
//
// # Inputs
//
//   - root: Workspace root; all patch paths resolve under it.
//   - backupDir: Directory for <uuid>.bak files; defaults to
//     <root>/.autopatch/backups.
//   - log: Execution log receiving one entry per file hunk.
func NewApplier(root, backupDir string, log *ExecutionLog) (*Applier, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if backupDir == "" {
		backupDir = filepath.Join(absRoot, ".autopatch", "backups")
	}
	if log == nil {
		log = NewExecutionLog(0)
	}
	return &Applier{
		root:      absRoot,
		backupDir: backupDir,
		log:       log,
		verify:    verifyChecksum,
		fileLocks: make(map[string]*sync.Mutex),
	}, nil
}

// verifyChecksum re-reads absPath and compares its checksum against the
// content that was just written.
func verifyChecksum(absPath string, want []byte) error {
	onDisk, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("re-read: %w", err)
	}
	if sha256.Sum256(onDisk) != sha256.Sum256(want) {
		return fmt.Errorf("checksum mismatch")
	}
	return nil
}

// Log exposes the execution log for the history endpoint.
func (a *Applier) Log() *ExecutionLog { return a.log }

// ApplyPatch parses patch and applies it file by file.
//
// # Inputs
//
//   - ctx: Cancellation is honored between files, never mid-write.
//   - requestID: Proposal identifier for the audit trail.
//   - patch: Multi-file unified diff text.
//
// # Outputs
//
//   - *ApplyReport: Per-file outcomes; nil only when parsing failed.
//   - error: Parse/path errors (nothing touched disk) or ctx errors.
func (a *Applier) ApplyPatch(ctx context.Context, requestID, patch string) (*ApplyReport, error) {
	patches, err := ParsePatch(patch)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	report := &ApplyReport{
		RequestID: requestID,
		Results:   make([]PatchApplicationResult, 0, len(patches)),
	}

	for _, fp := range patches {
		if ctx.Err() != nil {
			return report, fmt.Errorf("apply interrupted: %w", ctx.Err())
		}

		result := a.applyFile(requestID, fp)
		report.Results = append(report.Results, result)
		if result.Applied {
			report.AppliedFiles = append(report.AppliedFiles, result.Path)
		} else {
			report.FailedFiles = append(report.FailedFiles, FailedFile{Path: result.Path, Reason: result.Error})
		}
	}

	report.Duration = time.Since(started)
	slog.Info("patch apply finished",
		"request_id", requestID,
		"applied", len(report.AppliedFiles),
		"failed", len(report.FailedFiles),
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

// applyFile runs the backup -> write -> verify -> rollback sequence for
// one file under its path lock.
func (a *Applier) applyFile(requestID string, fp *FilePatch) PatchApplicationResult {
	lock := a.getFileLock(fp.Path)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()
	result := PatchApplicationResult{Path: fp.Path}

	fail := func(reason string) PatchApplicationResult {
		result.Error = reason
		a.log.Append(ExecutionLogEntry{
			Action:    "apply",
			RequestID: requestID,
			FilePath:  fp.Path,
			Success:   false,
			Message:   reason,
			Duration:  time.Since(started),
		})
		return result
	}

	absPath, err := a.resolve(fp.Path)
	if err != nil {
		return fail(err.Error())
	}

	// ===== Read current content =====
	var original []byte
	switch {
	case fp.IsNew:
		if _, statErr := os.Stat(absPath); statErr == nil {
			return fail("file already exists")
		}
	default:
		original, err = os.ReadFile(absPath)
		if err != nil {
			if os.IsNotExist(err) {
				return fail("file not found")
			}
			return fail(fmt.Sprintf("read file: %v", err))
		}
	}

	// ===== Compute patched content in memory =====
	var patched []byte
	var changed int
	if fp.IsDelete {
		changed = len(splitLines(string(original)))
	} else {
		var applyErr error
		patched, changed, applyErr = applyHunks(original, fp.Hunks)
		if applyErr != nil {
			return fail(fmt.Sprintf("hunk does not apply: %v", applyErr))
		}
	}
	result.LinesChanged = changed

	// ===== Backup =====
	var backupPath string
	if !fp.IsNew {
		backupID := uuid.NewString() + ".bak"
		backupPath = filepath.Join(a.backupDir, backupID)
		if err := os.MkdirAll(a.backupDir, 0o750); err != nil {
			return fail(fmt.Sprintf("create backup dir: %v", err))
		}
		if err := os.WriteFile(backupPath, original, 0o640); err != nil {
			return fail(fmt.Sprintf("write backup: %v", err))
		}
		result.BackupID = filepath.Base(backupPath)
	}

	// ===== Write =====
	if fp.IsDelete {
		if err := os.Remove(absPath); err != nil {
			return fail(fmt.Sprintf("delete file: %v", err))
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(absPath), 0o750); err != nil {
			return fail(fmt.Sprintf("create parent dir: %v", err))
		}
		if err := os.WriteFile(absPath, patched, 0o640); err != nil {
			a.rollback(requestID, fp.Path, absPath, backupPath, started)
			return fail(fmt.Sprintf("write file: %v", err))
		}
	}

	// ===== Verify =====
	if !fp.IsDelete {
		if err := a.verify(absPath, patched); err != nil {
			a.rollback(requestID, fp.Path, absPath, backupPath, started)
			return fail(fmt.Sprintf("post-write verification failed: %v", err))
		}
	}
	result.Verified = true
	result.Applied = true

	a.log.Append(ExecutionLogEntry{
		Action:    "apply",
		RequestID: requestID,
		FilePath:  fp.Path,
		Success:   true,
		Message:   fmt.Sprintf("%d lines changed", changed),
		Duration:  time.Since(started),
	})
	return result
}

// rollback restores the pre-apply content from backup. Best effort: a
// rollback failure is logged but cannot be recovered automatically.
func (a *Applier) rollback(requestID, relPath, absPath, backupPath string, started time.Time) {
	entry := ExecutionLogEntry{
		Action:    "rollback",
		RequestID: requestID,
		FilePath:  relPath,
		Duration:  time.Since(started),
	}

	if backupPath == "" {
		// New file: rolling back means removing it.
		err := os.Remove(absPath)
		entry.Success = err == nil || os.IsNotExist(err)
		if !entry.Success {
			entry.Message = fmt.Sprintf("remove new file: %v", err)
		}
		a.log.Append(entry)
		return
	}

	backup, err := os.ReadFile(backupPath)
	if err != nil {
		entry.Message = fmt.Sprintf("read backup: %v", err)
		a.log.Append(entry)
		slog.Error("rollback failed, manual restore required", "path", relPath, "backup", backupPath, "error", err)
		return
	}
	if err := os.WriteFile(absPath, backup, 0o640); err != nil {
		entry.Message = fmt.Sprintf("restore backup: %v", err)
		a.log.Append(entry)
		slog.Error("rollback failed, manual restore required", "path", relPath, "backup", backupPath, "error", err)
		return
	}
	entry.Success = true
	entry.Message = "restored from " + filepath.Base(backupPath)
	a.log.Append(entry)
}

// resolve joins relPath under the root and re-checks containment against
// the resolved absolute path.
func (a *Applier) resolve(relPath string) (string, error) {
	abs := filepath.Join(a.root, relPath)
	rel, err := filepath.Rel(a.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathError{Path: relPath, Reason: "path escapes the workspace"}
	}
	return abs, nil
}

// getFileLock returns the mutex guarding relPath, creating it on first use.
func (a *Applier) getFileLock(relPath string) *sync.Mutex {
	a.locksMu.Lock()
	defer a.locksMu.Unlock()

	if lock, ok := a.fileLocks[relPath]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	a.fileLocks[relPath] = lock
	return lock
}

// =============================================================================
// Hunk Application
// =============================================================================

// applyHunks produces the patched content by replaying hunks against the
// original lines. Context and deletion lines must match exactly.
func applyHunks(original []byte, hunks []*diff.Hunk) ([]byte, int, error) {
	origLines := splitLines(string(original))
	hadTrailingNewline := len(original) == 0 || bytes.HasSuffix(original, []byte("\n"))

	var out []string
	cursor := 0
	changed := 0

	for _, h := range hunks {
		start := int(h.OrigStartLine) - 1
		if h.OrigLines == 0 {
			// Pure insertion: OrigStartLine is the line after which to
			// insert, so the region starts past it.
			start = int(h.OrigStartLine)
		}
		if start < cursor || start > len(origLines) {
			return nil, 0, fmt.Errorf("hunk at line %d overlaps or exceeds file (%d lines)", h.OrigStartLine, len(origLines))
		}
		out = append(out, origLines[cursor:start]...)
		cursor = start

		for _, line := range splitLines(string(h.Body)) {
			var op byte = ' '
			text := line
			if len(line) > 0 {
				op = line[0]
				text = line[1:]
			}
			switch op {
			case ' ':
				if cursor >= len(origLines) || origLines[cursor] != text {
					return nil, 0, fmt.Errorf("context mismatch at line %d", cursor+1)
				}
				out = append(out, origLines[cursor])
				cursor++
			case '-':
				if cursor >= len(origLines) || origLines[cursor] != text {
					return nil, 0, fmt.Errorf("deletion mismatch at line %d", cursor+1)
				}
				cursor++
				changed++
			case '+':
				out = append(out, text)
				changed++
			case '\\':
				// "\ No newline at end of file" marker.
				hadTrailingNewline = false
			default:
				return nil, 0, fmt.Errorf("unrecognized hunk line %q", line)
			}
		}
	}
	out = append(out, origLines[cursor:]...)

	joined := strings.Join(out, "\n")
	if hadTrailingNewline && joined != "" {
		joined += "\n"
	}
	return []byte(joined), changed, nil
}

// splitLines splits content into lines without trailing-newline
// artifacts: "a\nb\n" becomes ["a" "b"], "" becomes nil.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}
