// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package autopatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestApplier(t *testing.T) (*Applier, string) {
	t.Helper()
	root := t.TempDir()
	a, err := NewApplier(root, "", NewExecutionLog(10))
	if err != nil {
		t.Fatalf("NewApplier() error = %v", err)
	}
	return a, root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestApplierApply(t *testing.T) {
	t.Run("applies a modification and keeps a backup", func(t *testing.T) {
		a, root := newTestApplier(t)
		writeFile(t, root, "greeting.txt", "hello\nworld\n")

		report, err := a.ApplyPatch(context.Background(), "req-1", sampleDiff)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if len(report.AppliedFiles) != 1 || len(report.FailedFiles) != 0 {
			t.Fatalf("report = %v applied / %v failed, want 1/0", report.AppliedFiles, report.FailedFiles)
		}
		if !report.AllApplied() {
			t.Error("AllApplied() = false for a clean run")
		}
		if got := readFile(t, root, "greeting.txt"); got != "hello\nbakhmaro\n" {
			t.Errorf("patched content = %q", got)
		}

		res := report.Results[0]
		if !res.Verified {
			t.Error("result not marked verified")
		}
		if res.LinesChanged != 2 {
			t.Errorf("LinesChanged = %d, want 2", res.LinesChanged)
		}
		if res.BackupID == "" || !strings.HasSuffix(res.BackupID, ".bak") {
			t.Fatalf("BackupID = %q, want <uuid>.bak", res.BackupID)
		}
		backup, err := os.ReadFile(filepath.Join(root, ".autopatch", "backups", res.BackupID))
		if err != nil {
			t.Fatalf("backup missing: %v", err)
		}
		if string(backup) != "hello\nworld\n" {
			t.Errorf("backup content = %q, want original", backup)
		}
	})

	t.Run("malformed patch touches nothing", func(t *testing.T) {
		a, root := newTestApplier(t)
		writeFile(t, root, "greeting.txt", "hello\nworld\n")

		_, err := a.ApplyPatch(context.Background(), "req-2", "not a diff")
		if err == nil {
			t.Fatal("Apply() accepted a malformed patch")
		}
		if got := readFile(t, root, "greeting.txt"); got != "hello\nworld\n" {
			t.Errorf("file modified despite parse failure: %q", got)
		}
		if a.Log().Len() != 0 {
			t.Errorf("execution log has %d entries, want 0 before any disk access", a.Log().Len())
		}
	})

	t.Run("missing second file fails partially", func(t *testing.T) {
		a, root := newTestApplier(t)
		writeFile(t, root, "greeting.txt", "hello\nworld\n")

		multi := sampleDiff +
			"--- a/missing.txt\n+++ b/missing.txt\n@@ -1,1 +1,1 @@\n-old\n+new\n"

		report, err := a.ApplyPatch(context.Background(), "req-3", multi)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if len(report.AppliedFiles) != 1 || len(report.FailedFiles) != 1 {
			t.Fatalf("report = %v applied / %v failed, want 1/1", report.AppliedFiles, report.FailedFiles)
		}
		if got := readFile(t, root, "greeting.txt"); got != "hello\nbakhmaro\n" {
			t.Errorf("first file not applied: %q", got)
		}
		if report.FailedFiles[0].Path != "missing.txt" || report.FailedFiles[0].Reason != "file not found" {
			t.Errorf("failure = %+v, want missing.txt / file not found", report.FailedFiles[0])
		}
		if report.AllApplied() {
			t.Error("AllApplied() = true for a partial run")
		}
	})

	t.Run("context mismatch leaves the file untouched", func(t *testing.T) {
		a, root := newTestApplier(t)
		writeFile(t, root, "greeting.txt", "completely\ndifferent\n")

		report, err := a.ApplyPatch(context.Background(), "req-4", sampleDiff)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if len(report.FailedFiles) != 1 {
			t.Fatalf("FailedFiles = %v, want one entry", report.FailedFiles)
		}
		if got := readFile(t, root, "greeting.txt"); got != "completely\ndifferent\n" {
			t.Errorf("file modified despite mismatch: %q", got)
		}
	})

	t.Run("creates a new file", func(t *testing.T) {
		a, root := newTestApplier(t)

		patch := "--- /dev/null\n+++ b/docs/new.txt\n@@ -0,0 +1,2 @@\n+line one\n+line two\n"
		report, err := a.ApplyPatch(context.Background(), "req-5", patch)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if len(report.AppliedFiles) != 1 {
			t.Fatalf("AppliedFiles = %v, want 1: %+v", report.AppliedFiles, report.Results)
		}
		if got := readFile(t, root, filepath.Join("docs", "new.txt")); got != "line one\nline two\n" {
			t.Errorf("new file content = %q", got)
		}
	})

	t.Run("deletes a file with backup", func(t *testing.T) {
		a, root := newTestApplier(t)
		writeFile(t, root, "old.txt", "doomed\n")

		patch := "--- a/old.txt\n+++ /dev/null\n@@ -1,1 +0,0 @@\n-doomed\n"
		report, err := a.ApplyPatch(context.Background(), "req-6", patch)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if len(report.AppliedFiles) != 1 {
			t.Fatalf("AppliedFiles = %v, want 1: %+v", report.AppliedFiles, report.Results)
		}
		if _, err := os.Stat(filepath.Join(root, "old.txt")); !os.IsNotExist(err) {
			t.Error("deleted file still present")
		}
		if report.Results[0].BackupID == "" {
			t.Error("deletion took no backup")
		}
	})

	t.Run("logs one entry per file", func(t *testing.T) {
		a, root := newTestApplier(t)
		writeFile(t, root, "greeting.txt", "hello\nworld\n")

		if _, err := a.ApplyPatch(context.Background(), "req-7", sampleDiff); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		entries := a.Log().Recent(0)
		if len(entries) != 1 {
			t.Fatalf("log entries = %d, want 1", len(entries))
		}
		e := entries[0]
		if e.Action != "apply" || !e.Success || e.RequestID != "req-7" || e.FilePath != "greeting.txt" {
			t.Errorf("log entry = %+v", e)
		}
	})
}

func TestApplierVerificationFailureRestoresOriginal(t *testing.T) {
	a, root := newTestApplier(t)
	writeFile(t, root, "greeting.txt", "hello\nworld\n")

	// Force the post-write check to fail so the full
	// backup -> write -> verify -> rollback sequence runs.
	a.verify = func(absPath string, want []byte) error {
		return errors.New("checksum mismatch")
	}

	report, err := a.ApplyPatch(context.Background(), "req-vf", sampleDiff)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(report.AppliedFiles) != 0 || len(report.FailedFiles) != 1 {
		t.Fatalf("report = %v applied / %v failed, want 0/1", report.AppliedFiles, report.FailedFiles)
	}
	if !strings.Contains(report.FailedFiles[0].Reason, "post-write verification failed") {
		t.Errorf("failure reason = %q", report.FailedFiles[0].Reason)
	}

	res := report.Results[0]
	if res.Applied || res.Verified {
		t.Errorf("result = %+v, want unapplied and unverified", res)
	}

	// Byte-exact restoration of the pre-apply content.
	if got := readFile(t, root, "greeting.txt"); got != "hello\nworld\n" {
		t.Errorf("content after rollback = %q, want original", got)
	}

	// One rollback entry and one failed apply entry land in the log.
	entries := a.Log().Recent(0)
	if len(entries) != 2 {
		t.Fatalf("log entries = %d, want 2 (rollback + failed apply)", len(entries))
	}
	if entries[1].Action != "rollback" || !entries[1].Success {
		t.Errorf("rollback entry = %+v", entries[1])
	}
	if entries[0].Action != "apply" || entries[0].Success {
		t.Errorf("apply entry = %+v", entries[0])
	}
}

func TestApplierRollback(t *testing.T) {
	a, root := newTestApplier(t)
	writeFile(t, root, "target.txt", "original\n")

	// Take a backup, then clobber the file the way a failed write would.
	backupDir := filepath.Join(root, ".autopatch", "backups")
	if err := os.MkdirAll(backupDir, 0o750); err != nil {
		t.Fatal(err)
	}
	backupPath := filepath.Join(backupDir, "test.bak")
	if err := os.WriteFile(backupPath, []byte("original\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	writeFile(t, root, "target.txt", "corrupted\n")

	a.rollback("req-rb", "target.txt", filepath.Join(root, "target.txt"), backupPath, time.Now())

	if got := readFile(t, root, "target.txt"); got != "original\n" {
		t.Errorf("content after rollback = %q, want original", got)
	}
	entries := a.Log().Recent(1)
	if len(entries) != 1 || entries[0].Action != "rollback" || !entries[0].Success {
		t.Errorf("rollback log entry = %+v", entries)
	}
}

func TestExecutionLogRecent(t *testing.T) {
	log := NewExecutionLog(3)
	for i := 0; i < 5; i++ {
		log.Append(ExecutionLogEntry{Action: "apply", RequestID: string(rune('a' + i))})
	}

	if log.Len() != 3 {
		t.Fatalf("Len() = %d, want capacity 3", log.Len())
	}
	recent := log.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("Recent(0) returned %d entries, want 3", len(recent))
	}
	// Newest first: e, d, c.
	for i, want := range []string{"e", "d", "c"} {
		if recent[i].RequestID != want {
			t.Errorf("recent[%d].RequestID = %q, want %q", i, recent[i].RequestID, want)
		}
	}
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		rb.Push(i)
	}

	if rb.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", rb.Len())
	}
	got := rb.Slice()
	for i, want := range []int{3, 4, 5} {
		if got[i] != want {
			t.Errorf("Slice()[%d] = %d, want %d", i, got[i], want)
		}
	}
	last := rb.Last(2)
	if len(last) != 2 || last[0] != 5 || last[1] != 4 {
		t.Errorf("Last(2) = %v, want [5 4]", last)
	}
}
