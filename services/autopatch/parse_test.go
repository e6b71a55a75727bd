// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package autopatch

import (
	"errors"
	"testing"
)

const sampleDiff = `--- a/greeting.txt
+++ b/greeting.txt
@@ -1,2 +1,2 @@
 hello
-world
+bakhmaro
`

func TestParsePatch(t *testing.T) {
	t.Run("valid single-file diff", func(t *testing.T) {
		patches, err := ParsePatch(sampleDiff)
		if err != nil {
			t.Fatalf("ParsePatch() error = %v", err)
		}
		if len(patches) != 1 {
			t.Fatalf("file count = %d, want 1", len(patches))
		}
		if patches[0].Path != "greeting.txt" {
			t.Errorf("path = %q, want greeting.txt", patches[0].Path)
		}
		if patches[0].IsNew || patches[0].IsDelete {
			t.Errorf("flags = new:%v delete:%v, want neither", patches[0].IsNew, patches[0].IsDelete)
		}
		if len(patches[0].Hunks) != 1 {
			t.Errorf("hunk count = %d, want 1", len(patches[0].Hunks))
		}
	})

	t.Run("empty patch", func(t *testing.T) {
		for _, input := range []string{"", "   \n\t"} {
			if _, err := ParsePatch(input); !errors.Is(err, ErrEmptyPatch) {
				t.Errorf("ParsePatch(%q) error = %v, want ErrEmptyPatch", input, err)
			}
		}
	})

	t.Run("malformed diff yields ParseError", func(t *testing.T) {
		_, err := ParsePatch("this is not a diff at all")
		if err == nil {
			t.Fatal("ParsePatch() accepted garbage input")
		}
		var perr *ParseError
		if !errors.As(err, &perr) && !errors.Is(err, ErrEmptyPatch) {
			t.Errorf("ParsePatch() error = %T, want *ParseError or ErrEmptyPatch", err)
		}
	})

	t.Run("new file detection", func(t *testing.T) {
		patch := "--- /dev/null\n+++ b/new.txt\n@@ -0,0 +1,1 @@\n+created\n"
		patches, err := ParsePatch(patch)
		if err != nil {
			t.Fatalf("ParsePatch() error = %v", err)
		}
		if !patches[0].IsNew {
			t.Error("IsNew = false for a /dev/null origin")
		}
	})

	t.Run("traversal path is rejected", func(t *testing.T) {
		patch := "--- a/../../etc/passwd\n+++ b/../../etc/passwd\n@@ -1,1 +1,1 @@\n-x\n+y\n"
		_, err := ParsePatch(patch)
		var perr *PathError
		if !errors.As(err, &perr) {
			t.Fatalf("ParsePatch() error = %v, want *PathError", err)
		}
	})
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"strips a prefix", "a/services/stream.go", "services/stream.go", false},
		{"strips b prefix", "b/config.toml", "config.toml", false},
		{"plain relative", "README.md", "README.md", false},
		{"absolute", "/etc/passwd", "", true},
		{"parent escape", "../outside.txt", "", true},
		{"nested escape", "a/../../outside.txt", "", true},
		{"dev null", "/dev/null", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidatePath(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ValidatePath(%q) accepted unsafe path, got %q", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidatePath(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ValidatePath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
