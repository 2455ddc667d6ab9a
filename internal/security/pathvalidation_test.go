package security

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"direct child", filepath.Join(dir, "capture.raw"), false},
		{"nested child", filepath.Join(dir, "cam-a", "capture.raw"), false},
		{"dot components inside", filepath.Join(dir, "cam-a", "..", "capture.raw"), false},
		{"parent escape", filepath.Join(dir, "..", "capture.raw"), true},
		{"deep escape", filepath.Join(dir, "cam-a", "..", "..", "..", "etc", "passwd"), true},
		{"unrelated absolute", "/etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, dir)
			if tt.wantErr && err == nil {
				t.Errorf("expected rejection of %q", tt.path)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected %q to be accepted, got %v", tt.path, err)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"23047980", "23047980"},
		{"cam-a_1.2", "cam-a_1.2"},
		{"../../etc/passwd", "etc_passwd"},
		{"cam a/b", "cam_a_b"},
		{"", "unknown"},
		{"///", "unknown"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFilename_Truncates(t *testing.T) {
	long := strings.Repeat("a", 500)
	if got := SanitizeFilename(long); len(got) > 128 {
		t.Errorf("sanitized name too long: %d chars", len(got))
	}
}
