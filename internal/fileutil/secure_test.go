package fileutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// assertPermNoMoreThan checks that the file at path has permissions no more
// permissive than want. This is umask-tolerant: a umask of 0077 turning 0644
// into 0600 is fine, but 0644 appearing as 0666 would fail.
func assertPermNoMoreThan(t *testing.T, path string, want os.FileMode) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	got := info.Mode().Perm()
	if got&^want != 0 {
		t.Errorf("perm = %04o, has bits beyond %04o (extra: %04o)", got, want, got&^want)
	}
}

func TestSecureWriteFile(t *testing.T) {
	tests := []struct {
		name string
		perm os.FileMode
	}{
		{"owner_only_0600", 0600},
		{"permissive_0644", 0644},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "testfile")
			data := []byte("cached mail stays private")

			if err := SecureWriteFile(path, data, tt.perm); err != nil {
				t.Fatalf("SecureWriteFile: %v", err)
			}

			got, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if string(got) != string(data) {
				t.Errorf("content = %q, want %q", got, data)
			}

			if runtime.GOOS != "windows" {
				assertPermNoMoreThan(t, path, tt.perm)
			}
		})
	}
}

func TestSecureMkdirAll(t *testing.T) {
	tests := []struct {
		name string
		perm os.FileMode
	}{
		{"owner_only_0700", 0700},
		{"permissive_0755", 0755},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "a", "b", "c")

			if err := SecureMkdirAll(path, tt.perm); err != nil {
				t.Fatalf("SecureMkdirAll: %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("Stat: %v", err)
			}
			if !info.IsDir() {
				t.Error("expected directory")
			}

			if runtime.GOOS != "windows" {
				assertPermNoMoreThan(t, path, tt.perm)
			}
		})
	}
}

func TestSecureWriteFileNonexistentParent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "no", "such", "dir", "file")

	err := SecureWriteFile(path, []byte("data"), 0600)
	if err == nil {
		t.Fatal("expected error for nonexistent parent dir")
	}
}
