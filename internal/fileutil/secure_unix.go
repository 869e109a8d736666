//go:build !windows

// Package fileutil writes files and directories with owner-only access
// where the mode asks for it. Cached mail and the contact roster live
// under the user's home directory and should not be group/world readable.
// On Unix the helpers are thin wrappers over os.*; on Windows owner-only
// modes (perm & 0077 == 0) additionally set a DACL restricting access to
// the current user.
package fileutil

import "os"

// SecureWriteFile writes data to the named file, creating it if necessary.
func SecureWriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

// SecureMkdirAll creates a directory path and all missing parents.
func SecureMkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
