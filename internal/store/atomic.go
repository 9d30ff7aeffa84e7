// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/facebookgo/atomicfile"
)

// WriteFileAtomic writes data to a temporary file next to path, syncs it and
// renames it over path. Readers observe either the old or the new content,
// never a partial file. On failure the previous file is left untouched.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	f, err := atomicfile.New(path, mode)
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Abort()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Abort()
		return fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	tmp := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
