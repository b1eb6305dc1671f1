// Package store provides crash-safe single-file persistence for small
// pieces of state that don't belong in the SQLite durable store — the
// daily-report idempotency flag (§D.2) is the only
// current user. Writes use atomic file replacement (write to .tmp,
// then rename) to prevent corruption from partial writes or crashes
// mid-save.
package store

import (
	"fmt"
	"os"
)

// WriteAtomic writes data to path via a temp-file-then-rename sequence
// so a crash mid-write never leaves a truncated file behind.
func WriteAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// ReadIfExists reads path, returning (nil, false, nil) if it doesn't exist.
func ReadIfExists(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	return data, true, nil
}
