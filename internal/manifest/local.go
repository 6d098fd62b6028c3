package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LocalFile is the name of the local manifest under the engine's home
// directory.
const LocalFile = "manifest.json"

// LoadLocal reads the local manifest from the engine home. A missing or
// empty file is a valid state and yields a fresh manifest; anything else
// that fails to parse surfaces as an error, never a silent default.
func LoadLocal(home string) (*Manifest, error) {
	path := filepath.Join(home, LocalFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read local manifest: %w", err)
	}
	if len(raw) == 0 {
		return New(), nil
	}
	m, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("local manifest %s: %w", path, err)
	}
	return m, nil
}

// SaveLocal writes the local manifest atomically: a temp file in the same
// directory followed by rename, so a crash mid-write never leaves a
// truncated manifest behind.
func SaveLocal(home string, m *Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode local manifest: %w", err)
	}
	path := filepath.Join(home, LocalFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write local manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit local manifest: %w", err)
	}
	return nil
}
