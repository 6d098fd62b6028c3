package install

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout names within a channel directory. The progress log is a
// dot-prefixed working file; install-ok is the durable completion marker
// the rest of the engine keys off. The lock file sits beside the channel
// directory, not inside it, so uninstall can hold the lock while removing
// the whole tree.
const (
	progressFile = ".install-in-progress"
	completeFile = "install-ok"
	lockSuffix   = ".lock"
)

// ChannelDir is the on-disk root of one installed channel, holding the
// bin, lib, and var subdirectories plus the installation bookkeeping
// files.
type ChannelDir struct {
	root string
}

// Root returns the channel directory path.
func (d ChannelDir) Root() string { return d.root }

// Bin is the directory for component executables.
func (d ChannelDir) Bin() string { return filepath.Join(d.root, "bin") }

// Lib is the directory for component library artifacts.
func (d ChannelDir) Lib() string { return filepath.Join(d.root, "lib") }

// Var is the per-channel mutable state directory, including init markers.
func (d ChannelDir) Var() string { return filepath.Join(d.root, "var") }

func (d ChannelDir) progressPath() string { return filepath.Join(d.root, progressFile) }
func (d ChannelDir) completePath() string { return filepath.Join(d.root, completeFile) }
func (d ChannelDir) lockPath() string     { return d.root + lockSuffix }

// Exists reports whether the channel directory is present on disk.
func (d ChannelDir) Exists() bool {
	info, err := os.Stat(d.root)
	return err == nil && info.IsDir()
}

func (d ChannelDir) ensure() error {
	for _, dir := range []string{d.Bin(), d.Lib(), d.Var()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create channel layout: %w", err)
		}
	}
	return nil
}
