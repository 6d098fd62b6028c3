// Package toolchain resolves which channel applies to a working directory.
// Resolution is a pure read over three layers, in strict precedence order:
// a directory-local loom-toolchain.toml found by walking upward from the
// starting directory, the system default recorded under the engine home,
// and finally the hardcoded "stable" fallback.
package toolchain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the directory-local configuration file the resolver searches
// for.
const FileName = "loom-toolchain.toml"

// DefaultFile is the system-default record under the engine home: a single
// channel name. Absence is a valid state.
const DefaultFile = "default-toolchain"

// Fallback is the channel used when neither a directory-local file nor a
// system default exists.
const Fallback = "stable"

// Source identifies which layer produced a resolution.
type Source int

const (
	// SourceDirectory means a loom-toolchain.toml was found at or above
	// the starting directory.
	SourceDirectory Source = iota
	// SourceDefault means the system-default record was used.
	SourceDefault
	// SourceFallback means neither layer was present and "stable" applies.
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceDirectory:
		return "directory-local"
	case SourceDefault:
		return "system-default"
	default:
		return "fallback"
	}
}

// Resolution is the outcome of resolving the active toolchain: the channel
// name, the component subset (empty means all), where the answer came
// from, and the config file path when Source is SourceDirectory.
type Resolution struct {
	Channel    string
	Components []string
	Source     Source
	Path       string
}

// ConfigError reports an unreadable or invalid toolchain file. Parse
// failures are never silently defaulted.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("toolchain file %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// file mirrors the on-disk TOML layout:
//
//	[toolchain]
//	channel = "0.15.0"
//	components = ["vm", "client"]
type file struct {
	Toolchain selection `toml:"toolchain"`
}

type selection struct {
	Channel    string   `toml:"channel"`
	Components []string `toml:"components"`
}

// Resolve determines the active toolchain for startDir. It walks from
// startDir upward to the filesystem root looking for a toolchain file; the
// deepest match wins and no merging happens across levels. With no match
// it falls back to the system default under home, then to "stable". The
// walk performs no writes and triggers no installation.
func Resolve(startDir, home string) (Resolution, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve toolchain: %w", err)
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			cfg, err := readFile(path)
			if err != nil {
				return Resolution{}, err
			}
			return Resolution{
				Channel:    cfg.Channel,
				Components: cfg.Components,
				Source:     SourceDirectory,
				Path:       path,
			}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	name, ok, err := Default(home)
	if err != nil {
		return Resolution{}, err
	}
	if ok {
		return Resolution{Channel: name, Source: SourceDefault}, nil
	}
	return Resolution{Channel: Fallback, Source: SourceFallback}, nil
}

func readFile(path string) (selection, error) {
	var f file
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return selection{}, &ConfigError{Path: path, Err: err}
	}
	if f.Toolchain.Channel == "" {
		return selection{}, &ConfigError{Path: path, Err: errors.New("missing toolchain.channel")}
	}
	return f.Toolchain, nil
}

// Set writes the directory-local toolchain file in dir. Created by the
// explicit "set" operation and never auto-deleted.
func Set(dir, channel string, components []string) error {
	f := file{Toolchain: selection{Channel: channel, Components: components}}
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return fmt.Errorf("encode toolchain file: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Override persists channel as the system-wide default under home.
func Override(home, channel string) error {
	path := filepath.Join(home, DefaultFile)
	if err := os.WriteFile(path, []byte(channel+"\n"), 0o644); err != nil {
		return fmt.Errorf("write system default: %w", err)
	}
	return nil
}

// ClearOverride removes the system-default record. Removing a record that
// does not exist is a no-op.
func ClearOverride(home string) error {
	err := os.Remove(filepath.Join(home, DefaultFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear system default: %w", err)
	}
	return nil
}

// Default reads the system-default channel name under home. The second
// return reports whether a default is set.
func Default(home string) (string, bool, error) {
	raw, err := os.ReadFile(filepath.Join(home, DefaultFile))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read system default: %w", err)
	}
	name := strings.TrimSpace(string(raw))
	if name == "" {
		return "", false, nil
	}
	return name, true, nil
}
