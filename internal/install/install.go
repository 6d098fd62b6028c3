// Package install drives component installation into channel directories.
// Every run is resumable: component names are appended to a progress log
// only after the underlying installer succeeds, and the log is renamed to
// a completion marker in one atomic step once the whole set is in place.
// A crash at any point leaves either a resumable progress log or the
// final marker, never a state the next run cannot pick up.
package install

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/loomlang/loomup/internal/manifest"
)

// ErrToolchainBusy is returned when another process holds the channel's
// installation lock. Callers retry or report rather than proceeding.
var ErrToolchainBusy = errors.New("toolchain is busy: another installation is in progress")

// InstallError reports the component that failed and the components the
// run never reached. Components installed before the failure stay logged,
// so a rerun resumes where this one stopped.
type InstallError struct {
	Component string
	Remaining []string
	Err       error
}

func (e *InstallError) Error() string {
	if len(e.Remaining) == 0 {
		return fmt.Sprintf("install %s: %v", e.Component, e.Err)
	}
	return fmt.Sprintf("install %s: %v (not attempted: %s)",
		e.Component, e.Err, strings.Join(e.Remaining, ", "))
}

func (e *InstallError) Unwrap() error { return e.Err }

// Phase is the coarse installation state of a channel directory.
type Phase int

const (
	// PhaseAbsent means the channel has no installation record.
	PhaseAbsent Phase = iota
	// PhaseInProgress means a progress log exists: a previous run was
	// interrupted or failed partway.
	PhaseInProgress
	// PhaseComplete means the completion marker exists.
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseInProgress:
		return "in progress"
	case PhaseComplete:
		return "complete"
	default:
		return "absent"
	}
}

// State describes a channel's installation record: its phase and the
// components the record lists as installed.
type State struct {
	Phase     Phase
	Completed []string
}

// Manager owns the toolchains tree under the engine home and runs the
// installation state machine over it.
type Manager struct {
	home      string
	installer Installer
}

// NewManager returns a manager rooted at home that delegates the actual
// artifact work to installer.
func NewManager(home string, installer Installer) *Manager {
	return &Manager{home: home, installer: installer}
}

// ChannelDir returns the directory a channel installs into.
func (m *Manager) ChannelDir(channel string) ChannelDir {
	return ChannelDir{root: filepath.Join(m.home, "toolchains", channel)}
}

// Install brings the given components of channel to the installed state.
// Components already recorded by a previous run are skipped, so the call
// is idempotent and resumes interrupted runs. The first installer failure
// stops the run; the error carries the failed component and the names
// never attempted. Concurrent runs against the same channel are excluded
// by an advisory lock, surfacing as ErrToolchainBusy.
func (m *Manager) Install(ctx context.Context, channel string, components []*manifest.Component) error {
	dir := m.ChannelDir(channel)
	if err := dir.ensure(); err != nil {
		return err
	}

	lock := flock.New(dir.lockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock channel %s: %w", channel, err)
	}
	if !locked {
		return fmt.Errorf("channel %s: %w", channel, ErrToolchainBusy)
	}
	defer lock.Unlock() //nolint:errcheck

	// A completed channel gaining new components reopens: the marker
	// becomes the progress log again and the run tops it up.
	if _, err := os.Stat(dir.completePath()); err == nil {
		done, err := readRecord(dir.completePath())
		if err != nil {
			return err
		}
		if containsAll(done, components) {
			return nil
		}
		if err := os.Rename(dir.completePath(), dir.progressPath()); err != nil {
			return fmt.Errorf("reopen channel %s: %w", channel, err)
		}
	}

	done, err := readRecord(dir.progressPath())
	if err != nil {
		return err
	}

	log, err := os.OpenFile(dir.progressPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open progress log: %w", err)
	}
	defer log.Close()

	for i, comp := range components {
		if done[comp.Name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		req := Request{Channel: channel, Component: comp, Dir: dir}
		if err := m.installer.Install(ctx, req); err != nil {
			return &InstallError{
				Component: comp.Name,
				Remaining: names(components[i+1:]),
				Err:       err,
			}
		}
		// Logged only after the installer succeeded; a crash between the
		// two reinstalls the component, which installers must tolerate.
		if _, err := fmt.Fprintln(log, comp.Name); err != nil {
			return fmt.Errorf("record %s: %w", comp.Name, err)
		}
		if err := log.Sync(); err != nil {
			return fmt.Errorf("record %s: %w", comp.Name, err)
		}
	}

	if err := log.Close(); err != nil {
		return fmt.Errorf("close progress log: %w", err)
	}
	if err := os.Rename(dir.progressPath(), dir.completePath()); err != nil {
		return fmt.Errorf("finalize channel %s: %w", channel, err)
	}
	return nil
}

// State reads a channel's installation record without taking the lock.
func (m *Manager) State(channel string) (State, error) {
	dir := m.ChannelDir(channel)
	if done, err := readList(dir.completePath()); err != nil {
		return State{}, err
	} else if done != nil {
		return State{Phase: PhaseComplete, Completed: done}, nil
	}
	if done, err := readList(dir.progressPath()); err != nil {
		return State{}, err
	} else if done != nil {
		return State{Phase: PhaseInProgress, Completed: done}, nil
	}
	return State{Phase: PhaseAbsent}, nil
}

// Invalidate reopens a channel's installation record and drops the named
// components from it, so the next Install run reinstalls exactly those.
// Their on-disk artifacts are removed as well, keeping the record and the
// tree consistent.
func (m *Manager) Invalidate(channel string, components []*manifest.Component) error {
	dir := m.ChannelDir(channel)
	if !dir.Exists() {
		return nil
	}

	lock := flock.New(dir.lockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock channel %s: %w", channel, err)
	}
	if !locked {
		return fmt.Errorf("channel %s: %w", channel, ErrToolchainBusy)
	}
	defer lock.Unlock() //nolint:errcheck

	record := dir.completePath()
	if _, err := os.Stat(record); os.IsNotExist(err) {
		record = dir.progressPath()
	}
	done, err := readList(record)
	if err != nil {
		return err
	}
	if done == nil {
		return nil
	}

	drop := make(map[string]bool, len(components))
	for _, comp := range components {
		drop[comp.Name] = true
		removeArtifacts(dir, comp)
	}
	var keep []string
	for _, name := range done {
		if !drop[name] {
			keep = append(keep, name)
		}
	}

	// Marker first, log second: a crash in between leaves no record at
	// all, which the next run treats as a full fresh install.
	if record == dir.completePath() {
		if err := os.Remove(record); err != nil {
			return fmt.Errorf("reopen channel %s: %w", channel, err)
		}
	}
	body := ""
	if len(keep) > 0 {
		body = strings.Join(keep, "\n") + "\n"
	}
	if err := os.WriteFile(dir.progressPath(), []byte(body), 0o644); err != nil {
		return fmt.Errorf("rewrite progress log: %w", err)
	}
	return nil
}

// Uninstall removes a channel directory wholesale. Path-managed artifacts
// live outside the channel tree, so they survive by construction.
func (m *Manager) Uninstall(channel string) error {
	dir := m.ChannelDir(channel)
	if !dir.Exists() {
		return nil
	}

	// The lock is held across the removal; it lives beside the channel
	// directory, so the tree can go while the lock file stays pinned.
	lock := flock.New(dir.lockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock channel %s: %w", channel, err)
	}
	if !locked {
		return fmt.Errorf("channel %s: %w", channel, ErrToolchainBusy)
	}
	defer lock.Unlock() //nolint:errcheck

	if err := os.RemoveAll(dir.Root()); err != nil {
		return fmt.Errorf("remove channel %s: %w", channel, err)
	}
	if err := os.Remove(dir.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove channel %s lock: %w", channel, err)
	}
	return nil
}

// removeArtifacts deletes the component's installed files from the
// channel tree. Path-managed components are left alone.
func removeArtifacts(dir ChannelDir, comp *manifest.Component) {
	if comp.PathManaged || comp.Source.Kind == manifest.LocatorPath {
		return
	}
	if comp.IsLibrary() {
		_ = os.Remove(filepath.Join(dir.Lib(), comp.Library))
		return
	}
	_ = os.Remove(filepath.Join(dir.Bin(), comp.ExecutableName()))
}

// readRecord loads a record file into a set. A missing file is an empty
// set.
func readRecord(path string) (map[string]bool, error) {
	list, err := readList(path)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(list))
	for _, name := range list {
		set[name] = true
	}
	return set, nil
}

// readList loads a record file preserving order. A missing file returns
// nil with no error.
func readList(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read install record: %w", err)
	}
	defer f.Close()

	list := []string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name != "" {
			list = append(list, name)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read install record: %w", err)
	}
	return list, nil
}

func containsAll(done map[string]bool, components []*manifest.Component) bool {
	for _, comp := range components {
		if !done[comp.Name] {
			return false
		}
	}
	return true
}

func names(components []*manifest.Component) []string {
	if len(components) == 0 {
		return nil
	}
	out := make([]string, len(components))
	for i, comp := range components {
		out[i] = comp.Name
	}
	return out
}
