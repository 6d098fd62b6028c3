package loomup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/loomlang/loomup/internal/install"
	"github.com/loomlang/loomup/internal/manifest"
	"github.com/loomlang/loomup/internal/toolchain"
)

// DefaultManifestURL is the published channel manifest, overridable with
// LOOMUP_MANIFEST_URL for mirrors and tests.
const DefaultManifestURL = "https://loomlang.org/channel-manifest.json"

// ActiveToolchainError reports a refusal to uninstall the channel that
// currently resolves as active. Pass force to uninstall anyway.
type ActiveToolchainError struct {
	Channel string
	Source  toolchain.Source
}

func (e *ActiveToolchainError) Error() string {
	return fmt.Sprintf("channel %s is the active toolchain (%s); pass --force to uninstall it anyway",
		e.Channel, e.Source)
}

// Engine orchestrates the toolchain lifecycle: manifest refresh, channel
// installation, the update reconciler, and command dispatch.
type Engine struct {
	home        string
	manifestURL string
	installer   install.Installer
	runner      Runner
	stderr      io.Writer

	mgr      *install.Manager
	upstream *manifest.Manifest // cached for the Engine's lifetime
}

// Option configures an Engine.
type Option func(*Engine)

// WithHome overrides the engine home directory.
func WithHome(home string) Option {
	return func(e *Engine) { e.home = home }
}

// WithManifestURL overrides the upstream manifest location. Accepts
// http(s) URLs, file:// URLs, and bare paths.
func WithManifestURL(url string) Option {
	return func(e *Engine) { e.manifestURL = url }
}

// WithInstaller substitutes the component installer. The default shells
// out to the loom package tool.
func WithInstaller(installer install.Installer) Option {
	return func(e *Engine) { e.installer = installer }
}

// WithRunner substitutes the process runner used by Dispatch. The default
// execs with inherited standard streams.
func WithRunner(runner Runner) Option {
	return func(e *Engine) { e.runner = runner }
}

// WithStderr redirects the Engine's diagnostic output, which defaults to
// os.Stderr. Normal results never go here, only warnings and progress.
func WithStderr(w io.Writer) Option {
	return func(e *Engine) { e.stderr = w }
}

// New builds an Engine. Configuration comes from options first, then the
// LOOMUP_HOME and LOOMUP_MANIFEST_URL environment variables, then
// defaults ($XDG_DATA_HOME/loomup and the published manifest URL).
func New(opts ...Option) (*Engine, error) {
	v := viper.New()
	v.SetEnvPrefix("loomup")
	v.AutomaticEnv()
	v.SetDefault("manifest_url", DefaultManifestURL)

	e := &Engine{
		manifestURL: v.GetString("manifest_url"),
		stderr:      os.Stderr,
	}
	if h := v.GetString("home"); h != "" {
		e.home = h
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.home == "" {
		home, err := defaultHome()
		if err != nil {
			return nil, err
		}
		e.home = home
	}
	if e.installer == nil {
		e.installer = &install.ExecInstaller{Stderr: e.stderr}
	}
	if e.runner == nil {
		e.runner = &ExecRunner{}
	}
	e.mgr = install.NewManager(e.home, e.installer)
	return e, nil
}

func defaultHome() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "loomup"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "loomup"), nil
}

// Home returns the engine home directory.
func (e *Engine) Home() string { return e.home }

// Init prepares the engine home: the directory scaffold and an empty
// local manifest when none exists. Running it again is harmless.
func (e *Engine) Init(ctx context.Context) error {
	for _, dir := range []string{"bin", "toolchains"} {
		if err := os.MkdirAll(filepath.Join(e.home, dir), 0o755); err != nil {
			return fmt.Errorf("create home: %w", err)
		}
	}
	if _, err := os.Stat(filepath.Join(e.home, manifest.LocalFile)); err == nil {
		return nil
	}
	if err := manifest.SaveLocal(e.home, manifest.New()); err != nil {
		return err
	}
	return ctx.Err()
}

// Upstream fetches and caches the upstream channel manifest. The cache
// lasts for the Engine's lifetime; a fresh Engine sees a fresh manifest.
func (e *Engine) Upstream(ctx context.Context) (*manifest.Manifest, error) {
	if e.upstream != nil {
		return e.upstream, nil
	}
	m, err := manifest.Fetch(ctx, e.manifestURL)
	if err != nil {
		return nil, err
	}
	e.upstream = m
	return m, nil
}

// Local loads the local manifest.
func (e *Engine) Local() (*manifest.Manifest, error) {
	return manifest.LoadLocal(e.home)
}

// InstallChannel installs a channel, or the listed components of it plus
// whatever they require. The name "stable" resolves to the current stable
// channel upstream; the local manifest records the concrete channel name.
func (e *Engine) InstallChannel(ctx context.Context, name string, components []string) error {
	if err := e.Init(ctx); err != nil {
		return err
	}
	up, err := e.Upstream(ctx)
	if err != nil {
		return err
	}
	ch, err := up.Channel(name)
	if err != nil {
		return err
	}
	subset, err := ch.Subset(components)
	if err != nil {
		return err
	}
	return e.installComponents(ctx, ch, subset)
}

// installComponents runs the installer for subset and folds the outcome
// into the local manifest. On partial failure the local record keeps what
// actually landed, with the failed component marked.
func (e *Engine) installComponents(ctx context.Context, ch *manifest.Channel, subset []*manifest.Component) error {
	installErr := e.mgr.Install(ctx, ch.Name, subset)

	state, err := e.mgr.State(ch.Name)
	if err != nil {
		return errors.Join(installErr, err)
	}
	if err := e.recordChannel(ch, state, installErr); err != nil {
		return errors.Join(installErr, err)
	}
	return installErr
}

// recordChannel updates the local manifest's copy of ch from the install
// record. Components previously recorded for the channel are preserved,
// so adding components never forgets earlier ones.
func (e *Engine) recordChannel(ch *manifest.Channel, state install.State, installErr error) error {
	local, err := e.Local()
	if err != nil {
		return err
	}

	clone := ch.Clone()
	if prev, err := local.Channel(ch.Name); err == nil {
		clone = mergeChannel(prev, clone)
	}

	done := make(map[string]bool, len(state.Completed))
	for _, name := range state.Completed {
		done[name] = true
	}
	var failed string
	var ierr *install.InstallError
	if errors.As(installErr, &ierr) {
		failed = ierr.Component
	}
	for _, comp := range clone.Components {
		switch {
		case done[comp.Name]:
			comp.Status = manifest.StatusInstalled
		case comp.Name == failed:
			comp.Status = manifest.StatusFailed
		case comp.Status == "":
			comp.Status = manifest.StatusAbsent
		}
	}

	local.SetChannel(clone)
	return manifest.SaveLocal(e.home, local)
}

// mergeChannel overlays fresh upstream component definitions onto the
// previously recorded channel, keeping local-only components (for example
// ones upstream no longer lists) untouched.
func mergeChannel(prev, fresh *manifest.Channel) *manifest.Channel {
	byName := make(map[string]*manifest.Component, len(fresh.Components))
	for _, comp := range fresh.Components {
		byName[comp.Name] = comp
	}
	for _, comp := range prev.Components {
		if _, ok := byName[comp.Name]; !ok {
			fresh.Components = append(fresh.Components, comp)
		} else if byName[comp.Name].Status == "" {
			byName[comp.Name].Status = comp.Status
		}
	}
	return fresh
}

// Uninstall removes an installed channel: its directory tree and its
// local manifest record. Uninstalling the channel that currently resolves
// as active for startDir is refused unless force is set. Path-managed
// components are never deleted; a note about each goes to the diagnostic
// writer.
func (e *Engine) Uninstall(ctx context.Context, startDir, name string, force bool) error {
	local, err := e.Local()
	if err != nil {
		return err
	}
	ch, err := local.Channel(name)
	if err != nil {
		return err
	}

	res, err := toolchain.Resolve(startDir, e.home)
	if err != nil {
		return err
	}
	active := res.Channel
	if active == manifest.StableName {
		if up, err := e.Upstream(ctx); err == nil {
			if st := up.Stable(); st != nil {
				active = st.Name
			}
		}
	}
	if active == ch.Name && !force {
		return &ActiveToolchainError{Channel: ch.Name, Source: res.Source}
	}

	for _, comp := range ch.Components {
		if userManaged(comp) {
			fmt.Fprintf(e.stderr, "note: %s is user-managed (%s) and was not removed\n",
				comp.Name, comp.Source)
		}
	}

	if err := e.mgr.Uninstall(ch.Name); err != nil {
		return err
	}
	local.RemoveChannel(ch.Name)
	return manifest.SaveLocal(e.home, local)
}

// Set pins dir to a channel by writing its loom-toolchain.toml, installing
// the channel first so the pin is immediately usable. The recorded channel
// name is the concrete version even when name is "stable".
func (e *Engine) Set(ctx context.Context, dir, name string, components []string) error {
	up, err := e.Upstream(ctx)
	if err != nil {
		return err
	}
	ch, err := up.Channel(name)
	if err != nil {
		return err
	}
	subset, err := ch.Subset(components)
	if err != nil {
		return err
	}
	if err := e.installComponents(ctx, ch, subset); err != nil {
		return err
	}
	if len(components) == 0 {
		// Pin the concrete installed set so the file documents what the
		// directory actually got.
		state, err := e.mgr.State(ch.Name)
		if err != nil {
			return err
		}
		components = state.Completed
	}
	return toolchain.Set(dir, ch.Name, components)
}

// Override records name as the system default channel. The name "stable"
// is stored as-is, so the default keeps tracking stable releases.
func (e *Engine) Override(ctx context.Context, name string) error {
	if name != manifest.StableName {
		up, err := e.Upstream(ctx)
		if err != nil {
			return err
		}
		if _, err := up.Channel(name); err != nil {
			return err
		}
	}
	if err := e.Init(ctx); err != nil {
		return err
	}
	return toolchain.Override(e.home, name)
}

// ClearOverride removes the system default channel record.
func (e *Engine) ClearOverride() error {
	return toolchain.ClearOverride(e.home)
}

// Active resolves the toolchain for startDir and returns its locally
// recorded channel. The channel is nil when resolution succeeds but the
// channel is not installed.
func (e *Engine) Active(startDir string) (toolchain.Resolution, *manifest.Channel, error) {
	res, err := toolchain.Resolve(startDir, e.home)
	if err != nil {
		return toolchain.Resolution{}, nil, err
	}
	local, err := e.Local()
	if err != nil {
		return toolchain.Resolution{}, nil, err
	}
	name := res.Channel
	if name == manifest.StableName {
		// Against the local manifest, stable means the newest installed
		// non-pre-release channel.
		if st := local.Stable(); st != nil {
			return res, st, nil
		}
		return res, nil, nil
	}
	ch, err := local.Channel(name)
	if errors.Is(err, manifest.ErrChannelNotFound) {
		return res, nil, nil
	}
	if err != nil {
		return toolchain.Resolution{}, nil, err
	}
	return res, ch, nil
}

// ChannelInfo summarizes one installed channel for display.
type ChannelInfo struct {
	Name       string
	Phase      install.Phase
	Components []*manifest.Component
}

// List reports the locally installed channels in version order.
func (e *Engine) List() ([]ChannelInfo, error) {
	local, err := e.Local()
	if err != nil {
		return nil, err
	}
	infos := make([]ChannelInfo, 0, len(local.Channels))
	for _, ch := range local.Channels {
		state, err := e.mgr.State(ch.Name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, ChannelInfo{
			Name:       ch.Name,
			Phase:      state.Phase,
			Components: ch.Components,
		})
	}
	return infos, nil
}
