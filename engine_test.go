package loomup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlang/loomup/internal/manifest"
	"github.com/loomlang/loomup/internal/toolchain"
)

const testManifest = `{
  "manifest_version": "1.0.0",
  "channels": [
    {
      "name": "0.14.0",
      "components": [
        {"name": "vm", "version": "0.14.2"},
        {"name": "client", "version": "0.14.0", "requires": ["vm"]}
      ]
    },
    {
      "name": "0.15.0",
      "components": [
        {"name": "vm", "version": "0.15.1", "init": ["init"]},
        {"name": "client", "version": "0.15.0", "requires": ["vm"]},
        {"name": "prover", "version": "0.15.0", "library": "libprover.so"}
      ],
      "aliases": {
        "run": [
          {"component": "vm", "tokens": [{"expand": "executable"}, "run"]}
        ],
        "bench": [
          {"component": "vm", "tokens": [{"expand": "executable"}, "bench"]},
          {"component": "client", "tokens": [{"expand": "executable"}, "report"]}
        ]
      }
    }
  ]
}`

// stubInstaller records installs and drops stub artifacts, standing in
// for the package tool.
type stubInstaller struct {
	calls []string
	fail  map[string]error
}

func (s *stubInstaller) Install(_ context.Context, req Request) error {
	s.calls = append(s.calls, req.Channel+"/"+req.Component.Name)
	if err := s.fail[req.Component.Name]; err != nil {
		return err
	}
	if req.Component.IsLibrary() {
		return os.WriteFile(filepath.Join(req.Dir.Lib(), req.Component.Library), []byte("stub"), 0o644)
	}
	return os.WriteFile(filepath.Join(req.Dir.Bin(), req.Component.ExecutableName()), []byte("#!stub\n"), 0o755)
}

// stepRunner records resolved pipeline steps instead of executing them.
type stepRunner struct {
	steps []ExecStep
	codes []int // per-step exit codes, zero when exhausted
}

func (r *stepRunner) Run(_ context.Context, step ExecStep) (int, error) {
	r.steps = append(r.steps, step)
	if len(r.codes) > 0 {
		code := r.codes[0]
		r.codes = r.codes[1:]
		return code, nil
	}
	return 0, nil
}

type testEnv struct {
	engine    *Engine
	home      string
	installer *stubInstaller
	runner    *stepRunner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, testManifest)
}

func newTestEnvWith(t *testing.T, manifestJSON string) *testEnv {
	t.Helper()
	home := t.TempDir()
	manifestPath := filepath.Join(t.TempDir(), "channel-manifest.json")
	require.NoError(t, os.WriteFile(manifestPath, []byte(manifestJSON), 0o644))

	inst := &stubInstaller{fail: map[string]error{}}
	run := &stepRunner{}
	e, err := New(
		WithHome(home),
		WithManifestURL(manifestPath),
		WithInstaller(inst),
		WithRunner(run),
		WithStderr(os.Stderr),
	)
	require.NoError(t, err)
	return &testEnv{engine: e, home: home, installer: inst, runner: run}
}

func TestInstallChannelStable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.engine.InstallChannel(ctx, "stable", nil))

	// Stable resolved to 0.15.0 and the local manifest records the
	// concrete name.
	local, err := env.engine.Local()
	require.NoError(t, err)
	ch, err := local.Channel("0.15.0")
	require.NoError(t, err)
	for _, comp := range ch.Components {
		assert.Equal(t, manifest.StatusInstalled, comp.Status, comp.Name)
	}
	assert.Equal(t, []string{"0.15.0/vm", "0.15.0/client", "0.15.0/prover"}, env.installer.calls)
}

func TestInstallChannelSubsetClosure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// client requires vm; prover is not pulled in.
	require.NoError(t, env.engine.InstallChannel(ctx, "0.15.0", []string{"client"}))
	assert.Equal(t, []string{"0.15.0/vm", "0.15.0/client"}, env.installer.calls)

	local, err := env.engine.Local()
	require.NoError(t, err)
	ch, err := local.Channel("0.15.0")
	require.NoError(t, err)
	vm, err := ch.Component("vm")
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusInstalled, vm.Status)
	prover, err := ch.Component("prover")
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusAbsent, prover.Status)
}

func TestInstallChannelPartialFailureRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.installer.fail["client"] = errors.New("build failed")
	ctx := context.Background()

	err := env.engine.InstallChannel(ctx, "0.15.0", nil)
	require.Error(t, err)
	var ierr *InstallError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "client", ierr.Component)

	local, lerr := env.engine.Local()
	require.NoError(t, lerr)
	ch, cerr := local.Channel("0.15.0")
	require.NoError(t, cerr)
	vm, _ := ch.Component("vm")
	assert.Equal(t, manifest.StatusInstalled, vm.Status)
	client, _ := ch.Component("client")
	assert.Equal(t, manifest.StatusFailed, client.Status)

	// Clearing the failure and rerunning completes without redoing vm.
	delete(env.installer.fail, "client")
	require.NoError(t, env.engine.InstallChannel(ctx, "0.15.0", nil))
	assert.Equal(t, 1, countCalls(env.installer.calls, "0.15.0/vm"))
}

func TestInstallChannelUnknown(t *testing.T) {
	env := newTestEnv(t)
	err := env.engine.InstallChannel(context.Background(), "0.99.0", nil)
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestActivePrecedence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.InstallChannel(ctx, "0.14.0", nil))
	require.NoError(t, env.engine.InstallChannel(ctx, "0.15.0", nil))

	work := t.TempDir()

	// Fallback: newest installed non-pre-release channel stands in for
	// stable.
	res, ch, err := env.engine.Active(work)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, res.Source)
	require.NotNil(t, ch)
	assert.Equal(t, "0.15.0", ch.Name)

	// System default beats fallback.
	require.NoError(t, env.engine.Override(ctx, "0.14.0"))
	res, ch, err = env.engine.Active(work)
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, res.Source)
	assert.Equal(t, "0.14.0", ch.Name)

	// Directory file beats both.
	require.NoError(t, toolchain.Set(work, "0.15.0", []string{"vm"}))
	res, ch, err = env.engine.Active(work)
	require.NoError(t, err)
	assert.Equal(t, SourceDirectory, res.Source)
	assert.Equal(t, "0.15.0", ch.Name)
	assert.Equal(t, []string{"vm"}, res.Components)
}

func TestSetWritesPinAndInstalls(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	work := t.TempDir()

	require.NoError(t, env.engine.Set(ctx, work, "stable", []string{"vm"}))

	// Pin records the concrete channel, not the alias.
	res, err := toolchain.Resolve(work, env.home)
	require.NoError(t, err)
	assert.Equal(t, "0.15.0", res.Channel)
	assert.Equal(t, []string{"vm"}, res.Components)
	assert.Equal(t, []string{"0.15.0/vm"}, env.installer.calls)
}

func TestSetRecordsInstalledList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	work := t.TempDir()

	// No explicit subset: the pin lists what was actually installed.
	require.NoError(t, env.engine.Set(ctx, work, "0.15.0", nil))

	res, err := toolchain.Resolve(work, env.home)
	require.NoError(t, err)
	assert.Equal(t, []string{"vm", "client", "prover"}, res.Components)
}

func TestUninstallRefusesActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	work := t.TempDir()
	require.NoError(t, env.engine.InstallChannel(ctx, "0.15.0", nil))
	require.NoError(t, toolchain.Set(work, "0.15.0", nil))

	err := env.engine.Uninstall(ctx, work, "0.15.0", false)
	var aerr *ActiveToolchainError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "0.15.0", aerr.Channel)

	// Forcing goes through and clears the record.
	require.NoError(t, env.engine.Uninstall(ctx, work, "0.15.0", true))
	local, err := env.engine.Local()
	require.NoError(t, err)
	_, err = local.Channel("0.15.0")
	assert.ErrorIs(t, err, ErrChannelNotFound)
	assert.False(t, env.engine.mgr.ChannelDir("0.15.0").Exists())
}

func TestUninstallStableAliasProtection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	work := t.TempDir()
	require.NoError(t, env.engine.InstallChannel(ctx, "0.15.0", nil))

	// Fallback resolution names "stable", which is 0.15.0 upstream.
	err := env.engine.Uninstall(ctx, work, "0.15.0", false)
	var aerr *ActiveToolchainError
	require.ErrorAs(t, err, &aerr)
}

func TestUninstallInactive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	work := t.TempDir()
	require.NoError(t, env.engine.InstallChannel(ctx, "0.14.0", nil))
	require.NoError(t, env.engine.InstallChannel(ctx, "0.15.0", nil))

	// 0.14.0 is not active anywhere; no force needed.
	require.NoError(t, env.engine.Uninstall(ctx, work, "0.14.0", false))
}

func TestOverrideValidatesChannel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.engine.Override(ctx, "0.99.0"), ErrChannelNotFound)
	require.NoError(t, env.engine.Override(ctx, "stable"))

	name, ok, err := toolchain.Default(env.home)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "stable", name)

	require.NoError(t, env.engine.ClearOverride())
	_, ok, err = toolchain.Default(env.home)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInitIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.Init(ctx))
	require.NoError(t, env.engine.Init(ctx))
	assert.FileExists(t, filepath.Join(env.home, manifest.LocalFile))
	assert.DirExists(t, filepath.Join(env.home, "toolchains"))
}

func TestList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.InstallChannel(ctx, "0.14.0", nil))
	require.NoError(t, env.engine.InstallChannel(ctx, "0.15.0", nil))

	infos, err := env.engine.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "0.14.0", infos[0].Name)
	assert.Equal(t, "0.15.0", infos[1].Name)
	for _, info := range infos {
		assert.Equal(t, "complete", info.Phase.String())
	}
}

func countCalls(calls []string, want string) int {
	n := 0
	for _, c := range calls {
		if c == want {
			n++
		}
	}
	return n
}
