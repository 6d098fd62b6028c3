package loomup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rewriteUpstream points env at a new upstream manifest and clears the
// engine's cache, simulating a later run against a newer release.
func rewriteUpstream(t *testing.T, env *testEnv, manifestJSON string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "channel-manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(manifestJSON), 0o644))
	env.engine.manifestURL = path
	env.engine.upstream = nil
}

func TestUpdateNoChanges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.InstallChannel(ctx, "0.15.0", nil))
	before := len(env.installer.calls)

	report, err := env.engine.Update(ctx, "0.15.0")
	require.NoError(t, err)
	assert.Equal(t, "0.15.0", report.Channel)
	assert.False(t, report.Migrated)
	assert.ElementsMatch(t, []string{"vm", "client", "prover"}, report.Unchanged)
	assert.Empty(t, report.Updated)
	assert.Len(t, env.installer.calls, before)
}

func TestUpdateReinstallsChanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.InstallChannel(ctx, "0.15.0", nil))

	rewriteUpstream(t, env, `{
	  "manifest_version": "1.0.0",
	  "channels": [
	    {
	      "name": "0.15.0",
	      "components": [
	        {"name": "vm", "version": "0.15.2", "init": ["init"]},
	        {"name": "client", "version": "0.15.0", "requires": ["vm"]},
	        {"name": "prover", "version": "0.15.0", "library": "libprover.so"}
	      ]
	    }
	  ]
	}`)

	before := len(env.installer.calls)
	report, err := env.engine.Update(ctx, "0.15.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"vm"}, report.Updated)
	assert.ElementsMatch(t, []string{"client", "prover"}, report.Unchanged)

	// Exactly one reinstall happened, and the local record carries the
	// new version.
	assert.Equal(t, before+1, len(env.installer.calls))
	local, err := env.engine.Local()
	require.NoError(t, err)
	ch, err := local.Channel("0.15.0")
	require.NoError(t, err)
	vm, err := ch.Component("vm")
	require.NoError(t, err)
	assert.Equal(t, "0.15.2", vm.Version)
	assert.Equal(t, StatusInstalled, vm.Status)
}

func TestUpdateRepairsFailedComponent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.installer.fail["prover"] = assert.AnError
	require.Error(t, env.engine.InstallChannel(ctx, "0.15.0", nil))

	// Upstream is unchanged; the failed component still gets repaired.
	delete(env.installer.fail, "prover")
	report, err := env.engine.Update(ctx, "0.15.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"prover"}, report.Updated)
	assert.ElementsMatch(t, []string{"vm", "client"}, report.Unchanged)

	local, err := env.engine.Local()
	require.NoError(t, err)
	ch, err := local.Channel("0.15.0")
	require.NoError(t, err)
	prover, err := ch.Component("prover")
	require.NoError(t, err)
	assert.Equal(t, StatusInstalled, prover.Status)
}

func TestUpdateInstallsUpstreamAdditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.InstallChannel(ctx, "0.14.0", nil))

	// Upstream grew a debugger component after the channel was installed.
	rewriteUpstream(t, env, `{
	  "manifest_version": "1.0.0",
	  "channels": [
	    {
	      "name": "0.14.0",
	      "components": [
	        {"name": "vm", "version": "0.14.2"},
	        {"name": "client", "version": "0.14.0", "requires": ["vm"]},
	        {"name": "debugger", "version": "0.14.5"}
	      ]
	    }
	  ]
	}`)

	report, err := env.engine.Update(ctx, "0.14.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"debugger"}, report.Updated)
	assert.Contains(t, env.installer.calls, "0.14.0/debugger")

	local, err := env.engine.Local()
	require.NoError(t, err)
	ch, err := local.Channel("0.14.0")
	require.NoError(t, err)
	debugger, err := ch.Component("debugger")
	require.NoError(t, err)
	assert.Equal(t, StatusInstalled, debugger.Status)
}

func TestUpdateLeavesSubsetExcluded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.InstallChannel(ctx, "0.15.0", []string{"vm"}))

	// prover was never requested; a version bump upstream must not pull
	// it in.
	rewriteUpstream(t, env, `{
	  "manifest_version": "1.0.0",
	  "channels": [
	    {
	      "name": "0.15.0",
	      "components": [
	        {"name": "vm", "version": "0.15.1", "init": ["init"]},
	        {"name": "client", "version": "0.15.0", "requires": ["vm"]},
	        {"name": "prover", "version": "0.15.7", "library": "libprover.so"}
	      ]
	    }
	  ]
	}`)

	report, err := env.engine.Update(ctx, "0.15.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"prover"}, report.Skipped)
	assert.Empty(t, report.Updated)
	assert.NotContains(t, env.installer.calls, "0.15.0/prover")
}

func TestUpdateLeavesDroppedComponents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.InstallChannel(ctx, "0.15.0", nil))

	// Upstream dropped prover; the local copy survives untouched.
	rewriteUpstream(t, env, `{
	  "manifest_version": "1.0.0",
	  "channels": [
	    {
	      "name": "0.15.0",
	      "components": [
	        {"name": "vm", "version": "0.15.1", "init": ["init"]},
	        {"name": "client", "version": "0.15.0", "requires": ["vm"]}
	      ]
	    }
	  ]
	}`)

	report, err := env.engine.Update(ctx, "0.15.0")
	require.NoError(t, err)
	assert.Contains(t, report.Unchanged, "prover")

	local, err := env.engine.Local()
	require.NoError(t, err)
	ch, err := local.Channel("0.15.0")
	require.NoError(t, err)
	_, err = ch.Component("prover")
	assert.NoError(t, err)
}

func TestUpdateSkipsPathManaged(t *testing.T) {
	env := newTestEnvWith(t, `{
	  "manifest_version": "1.0.0",
	  "channels": [
	    {
	      "name": "0.15.0",
	      "components": [
	        {"name": "vm", "version": "0.15.1", "source": {"path": "/home/dev/vm"}, "path_managed": true},
	        {"name": "client", "version": "0.15.0"}
	      ]
	    }
	  ]
	}`)
	ctx := context.Background()
	require.NoError(t, env.engine.InstallChannel(ctx, "0.15.0", nil))

	rewriteUpstream(t, env, `{
	  "manifest_version": "1.0.0",
	  "channels": [
	    {
	      "name": "0.15.0",
	      "components": [
	        {"name": "vm", "version": "0.15.9", "source": {"path": "/home/dev/vm"}, "path_managed": true},
	        {"name": "client", "version": "0.15.0"}
	      ]
	    }
	  ]
	}`)

	report, err := env.engine.Update(ctx, "0.15.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"vm"}, report.Skipped)
	assert.Empty(t, report.Updated)
}

func TestUpdateStableMigrates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.InstallChannel(ctx, "0.15.0", nil))

	rewriteUpstream(t, env, `{
	  "manifest_version": "1.0.0",
	  "channels": [
	    {
	      "name": "0.15.0",
	      "components": [
	        {"name": "vm", "version": "0.15.1", "init": ["init"]},
	        {"name": "client", "version": "0.15.0", "requires": ["vm"]},
	        {"name": "prover", "version": "0.15.0", "library": "libprover.so"}
	      ]
	    },
	    {
	      "name": "0.16.0",
	      "components": [
	        {"name": "vm", "version": "0.16.0"}
	      ]
	    }
	  ]
	}`)

	report, err := env.engine.Update(ctx, "stable")
	require.NoError(t, err)
	assert.True(t, report.Migrated)
	assert.Equal(t, "0.15.0", report.Channel)
	assert.Equal(t, "0.16.0", report.NewChannel)

	// Both channels are now installed.
	local, err := env.engine.Local()
	require.NoError(t, err)
	assert.Len(t, local.Channels, 2)
}

func TestUpdateStableInPlace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.InstallChannel(ctx, "stable", nil))

	report, err := env.engine.Update(ctx, "stable")
	require.NoError(t, err)
	assert.False(t, report.Migrated)
	assert.Equal(t, "0.15.0", report.NewChannel)
	assert.Empty(t, report.Updated)
}

func TestUpdateAllIndependentFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.InstallChannel(ctx, "0.14.0", nil))
	require.NoError(t, env.engine.InstallChannel(ctx, "0.15.0", nil))

	// Bump both channels; make the 0.14.0 reinstall fail.
	rewriteUpstream(t, env, `{
	  "manifest_version": "1.0.0",
	  "channels": [
	    {
	      "name": "0.14.0",
	      "components": [
	        {"name": "vm", "version": "0.14.9"},
	        {"name": "client", "version": "0.14.0", "requires": ["vm"]}
	      ]
	    },
	    {
	      "name": "0.15.0",
	      "components": [
	        {"name": "vm", "version": "0.15.9", "init": ["init"]},
	        {"name": "client", "version": "0.15.0", "requires": ["vm"]},
	        {"name": "prover", "version": "0.15.0", "library": "libprover.so"}
	      ]
	    }
	  ]
	}`)
	env.installer.fail["vm"] = assert.AnError

	reports, err := env.engine.UpdateAll(ctx)
	require.Error(t, err)

	// Both channels were attempted despite the failures.
	assert.Contains(t, err.Error(), "update 0.14.0")
	assert.Contains(t, err.Error(), "update 0.15.0")
	assert.Empty(t, reports)
}

func TestUpdateAllClean(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.engine.InstallChannel(ctx, "0.14.0", nil))
	require.NoError(t, env.engine.InstallChannel(ctx, "0.15.0", nil))

	reports, err := env.engine.UpdateAll(ctx)
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}
