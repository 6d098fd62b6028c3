package install

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/loomlang/loomup/internal/manifest"
)

// Request carries everything an installer needs to place one component's
// artifact into a channel directory.
type Request struct {
	Channel   string
	Component *manifest.Component
	Dir       ChannelDir
}

// Installer places a single component's artifact on disk. Implementations
// must be safe to re-run for a component that was already installed, since
// a crash between artifact placement and progress logging replays the
// component on the next run.
type Installer interface {
	Install(ctx context.Context, req Request) error
}

// InstallerFunc adapts a function to the Installer interface.
type InstallerFunc func(ctx context.Context, req Request) error

func (f InstallerFunc) Install(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// ExecInstaller shells out to the component package tool. It is the
// production installer; tests substitute an InstallerFunc.
type ExecInstaller struct {
	// Tool is the package-tool executable, "loom-pkg" when empty.
	Tool string
	// Stderr receives the tool's combined output, discarded when nil.
	Stderr io.Writer
}

const defaultTool = "loom-pkg"

func (e *ExecInstaller) tool() string {
	if e.Tool != "" {
		return e.Tool
	}
	return defaultTool
}

// Install builds the package-tool invocation for the component's locator
// and runs it. The tool installs executables under the channel bin
// directory and libraries under lib.
func (e *ExecInstaller) Install(ctx context.Context, req Request) error {
	comp := req.Component
	args := []string{"install", "--root", req.Dir.Root(), "--force"}
	switch comp.Source.Kind {
	case "", manifest.LocatorRegistry:
		pkg := comp.Source.Package
		if pkg == "" {
			pkg = comp.Name
		}
		args = append(args, fmt.Sprintf("%s@%s", pkg, comp.Version))
	case manifest.LocatorGit:
		args = append(args, "--git", comp.Source.Repo)
		if comp.Source.Rev != "" {
			args = append(args, "--rev", comp.Source.Rev)
		}
		args = append(args, comp.Name)
	case manifest.LocatorPath:
		args = append(args, "--path", comp.Source.Path, comp.Name)
	default:
		return fmt.Errorf("component %s: %w: %q", comp.Name, manifest.ErrUnsupportedLocator, string(comp.Source.Kind))
	}

	cmd := exec.CommandContext(ctx, e.tool(), args...)
	cmd.Stdout = e.Stderr
	cmd.Stderr = e.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", e.tool(), comp.Name, err)
	}
	return nil
}
