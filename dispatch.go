package loomup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/loomlang/loomup/internal/install"
	"github.com/loomlang/loomup/internal/manifest"
)

// Mode is the binary's personality, chosen exactly once from the name it
// was invoked under.
type Mode int

const (
	// ModeAdmin is the management surface: install, update, set, show.
	ModeAdmin Mode = iota
	// ModeProxy dispatches the invoked command into the active toolchain.
	ModeProxy
)

// ModeFromArgv0 inspects the invocation name. Any name beginning with
// "loomup" selects the management surface; every other name (typically a
// symlink like "loom") selects the proxy.
func ModeFromArgv0(argv0 string) Mode {
	base := filepath.Base(argv0)
	base = strings.TrimSuffix(base, ".exe")
	if strings.HasPrefix(base, "loomup") {
		return ModeAdmin
	}
	return ModeProxy
}

// ExecStep is one fully resolved process invocation of a pipeline.
type ExecStep struct {
	Path string
	Args []string
	Env  []string
}

// Runner executes one pipeline step and reports its exit code. The error
// is reserved for failures to run at all; a non-zero exit is not an error
// at this level.
type Runner interface {
	Run(ctx context.Context, step ExecStep) (int, error)
}

// ExecRunner runs steps as child processes with inherited standard
// streams.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, step ExecStep) (int, error) {
	cmd := exec.CommandContext(ctx, step.Path, step.Args...)
	cmd.Env = step.Env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return exit.ExitCode(), nil
	}
	return -1, fmt.Errorf("run %s: %w", step.Path, err)
}

// ExitError propagates a pipeline step's non-zero exit status up to the
// process boundary.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// UnknownCommandError reports a name the active channel defines neither as
// an alias nor as a component executable. Suggestion, when non-empty, is
// the closest known name.
type UnknownCommandError struct {
	Name       string
	Channel    string
	Suggestion string
}

func (e *UnknownCommandError) Error() string {
	msg := fmt.Sprintf("unknown command %q in channel %s", e.Name, e.Channel)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}

// NotInitializedError reports an invocation of a component that requires a
// one-time initialization that has not happened yet.
type NotInitializedError struct {
	Component string
	Hint      []string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("%s is not initialized; run \"%s %s\" first",
		e.Component, e.Component, strings.Join(e.Hint, " "))
}

// Dispatch resolves the active toolchain for startDir and runs name with
// args inside it. Aliases expand to their pipelines; a plain component
// executable becomes a single-step pipeline. User args are appended to the
// first step only. Steps run sequentially with the channel bin directory
// prepended to PATH, and the first non-zero exit stops the pipeline,
// surfacing as ExitError.
func (e *Engine) Dispatch(ctx context.Context, startDir, name string, args []string) error {
	res, ch, err := e.Active(startDir)
	if err != nil {
		return err
	}
	if ch == nil {
		// Install on demand: first use of a resolved but uninstalled
		// channel triggers a full install.
		fmt.Fprintf(e.stderr, "channel %s is not installed, installing\n", res.Channel)
		if err := e.InstallChannel(ctx, res.Channel, res.Components); err != nil {
			return err
		}
		if _, ch, err = e.Active(startDir); err != nil {
			return err
		}
		if ch == nil {
			return fmt.Errorf("channel %s: %w", res.Channel, manifest.ErrChannelNotFound)
		}
	}
	dir := e.mgr.ChannelDir(ch.Name)

	pipeline := ch.Alias(name)
	if pipeline == nil {
		comp := componentByExecutable(ch, name)
		if comp == nil {
			return &UnknownCommandError{
				Name:       name,
				Channel:    ch.Name,
				Suggestion: suggest(name, knownNames(ch)),
			}
		}
		pipeline = manifest.Pipeline{{
			Component: comp.Name,
			Tokens:    []manifest.Token{{Kind: manifest.TokenExecutable}},
		}}
	}

	// A pinned subset may not cover the invoked command's components;
	// install the stragglers before running anything.
	var missing []string
	for _, step := range pipeline {
		comp, err := ch.Component(step.Component)
		if err != nil {
			return err
		}
		if comp.Status != manifest.StatusInstalled {
			missing = append(missing, comp.Name)
		}
	}
	if len(missing) > 0 {
		if err := e.InstallChannel(ctx, ch.Name, missing); err != nil {
			return err
		}
	}

	for i, step := range pipeline {
		comp, err := ch.Component(step.Component)
		if err != nil {
			return err
		}
		stepArgs := args
		if i > 0 {
			stepArgs = nil
		}
		if err := e.checkInitialized(dir, comp, stepArgs); err != nil {
			return err
		}
		argv, err := resolveTokens(dir, comp, step.Tokens)
		if err != nil {
			return err
		}
		argv = append(argv, stepArgs...)
		if len(argv) == 0 {
			return fmt.Errorf("alias %s: empty step for component %s", name, comp.Name)
		}

		code, err := e.runner.Run(ctx, ExecStep{
			Path: argv[0],
			Args: argv[1:],
			Env:  channelEnv(dir),
		})
		if err != nil {
			return err
		}
		if code != 0 {
			return &ExitError{Code: code}
		}
		e.markInitialized(dir, comp, stepArgs)
	}
	return nil
}

// checkInitialized gates components that declare a one-time init step.
// Invoking the init step itself is always allowed.
func (e *Engine) checkInitialized(dir install.ChannelDir, comp *manifest.Component, args []string) error {
	if len(comp.InitHint) == 0 {
		return nil
	}
	if _, err := os.Stat(initMarker(dir, comp)); err == nil {
		return nil
	}
	if isInitInvocation(comp, args) {
		return nil
	}
	return &NotInitializedError{Component: comp.Name, Hint: comp.InitHint}
}

// markInitialized records a successful init invocation so the gate opens.
func (e *Engine) markInitialized(dir install.ChannelDir, comp *manifest.Component, args []string) {
	if len(comp.InitHint) == 0 || !isInitInvocation(comp, args) {
		return
	}
	_ = os.WriteFile(initMarker(dir, comp), nil, 0o644)
}

func initMarker(dir install.ChannelDir, comp *manifest.Component) string {
	return filepath.Join(dir.Var(), ".initialized-"+comp.Name)
}

func isInitInvocation(comp *manifest.Component, args []string) bool {
	if len(args) < len(comp.InitHint) {
		return false
	}
	for i, want := range comp.InitHint {
		if args[i] != want {
			return false
		}
	}
	return true
}

// resolveTokens expands a step's tokens into argv. A var_path placeholder
// consumes the following literal as the entry name under the channel var
// directory.
func resolveTokens(dir install.ChannelDir, comp *manifest.Component, tokens []manifest.Token) ([]string, error) {
	argv := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok.Kind {
		case manifest.TokenLiteral:
			argv = append(argv, tok.Text)
		case manifest.TokenExecutable:
			exe := comp.ExecutableName()
			if exe == "" {
				return nil, fmt.Errorf("component %s has no executable", comp.Name)
			}
			argv = append(argv, filepath.Join(dir.Bin(), exe))
		case manifest.TokenLibPath:
			argv = append(argv, dir.Lib())
		case manifest.TokenVarPath:
			if i+1 >= len(tokens) || tokens[i+1].Kind != manifest.TokenLiteral {
				return nil, fmt.Errorf("component %s: var_path placeholder needs a following literal", comp.Name)
			}
			i++
			argv = append(argv, filepath.Join(dir.Var(), tokens[i].Text))
		default:
			return nil, fmt.Errorf("component %s: unknown token kind %d", comp.Name, tok.Kind)
		}
	}
	return argv, nil
}

// channelEnv builds the child environment: the parent's, with the channel
// bin directory prepended to PATH so components find their siblings.
func channelEnv(dir install.ChannelDir) []string {
	env := os.Environ()
	for i, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			env[i] = "PATH=" + dir.Bin() + string(os.PathListSeparator) + strings.TrimPrefix(kv, "PATH=")
			return env
		}
	}
	return append(env, "PATH="+dir.Bin())
}

// knownNames collects everything dispatchable in a channel: alias names
// and component executable names.
func knownNames(ch *manifest.Channel) []string {
	names := ch.AliasNames()
	for _, comp := range ch.Components {
		if exe := comp.ExecutableName(); exe != "" {
			names = append(names, exe)
		}
	}
	sort.Strings(names)
	return names
}

// suggest returns the known name closest to input, or "" when nothing is
// close enough to be a plausible typo.
func suggest(input string, known []string) string {
	const maxDistance = 3
	best := ""
	bestDist := maxDistance + 1
	for _, name := range known {
		d := levenshtein.ComputeDistance(input, name)
		if d < bestDist {
			best, bestDist = name, d
		}
	}
	return best
}

func componentByExecutable(ch *manifest.Channel, name string) *manifest.Component {
	for _, comp := range ch.Components {
		if comp.ExecutableName() == name {
			return comp
		}
	}
	return nil
}
