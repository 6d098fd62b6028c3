// Command loom is the Loom toolchain multiplexer. Installed once, it
// serves two personalities chosen by invocation name: as "loomup" it
// manages toolchain installations, and under any other name (normally a
// "loom" symlink) it proxies the invoked command into the active
// toolchain.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loomlang/loomup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if loomup.ModeFromArgv0(os.Args[0]) == loomup.ModeProxy {
		os.Exit(runProxy(ctx, os.Args[1:]))
	}

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
		os.Exit(1)
	}
}

// runProxy dispatches args[0] into the active toolchain and maps the
// outcome to this process's exit status.
func runProxy(ctx context.Context, args []string) int {
	if len(args) == 0 {
		printProxyHelp()
		return 0
	}
	if args[0] == "--version" || args[0] == "-V" {
		fmt.Printf("loom %s\n", version)
		return 0
	}

	engine, err := loomup.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
		return 1
	}
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
		return 1
	}

	if args[0] == "help" {
		if len(args) > 1 && args[1] == "toolchain" {
			return printToolchainHelp(engine, cwd)
		}
		printProxyHelp()
		return 0
	}

	err = engine.Dispatch(ctx, cwd, args[0], args[1:])
	if err == nil {
		return 0
	}

	var exit *loomup.ExitError
	if errors.As(err, &exit) {
		// The child already reported its own failure.
		return exit.Code
	}
	var unknown *loomup.UnknownCommandError
	if errors.As(err, &unknown) {
		fmt.Fprintf(os.Stderr, "%s unknown command %q in channel %s\n",
			errorStyle.Render("error:"), unknown.Name, unknown.Channel)
		if unknown.Suggestion != "" {
			fmt.Fprintln(os.Stderr, hintStyle.Render(fmt.Sprintf("did you mean %q?", unknown.Suggestion)))
		}
		return 1
	}
	var uninit *loomup.NotInitializedError
	if errors.As(err, &uninit) {
		fmt.Fprintln(os.Stderr, warnStyle.Render(err.Error()))
		return 1
	}
	fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
	return 1
}

// printToolchainHelp lists what the active channel makes dispatchable.
func printToolchainHelp(engine *loomup.Engine, cwd string) int {
	res, ch, err := engine.Active(cwd)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
		return 1
	}
	fmt.Printf("active channel: %s (%s)\n", res.Channel, res.Source)
	if ch == nil {
		fmt.Println(warnStyle.Render("not installed yet; it will be installed on first use"))
		return 0
	}
	printChannelCommands(ch)
	return 0
}

func printProxyHelp() {
	fmt.Println(titleStyle.Render("loom") + " proxies commands into the active Loom toolchain.")
	fmt.Println()
	fmt.Println("usage: loom <command> [args...]")
	fmt.Println()
	fmt.Println("Available commands depend on the active channel.")
	fmt.Println("Run \"loomup show list\" to see installed channels and their commands,")
	fmt.Println("and \"loomup show active-toolchain\" to see which channel applies here.")
}
