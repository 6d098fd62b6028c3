package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/loomlang/loomup"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	flagHome        string
	flagManifestURL string
)

var rootCmd = &cobra.Command{
	Use:           "loomup",
	Short:         "Manage installations of the Loom toolchain",
	Long:          "Loomup installs, updates, and selects release channels of the Loom toolchain.\nThe companion loom binary proxies commands into whichever channel is active.",
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	// No Run — prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "engine home directory (default: $LOOMUP_HOME or $XDG_DATA_HOME/loomup)")
	rootCmd.PersistentFlags().StringVar(&flagManifestURL, "manifest-url", "", "channel manifest location (default: $LOOMUP_MANIFEST_URL or the published URL)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(overrideCmd)
	rootCmd.AddCommand(showCmd)
}

// newEngine builds an Engine from the persistent flags.
func newEngine() (*loomup.Engine, error) {
	var opts []loomup.Option
	if flagHome != "" {
		opts = append(opts, loomup.WithHome(flagHome))
	}
	if flagManifestURL != "" {
		opts = append(opts, loomup.WithManifestURL(flagManifestURL))
	}
	return loomup.New(opts...)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Prepare the loomup home directory and install stable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		if err := engine.Init(cmd.Context()); err != nil {
			return err
		}
		infos, err := engine.List()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("installing the stable channel")
			if err := engine.InstallChannel(cmd.Context(), loomup.StableName, nil); err != nil {
				return err
			}
		}
		fmt.Printf("initialized %s\n", engine.Home())
		if _, err := exec.LookPath("loom"); err != nil {
			binDir := filepath.Join(engine.Home(), "bin")
			fmt.Println(warnStyle.Render("loom is not on your PATH; add it with:"))
			fmt.Printf("  export PATH=%q:$PATH\n", binDir)
		}
		return nil
	},
}

var flagComponents []string

var installCmd = &cobra.Command{
	Use:   "install [channel]",
	Short: "Install a release channel",
	Long:  "Installs a channel of the Loom toolchain. With no argument, installs the\ncurrent stable channel. --component restricts the install to named\ncomponents plus whatever they require.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel := loomup.StableName
		if len(args) == 1 {
			channel = args[0]
		}
		engine, err := newEngine()
		if err != nil {
			return err
		}
		if err := engine.InstallChannel(cmd.Context(), channel, flagComponents); err != nil {
			return err
		}
		fmt.Printf("channel %s installed\n", channel)
		return nil
	},
}

var flagForce bool

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <channel>",
	Short: "Remove an installed channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		if err := engine.Uninstall(cmd.Context(), cwd, args[0], flagForce); err != nil {
			return err
		}
		fmt.Printf("channel %s removed\n", args[0])
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update [channel]",
	Short: "Update installed channels against upstream",
	Long:  "Reconciles installed channels with the upstream manifest. With no\nargument every installed channel is updated; channels fail independently.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			report, err := engine.Update(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printUpdateReport(report)
			return nil
		}
		reports, err := engine.UpdateAll(cmd.Context())
		for _, report := range reports {
			printUpdateReport(report)
		}
		return err
	},
}

var setCmd = &cobra.Command{
	Use:   "set <channel>",
	Short: "Pin the current directory to a channel",
	Long:  "Writes a loom-toolchain.toml in the current directory pinning it to the\ngiven channel, installing the channel first. \"stable\" pins the current\nstable release by its concrete version.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		if err := engine.Set(cmd.Context(), cwd, args[0], flagComponents); err != nil {
			return err
		}
		fmt.Printf("directory pinned: %s\n", args[0])
		return nil
	},
}

var flagClear bool

var overrideCmd = &cobra.Command{
	Use:   "override <channel>",
	Short: "Set the system default channel",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		if flagClear {
			if err := engine.ClearOverride(); err != nil {
				return err
			}
			fmt.Println("system default cleared")
			return nil
		}
		if len(args) != 1 {
			return fmt.Errorf("override requires a channel name (or --clear)")
		}
		if err := engine.Override(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("system default set to %s\n", args[0])
		return nil
	},
}

func init() {
	installCmd.Flags().StringSliceVar(&flagComponents, "component", nil, "restrict to named components (repeatable)")
	setCmd.Flags().StringSliceVar(&flagComponents, "component", nil, "restrict to named components (repeatable)")
	uninstallCmd.Flags().BoolVar(&flagForce, "force", false, "uninstall even the active channel")
	overrideCmd.Flags().BoolVar(&flagClear, "clear", false, "remove the system default")
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Inspect the local toolchain state",
}

var showActiveCmd = &cobra.Command{
	Use:   "active-toolchain",
	Short: "Show the channel active in the current directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		res, ch, err := engine.Active(cwd)
		if err != nil {
			return err
		}
		printActive(res, ch)
		return nil
	},
}

var showHomeCmd = &cobra.Command{
	Use:   "home",
	Short: "Print the loomup home directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		fmt.Println(engine.Home())
		return nil
	},
}

var showListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed channels and their components",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		infos, err := engine.List()
		if err != nil {
			return err
		}
		printChannelList(infos)
		return nil
	},
}

func init() {
	showCmd.AddCommand(showActiveCmd)
	showCmd.AddCommand(showHomeCmd)
	showCmd.AddCommand(showListCmd)
}
