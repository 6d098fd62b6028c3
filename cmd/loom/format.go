package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/loomlang/loomup"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func printActive(res loomup.Resolution, ch *loomup.Channel) {
	fmt.Printf("channel:  %s\n", res.Channel)
	fmt.Printf("source:   %s\n", res.Source)
	if res.Path != "" {
		fmt.Printf("file:     %s\n", res.Path)
	}
	if len(res.Components) > 0 {
		fmt.Printf("subset:   %s\n", strings.Join(res.Components, ", "))
	}
	if ch == nil {
		fmt.Println(warnStyle.Render("not installed; it will be installed on first use"))
		return
	}
	if ch.Name != res.Channel {
		fmt.Printf("resolves: %s\n", ch.Name)
	}
}

func printChannelList(infos []loomup.ChannelInfo) {
	if len(infos) == 0 {
		fmt.Println("no channels installed; run \"loomup install\" to get started")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tSTATE\tCOMPONENT\tVERSION\tSTATUS")
	for _, info := range infos {
		for i, comp := range info.Components {
			channel, state := "", ""
			if i == 0 {
				channel, state = info.Name, info.Phase.String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				channel, state, comp.Name, comp.Version, componentStatus(comp))
		}
	}
	w.Flush()
}

func componentStatus(comp *loomup.Component) string {
	status := string(comp.Status)
	if status == "" {
		status = "not installed"
	}
	if comp.PathManaged {
		status += " (user-managed)"
	}
	return status
}

// printChannelCommands lists a channel's aliases, executables, and
// libraries for "loom help toolchain".
func printChannelCommands(ch *loomup.Channel) {
	if names := ch.AliasNames(); len(names) > 0 {
		sort.Strings(names)
		fmt.Println(titleStyle.Render("aliases:"))
		for _, name := range names {
			fmt.Printf("  %s\n", name)
		}
	}
	var exes, libs []string
	for _, comp := range ch.Components {
		if comp.IsLibrary() {
			libs = append(libs, fmt.Sprintf("%s (%s)", comp.Name, comp.Library))
			continue
		}
		exes = append(exes, comp.ExecutableName())
	}
	if len(exes) > 0 {
		sort.Strings(exes)
		fmt.Println(titleStyle.Render("executables:"))
		for _, name := range exes {
			fmt.Printf("  %s\n", name)
		}
	}
	if len(libs) > 0 {
		sort.Strings(libs)
		fmt.Println(titleStyle.Render("libraries:"))
		for _, name := range libs {
			fmt.Printf("  %s\n", name)
		}
	}
}

func printUpdateReport(report loomup.UpdateReport) {
	switch {
	case report.Migrated:
		fmt.Println(okStyle.Render(fmt.Sprintf("stable moved to %s; installed", report.NewChannel)))
	case len(report.Updated) == 0:
		fmt.Printf("%s: up to date\n", report.Channel)
	default:
		fmt.Printf("%s: updated %s\n", report.Channel, strings.Join(report.Updated, ", "))
	}
	if len(report.Skipped) > 0 {
		fmt.Println(warnStyle.Render("skipped user-managed: " + strings.Join(report.Skipped, ", ")))
	}
}
