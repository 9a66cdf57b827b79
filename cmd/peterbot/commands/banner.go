package commands

import (
	"strings"

	"github.com/pterm/pterm"

	"github.com/teranos/peterbot/logger"
	"github.com/teranos/peterbot/sym"
	"github.com/teranos/peterbot/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(verbosity int, dbPath, addr string, providers []string, delivers, codeTool bool) {
	info := version.Get()

	pterm.DefaultHeader.WithFullWidth().Println("peterbot " + sym.Pulse)

	onOff := func(b bool) string {
		if b {
			return pterm.Green("on")
		}
		return pterm.Yellow("off")
	}

	rows := [][]string{
		{"Version", info.Version + " (commit " + info.Short() + ")"},
		{"Verbosity", logger.LevelName(verbosity)},
		{"Database", dbPath},
		{"HTTP", "http://" + addr},
		{"AI providers", strings.Join(providers, " → ")},
		{"Delivery", onOff(delivers)},
		{"Code tool", onOff(codeTool)},
	}
	pterm.DefaultTable.WithData(rows).Render()

	pterm.Println()
	pterm.Info.Println("Press Ctrl+C to stop")
	pterm.Println()
}
