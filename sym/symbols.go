// Package sym defines the symbols peterbot uses in logs and CLI output.
// These symbols are stable across the CLI, the dashboard and log queries.
package sym

// Segment symbols.
const (
	AM   = "≡" // am: configuration
	Chat = "✉" // inline chat replies and deliveries
	Cron = "⏲" // recurring schedules
	Code = "⌘" // sandboxed code execution
)

// System infrastructure symbols.
const (
	Pulse      = "꩜" // async jobs, polling loops
	PulseOpen  = "✿" // graceful startup
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // database/storage layer
)

// entry binds a glyph to the command that manages it.
type entry struct {
	glyph       string
	command     string
	description string
}

var registry = []entry{
	{AM, "am", "Configuration"},
	{Pulse, "jobs", "Async jobs"},
	{Cron, "schedules", "Recurring schedules"},
}

// SymbolToCommand maps a glyph to its CLI command.
var SymbolToCommand = map[string]string{}

// CommandToSymbol maps a CLI command to its glyph.
var CommandToSymbol = map[string]string{}

// CommandDescriptions maps a CLI command to a short description.
var CommandDescriptions = map[string]string{}

func init() {
	for _, e := range registry {
		SymbolToCommand[e.glyph] = e.command
		CommandToSymbol[e.command] = e.glyph
		CommandDescriptions[e.command] = e.description
	}
}

// ForCommand returns the glyph for a CLI command, or "" if none is registered.
func ForCommand(cmd string) string {
	return CommandToSymbol[cmd]
}
