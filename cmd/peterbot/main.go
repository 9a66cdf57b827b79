package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/peterbot/am"
	"github.com/teranos/peterbot/cmd/peterbot/commands"
	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/logger"
)

var rootCmd = &cobra.Command{
	Use:   "peterbot",
	Short: "peterbot - a personal assistant that works in the background",
	Long: `peterbot - a personal assistant that answers quickly when it can and
works in the background when it cannot.

Available commands:
  serve      - Run the job worker, scheduler and HTTP API
  jobs       - Inspect and enqueue background jobs
  schedules  - Manage recurring schedules
  cron       - Evaluate cron expressions
  am         - Manage configuration ("I am")
  version    - Show version information

Examples:
  peterbot serve                   # Run in the foreground
  peterbot jobs ls                 # List recent jobs
  peterbot schedules ls            # List schedules
  peterbot am show                 # Show the effective configuration`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 'am show' output is meant to be piped; keep the logger a no-op
		if cmd.Name() == "show" && cmd.Parent() != nil && cmd.Parent().Name() == "am" {
			return nil
		}

		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if !cmd.Flags().Changed("json-logs") {
			if cfg, err := am.Load(); err == nil {
				jsonLogs = cfg.Log.JSON
			}
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
}

func init() {
	commands.AddPersistentFlags(rootCmd)

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.SchedulesCmd)
	rootCmd.AddCommand(commands.CronCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "  hint: %s\n", hint)
		}
		os.Exit(1)
	}
}
