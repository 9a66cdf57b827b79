package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/pulse/schedule"
	"github.com/teranos/peterbot/sym"
)

// CronCmd groups cron helpers
var CronCmd = &cobra.Command{
	Use:   "cron",
	Short: sym.Cron + " Evaluate cron expressions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var cronNextCmd = &cobra.Command{
	Use:   "next <expression>",
	Short: "Print the next times an expression fires",
	Long: `Print the next times a five-field cron expression fires, in pulse.timezone.

Examples:
  peterbot cron next "*/15 9-17 * * 1-5"
  peterbot cron next "0 0 1 * *" --count 3 --from 2026-01-31T12:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		count, _ := cmd.Flags().GetInt("count")
		return runCronNext(cmd, args[0], from, count)
	},
}

func init() {
	cronNextCmd.Flags().String("from", "", "Start time, RFC 3339 (default: now)")
	cronNextCmd.Flags().IntP("count", "n", 5, "Number of run times to print")
	CronCmd.AddCommand(cronNextCmd)
}

func runCronNext(cmd *cobra.Command, expr, fromFlag string, count int) error {
	if count < 1 {
		return errors.NewValidationError("--count must be positive, got %d", count)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loc, err := cfg.Pulse.Location()
	if err != nil {
		return errors.Wrapf(err, "unknown pulse.timezone %q", cfg.Pulse.Timezone)
	}

	from := time.Now()
	if fromFlag != "" {
		from, err = time.Parse(time.RFC3339, fromFlag)
		if err != nil {
			return errors.WithHint(errors.NewValidationError("invalid --from %q", fromFlag),
				"use RFC 3339, e.g. 2026-02-18T12:00:00Z")
		}
	}

	t := from.In(loc)
	for i := 0; i < count; i++ {
		t, err = schedule.CronNext(expr, t)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), formatRunAt(t, loc))
	}
	return nil
}
