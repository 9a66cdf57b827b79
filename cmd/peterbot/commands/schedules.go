package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/pulse/schedule"
	"github.com/teranos/peterbot/sym"
)

// SchedulesCmd represents the schedules command
var SchedulesCmd = &cobra.Command{
	Use:     "schedules",
	Aliases: []string{"sched"},
	Short:   sym.Cron + " Manage recurring schedules",
	Long: sym.Cron + ` schedules - recurring prompts driven by cron expressions.

Each time a schedule fires, 'peterbot serve' enqueues a task job with the
schedule's prompt. Expressions have five fields (minute hour dom month dow)
and are evaluated in pulse.timezone.

Examples:
  peterbot schedules ls
  peterbot schedules add "summarise my inbox" --cron "0 8 * * 1-5" --natural "weekdays at 8"
  peterbot schedules disable 3f2a9c1e-...
  peterbot schedules rm 3f2a9c1e-...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var schedulesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSchedules(func(store *schedule.Store) error {
			return runSchedulesLs(cmd, store)
		})
	},
}

var schedulesAddCmd = &cobra.Command{
	Use:   "add <prompt>",
	Short: "Create a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cronExpr, _ := cmd.Flags().GetString("cron")
		description, _ := cmd.Flags().GetString("description")
		natural, _ := cmd.Flags().GetString("natural")
		disabled, _ := cmd.Flags().GetBool("disabled")

		sched := &schedule.Schedule{
			Description:     description,
			NaturalSchedule: natural,
			ParsedCron:      cronExpr,
			Prompt:          args[0],
			Enabled:         !disabled,
		}
		return withSchedules(func(store *schedule.Store) error {
			if err := store.Create(cmd.Context(), sched); err != nil {
				return err
			}
			pterm.Success.Printfln("%s Created schedule %s", sym.Cron, sched.ID)
			if sched.Enabled {
				pterm.Info.Printfln("Next run: %s", formatRunAt(sched.NextRunAt, store.Location()))
			}
			return nil
		})
	},
}

var schedulesEnableCmd = &cobra.Command{
	Use:   "enable <schedule-id>",
	Short: "Enable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setScheduleEnabled(cmd, args[0], true)
	},
}

var schedulesDisableCmd = &cobra.Command{
	Use:   "disable <schedule-id>",
	Short: "Disable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setScheduleEnabled(cmd, args[0], false)
	},
}

var schedulesRmCmd = &cobra.Command{
	Use:   "rm <schedule-id>",
	Short: "Delete a schedule",
	Long:  "Delete a schedule. Jobs it already created are kept.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSchedules(func(store *schedule.Store) error {
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			pterm.Success.Printfln("%s Deleted schedule %s", sym.Cron, args[0])
			return nil
		})
	},
}

func init() {
	schedulesAddCmd.Flags().String("cron", "", "Five-field cron expression (required)")
	schedulesAddCmd.Flags().String("description", "", "Short description")
	schedulesAddCmd.Flags().String("natural", "", "The schedule as a human would say it, for display")
	schedulesAddCmd.Flags().Bool("disabled", false, "Create the schedule disabled")
	_ = schedulesAddCmd.MarkFlagRequired("cron")

	SchedulesCmd.AddCommand(schedulesLsCmd)
	SchedulesCmd.AddCommand(schedulesAddCmd)
	SchedulesCmd.AddCommand(schedulesEnableCmd)
	SchedulesCmd.AddCommand(schedulesDisableCmd)
	SchedulesCmd.AddCommand(schedulesRmCmd)
}

func runSchedulesLs(cmd *cobra.Command, store *schedule.Store) error {
	schedules, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		pterm.Info.Println(sym.Cron + " No schedules")
		return nil
	}

	rows := [][]string{{"ID", "CRON", "WHEN", "ENABLED", "NEXT RUN", "LAST RUN", "PROMPT"}}
	for _, s := range schedules {
		next := "-"
		if s.Enabled {
			next = formatRunAt(s.NextRunAt, store.Location())
		}
		last := "never"
		if s.LastRunAt != nil {
			last = formatRunAt(*s.LastRunAt, store.Location())
		}
		when := s.NaturalSchedule
		if when == "" {
			when = s.Description
		}
		rows = append(rows, []string{
			shortScheduleID(s.ID),
			s.ParsedCron,
			truncate(when, 24),
			yesNo(s.Enabled),
			next,
			last,
			truncate(s.Prompt, 40),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d schedule(s)\n", len(schedules))
	return nil
}

func setScheduleEnabled(cmd *cobra.Command, id string, enabled bool) error {
	return withSchedules(func(store *schedule.Store) error {
		sched, err := store.SetEnabled(cmd.Context(), id, enabled)
		if err != nil {
			return err
		}
		if enabled {
			pterm.Success.Printfln("%s Enabled %s, next run %s", sym.Cron, sched.ID,
				formatRunAt(sched.NextRunAt, store.Location()))
		} else {
			pterm.Success.Printfln("%s Disabled %s", sym.Cron, sched.ID)
		}
		return nil
	})
}

// withSchedules opens a schedule store evaluating cron in pulse.timezone
func withSchedules(fn func(*schedule.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loc, err := cfg.Pulse.Location()
	if err != nil {
		return errors.Wrapf(err, "unknown pulse.timezone %q", cfg.Pulse.Timezone)
	}
	database, _, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	store := schedule.NewStore(database)
	store.SetLocation(loc)
	return fn(store)
}

func formatRunAt(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Mon 2006-01-02 15:04 MST")
}

func shortScheduleID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
