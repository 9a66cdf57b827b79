package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/internal/util"
	"github.com/teranos/peterbot/pulse/async"
	"github.com/teranos/peterbot/sym"
)

// JobsCmd represents the jobs command
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Pulse + " Manage background jobs",
	Long: sym.Pulse + ` jobs - inspect and enqueue background jobs.

A job is one request handed to the model whose answer is delivered to a
conversation. 'peterbot serve' processes pending jobs.

Examples:
  peterbot jobs ls                      # List recent jobs
  peterbot jobs ls --status failed      # Only failed jobs
  peterbot jobs add "summarise HN"      # Enqueue a task job
  peterbot jobs show 3f2a9c1e-...       # Show one job with its output`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobsLs(cmd, status, limit)
	},
}

var jobsAddCmd = &cobra.Command{
	Use:   "add <input>",
	Short: "Enqueue a background job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		jobType, _ := cmd.Flags().GetString("type")
		return runJobsAdd(cmd, async.JobType(jobType), args[0], target)
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return runJobsShow(cmd, args[0], asJSON)
	},
}

func init() {
	jobsLsCmd.Flags().String("status", "", "Filter by status (pending, running, completed, failed)")
	jobsLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")
	jobsAddCmd.Flags().String("target", "", "Conversation to deliver to (default: pulse.conversation_target)")
	jobsAddCmd.Flags().String("type", string(async.JobTypeTask), "Job type (task, quick)")
	jobsShowCmd.Flags().BoolP("json", "j", false, "Output the job as JSON")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsAddCmd)
	JobsCmd.AddCommand(jobsShowCmd)
}

func runJobsLs(cmd *cobra.Command, statusFilter string, limit int) error {
	var filter async.JobFilter
	if statusFilter != "" {
		if !async.IsValidStatus(statusFilter) {
			return errors.NewValidationError("unknown status %q (pending, running, completed, failed)", statusFilter)
		}
		s := async.JobStatus(statusFilter)
		filter.Status = &s
	}
	filter.Limit = limit

	return withQueue(func(queue *async.Queue) error {
		jobs, err := queue.ListJobs(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			pterm.Info.Println(sym.Pulse + " No jobs found")
			return nil
		}

		rows := [][]string{{"ID", "TYPE", "STATUS", "DELIVERED", "RETRIES", "CREATED", "INPUT"}}
		for _, job := range jobs {
			rows = append(rows, []string{
				job.ShortID(),
				string(job.Type),
				colorStatus(job.Status),
				yesNo(job.Delivered),
				fmt.Sprint(job.RetryCount),
				job.CreatedAt.Local().Format("2006-01-02 15:04"),
				truncate(job.Input, 48),
			})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d job(s)\n", len(jobs))
		return nil
	})
}

func runJobsAdd(cmd *cobra.Command, jobType async.JobType, input, target string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if target == "" {
		target = cfg.Pulse.ConversationTarget
	}

	return withQueue(func(queue *async.Queue) error {
		job, err := queue.CreateJob(cmd.Context(), jobType, input, target, nil)
		if err != nil {
			return err
		}
		pterm.Success.Printfln("%s Enqueued job %s", sym.Pulse, job.ID)
		if target == "" {
			pterm.Warning.Println("No conversation target: the result will be stored but not delivered")
		}
		return nil
	})
}

func runJobsShow(cmd *cobra.Command, id string, asJSON bool) error {
	return withQueue(func(queue *async.Queue) error {
		job, err := queue.GetJobByID(cmd.Context(), id)
		if err != nil {
			return err
		}

		if asJSON {
			data, err := json.MarshalIndent(job, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to marshal job")
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		rows := [][]string{
			{"ID", job.ID},
			{"Type", string(job.Type)},
			{"Status", colorStatus(job.Status)},
			{"Target", job.ConversationTarget},
			{"Delivered", yesNo(job.Delivered)},
			{"Retries", fmt.Sprint(job.RetryCount)},
			{"Created", job.CreatedAt.Local().Format(time.RFC3339)},
			{"Updated", job.UpdatedAt.Local().Format(time.RFC3339)},
		}
		if job.ScheduleID != nil {
			rows = append(rows, []string{"Schedule", *job.ScheduleID})
		}
		if job.NextAttemptAt != nil {
			rows = append(rows, []string{"Next attempt", job.NextAttemptAt.Local().Format(time.RFC3339)})
		}
		if err := pterm.DefaultTable.WithData(rows).Render(); err != nil {
			return err
		}

		pterm.DefaultSection.Println("Input")
		fmt.Fprintln(cmd.OutOrStdout(), job.Input)
		if job.Output != nil {
			pterm.DefaultSection.Println("Output")
			fmt.Fprintln(cmd.OutOrStdout(), *job.Output)
		}
		if job.Error != nil {
			pterm.DefaultSection.Println("Error")
			pterm.Error.Println(*job.Error)
		}
		return nil
	})
}

// withQueue opens the configured database for the duration of fn
func withQueue(fn func(*async.Queue) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, _, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	return fn(async.NewQueue(database))
}

func colorStatus(s async.JobStatus) string {
	switch s {
	case async.JobStatusCompleted:
		return pterm.Green(s)
	case async.JobStatusFailed:
		return pterm.Red(s)
	case async.JobStatusRunning:
		return pterm.Cyan(s)
	default:
		return string(s)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// truncate shortens s to n runes, on one line
func truncate(s string, n int) string {
	return util.Truncate(util.OneLine(s), n)
}
