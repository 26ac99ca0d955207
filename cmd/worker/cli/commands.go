package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// Opener connects the operator commands to the queue.
type Opener func() (*JobsCLI, error)

// NewCommand builds the worker root command. Invoked without a subcommand it
// calls run; trigger, stats and scheduled operate on the live queue.
func NewCommand(run func(ctx context.Context) error, open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Runs the background job worker",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	root.AddCommand(triggerCmd(open), statsCmd(open), scheduledCmd(open))
	return root
}

func triggerCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <task type>",
		Short: "Enqueue a job immediately",
		Args:  cobra.ExactArgs(1),
		RunE: withJobs(open, func(cmd *cobra.Command, c *JobsCLI, args []string) error {
			info, err := c.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s\n", info.Type, info.ID)
			return nil
		}),
	}
}

func statsCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print counters for the default queue",
		Args:  cobra.NoArgs,
		RunE: withJobs(open, func(cmd *cobra.Command, c *JobsCLI, _ []string) error {
			stats, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d failed=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Failed)
			return nil
		}),
	}
}

func scheduledCmd(open Opener) *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "scheduled",
		Short: "List upcoming scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: withJobs(open, func(cmd *cobra.Command, c *JobsCLI, _ []string) error {
			tasks, err := c.ListScheduled(cmd.Context(), size)
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&size, "size", 20, "number of tasks to list")
	return cmd
}

func withJobs(open Opener, fn func(cmd *cobra.Command, c *JobsCLI, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := open()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		return fn(cmd, c, args)
	}
}
