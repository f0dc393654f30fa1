package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent redaction jobs",
	RunE:  runJobs,
}

func init() {
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Number of jobs to show")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if !a.current().Database.Enabled {
		return fmt.Errorf("job history requires database.enabled (set REDACTOR_DATABASE_ENABLED=true)")
	}

	js, err := a.openJobs()
	if err != nil {
		return err
	}
	defer js.Close()

	ctx := cmd.Context()
	list, err := js.List(ctx, jobsLimit)
	if err != nil {
		return err
	}
	stats, err := js.Stats(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tMODE\tSTATUS\tVALUES\tCHANGED\tPII\tSTARTED\tDURATION")
	for _, j := range list {
		duration := "-"
		if j.FinishedAt != nil {
			duration = j.FinishedAt.Sub(j.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			j.ID, j.Filename, j.Mode, j.Status, j.TotalValues, j.ChangedValues, j.PIIRemoved,
			j.StartedAt.Local().Format("2006-01-02 15:04"), duration)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d jobs (%d running, %d completed, %d failed), %d values, %d PII removed\n",
		stats.TotalJobs, stats.Running, stats.Completed, stats.Failed, stats.TotalValues, stats.PIIRemoved)
	return nil
}
