package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newJobsCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List the host's management jobs",
		Long: `List the management jobs the platform currently knows about, newest first.

By default only running jobs are shown; --all includes finished ones.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, release, err := a.platform()
			if err != nil {
				return err
			}
			defer release()

			jobs, err := platform.ListJobs(cmd.Context())
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			sort.SliceStable(jobs, func(i, j int) bool {
				return jobs[i].StartTime.After(jobs[j].StartTime)
			})

			shown := jobs[:0]
			for _, job := range jobs {
				if all || !job.State.IsTerminal() {
					shown = append(shown, job)
				}
			}

			if a.jsonOut {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(shown)
			}

			if len(shown) == 0 {
				fmt.Fprintln(a.stdout, "No jobs.")
				return nil
			}
			fmt.Fprintf(a.stdout, "%-38s %-10s %4s  %-19s  %s\n", "ID", "STATE", "%", "STARTED", "DESCRIPTION")
			for _, job := range shown {
				started := "-"
				if !job.StartTime.IsZero() {
					started = job.StartTime.Local().Format("2006-01-02 15:04:05")
				}
				desc := job.Description
				if desc == "" {
					desc = job.Caption
				}
				fmt.Fprintf(a.stdout, "%-38s %-10s %4d  %-19s  %s\n", job.ID, job.State, job.PercentComplete, started, desc)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include finished jobs")
	return cmd
}
