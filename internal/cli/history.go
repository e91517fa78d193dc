package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/javanstorm/vmxfer/internal/history"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "List recorded transfers or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.HistoryPath == "" {
				return errors.New("history_path is not configured")
			}
			store, err := history.Open(a.cfg.HistoryPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				rec, err := store.Get(args[0])
				if err != nil {
					return fmt.Errorf("transfer %s: %w", args[0], err)
				}
				return a.showRecord(rec)
			}

			recs, err := store.List(limit)
			if err != nil {
				return err
			}
			return a.listRecords(recs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of transfers to list (0 for all)")
	return cmd
}

func (a *app) listRecords(recs []history.Record) error {
	if a.jsonOut {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(a.stdout, "No transfers recorded.")
		return nil
	}

	fmt.Fprintf(a.stdout, "%-36s  %-6s  %-19s  %-17s  %4s  %s\n", "ID", "DIR", "STARTED", "STATE", "%", "SOURCE")
	for _, r := range recs {
		state := r.State
		if r.OutcomeKind != "" && r.OutcomeKind != "Success" {
			state = r.OutcomeKind
		}
		fmt.Fprintf(a.stdout, "%-36s  %-6s  %-19s  %-17s  %4d  %s\n",
			r.ID, r.Direction, r.StartedAt.Local().Format("2006-01-02 15:04:05"), state, r.Percent, r.Source)
	}
	return nil
}

func (a *app) showRecord(r *history.Record) error {
	if a.jsonOut {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	w := a.stdout
	fmt.Fprintf(w, "Transfer:    %s\n", r.ID)
	fmt.Fprintf(w, "Direction:   %s\n", r.Direction)
	fmt.Fprintf(w, "Source:      %s\n", r.Source)
	fmt.Fprintf(w, "Destination: %s\n", r.Destination)
	if r.Target != "" {
		fmt.Fprintf(w, "Target:      %s\n", r.Target)
	}
	fmt.Fprintf(w, "State:       %s\n", r.State)
	fmt.Fprintf(w, "Tracking:    %s\n", r.Tracking)
	if r.JobID != "" {
		fmt.Fprintf(w, "Job:         %s\n", r.JobID)
	}
	fmt.Fprintf(w, "Progress:    %d%%\n", r.Percent)
	fmt.Fprintf(w, "Started:     %s\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if r.Finished() {
		fmt.Fprintf(w, "Finished:    %s (%s)\n", r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	}
	if r.OutcomeKind != "" {
		fmt.Fprintf(w, "Outcome:     %s\n", r.OutcomeKind)
	}
	if r.Detail != "" {
		fmt.Fprintf(w, "Detail:      %s\n", r.Detail)
	}
	return nil
}
