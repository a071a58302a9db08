package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgerunner/forgerunner/internal/infrastructure/config"
	"github.com/forgerunner/forgerunner/internal/infrastructure/database"
	"github.com/forgerunner/forgerunner/internal/journal"
)

type runsOptions struct {
	*rootOptions
	limit   int
	outcome string
	json    bool
}

func newRunsCmd(root *rootOptions) *cobra.Command {
	opts := &runsOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent server runs from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrDefault(opts.resolveConfigPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			db, err := database.Open(databaseConfig(cfg))
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()
			if err := db.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}

			result, err := journal.NewSQLiteRepository(db.DB).ListRuns(cmd.Context(), journal.Filter{
				Outcome: opts.outcome,
				Limit:   opts.limit,
			})
			if err != nil {
				return err
			}
			if opts.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			return writeRuns(cmd.OutOrStdout(), result.Runs)
		},
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().StringVar(&opts.outcome, "outcome", "", "only runs with this outcome (graceful, forced, exited, failed)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print JSON")
	return cmd
}

// writeRuns prints one row per run, most recent first.
func writeRuns(w io.Writer, runs []journal.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDURATION\tOUTCOME\tHEAP\tADDRESS\tID")
	for _, r := range runs {
		duration := "running"
		if r.StoppedAt != nil {
			duration = r.StoppedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		outcome := r.Outcome
		if outcome == "" {
			outcome = "-"
		}
		address := r.Endpoint
		if address == "" {
			address = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration, outcome, r.MaxHeap, r.MinHeap, address, r.ID)
	}
	return tw.Flush()
}
