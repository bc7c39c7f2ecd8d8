package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/asakaida/stepscope/internal/entities"
	"github.com/asakaida/stepscope/internal/repositories"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect persisted extraction runs (requires DB_ENABLED)",
	}
	cmd.AddCommand(runsListCmd(), runsShowCmd(), runsDeleteCmd())
	return cmd
}

// withRuns opens the run repository for the duration of fn
func withRuns(fn func(repositories.RunRepository) error) error {
	if !cfg.Database.Enabled {
		return fmt.Errorf("run persistence is disabled (set DB_ENABLED=true)")
	}
	runs, closeDB, err := openRuns()
	if err != nil {
		return err
	}
	defer closeDB()
	return fn(runs)
}

// digestOf accepts a hex digest or a path whose contents are hashed
func digestOf(arg string) (string, error) {
	if len(arg) == 2*sha256.Size {
		if _, err := hex.DecodeString(arg); err == nil {
			return arg, nil
		}
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func runsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list <file|digest>",
		Short: "List the most recent runs of one input file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			digest, err := digestOf(args[0])
			if err != nil {
				return err
			}
			return withRuns(func(runs repositories.RunRepository) error {
				list, err := runs.ListByDigest(cmd.Context(), digest, limit)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Println("No runs found")
					return nil
				}

				tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN ID\tSTARTED\tRECORDS\tERRORS\tDURATION\tTRUNCATED")
				for _, r := range list {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%v\n",
						r.RunID, r.StartedAt.Format(time.RFC3339), r.RecordCount, r.ErrorCount,
						r.Duration.Round(time.Millisecond), r.Truncated)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	return cmd
}

func runsShowCmd() *cobra.Command {
	var (
		recordType string
		errorsOnly bool
	)

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run summary with its records or errors as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuns(func(runs repositories.RunRepository) error {
				ctx := cmd.Context()
				summary, err := runs.Get(ctx, args[0])
				if err != nil {
					return err
				}
				runErrors, err := runs.Errors(ctx, args[0])
				if err != nil {
					return err
				}

				out := map[string]any{
					"summary": summaryJSON(summary),
					"errors":  runErrors,
				}
				if !errorsOnly {
					records, err := runs.Records(ctx, args[0], entities.RecordType(recordType))
					if err != nil {
						return err
					}
					rows := make([]map[string]any, 0, len(records))
					for _, r := range records {
						rows = append(rows, recordJSON(r))
					}
					out["records"] = rows
				}
				return writeJSON(os.Stdout, out)
			})
		},
	}

	cmd.Flags().StringVar(&recordType, "type", "", "only records of this type (Entity, Face, Edge, Solid, Vertex)")
	cmd.Flags().BoolVar(&errorsOnly, "errors", false, "omit the records")
	return cmd
}

func runsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run with its records and errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuns(func(runs repositories.RunRepository) error {
				if err := runs.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted run %s\n", args[0])
				return nil
			})
		},
	}
}

func summaryJSON(s *repositories.RunSummary) map[string]any {
	totals := make(map[string]int, len(s.TotalCounts))
	for kind, n := range s.TotalCounts {
		totals[kind.String()] = n
	}
	failed := make(map[string]int, len(s.FailedCounts))
	for kind, n := range s.FailedCounts {
		failed[kind.String()] = n
	}
	return map[string]any{
		"run_id":          s.RunID,
		"session_id":      s.SessionID,
		"file_name":       s.FileName,
		"digest":          s.Digest,
		"schema":          s.Schema,
		"entity_count":    s.EntityCount,
		"total_counts":    totals,
		"failed_counts":   failed,
		"truncated":       s.Truncated,
		"shadowed_colors": s.ShadowedColors,
		"record_count":    s.RecordCount,
		"error_count":     s.ErrorCount,
		"started_at":      s.StartedAt,
		"duration_ms":     s.Duration.Milliseconds(),
	}
}
