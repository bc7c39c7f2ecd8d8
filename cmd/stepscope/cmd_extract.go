package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/asakaida/stepscope/internal/entities"
	"github.com/asakaida/stepscope/internal/services"
)

// extractFlags are the options shared by extract and export
type extractFlags struct {
	filter     string
	kinds      string
	indexBase  int
	noEntities bool
	attrMax    int
	sequential bool
	timeout    time.Duration
}

func (f *extractFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.filter, "filter", "", `CEL expression over record, e.g. record.type == "Face"`)
	cmd.Flags().StringVar(&f.kinds, "kinds", "", "comma-separated kind order (default from EXTRACT_KIND_ORDER)")
	cmd.Flags().IntVar(&f.indexBase, "index-base", -1, "first sequence index, 0 or 1 (default from EXTRACT_INDEX_BASE)")
	cmd.Flags().BoolVar(&f.noEntities, "no-entities", false, "omit the Entity rows")
	cmd.Flags().IntVar(&f.attrMax, "attr-max", 0, "truncate the Attributes cell to this many bytes (0 keeps all)")
	cmd.Flags().BoolVar(&f.sequential, "sequential", false, "extract kinds one after another")
	cmd.Flags().DurationVar(&f.timeout, "element-timeout", 0, "bound on each geometric evaluation (default from EXTRACT_ELEMENT_TIMEOUT_MS)")
}

func (f *extractFlags) options(cmd *cobra.Command) (services.ExtractOptions, error) {
	opts := services.DefaultExtractOptions(cfg)
	opts.Filter = f.filter
	opts.AttributeMaxLength = f.attrMax
	if f.noEntities {
		opts.IncludeEntities = false
	}
	if f.kinds != "" {
		order, err := entities.ParseKindOrder(f.kinds)
		if err != nil {
			return opts, fmt.Errorf("invalid --kinds: %w", err)
		}
		opts.Geometry.KindOrder = order
	}
	if cmd.Flags().Changed("index-base") {
		opts.Geometry.IndexBase = f.indexBase
	}
	if f.sequential {
		opts.Geometry.Parallel = false
	}
	if cmd.Flags().Changed("element-timeout") {
		opts.Geometry.ElementTimeout = f.timeout
	}
	if err := opts.Geometry.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// runExtraction parses path and extracts it with the flag options
func runExtraction(cmd *cobra.Command, path string, flags *extractFlags) (*services.Result, error) {
	opts, err := flags.options(cmd)
	if err != nil {
		return nil, err
	}
	svc, cleanup, err := newService()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	result, err := svc.Run(cmd.Context(), path, opts)
	if err != nil && result == nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if err != nil {
		// The extraction finished but could not be persisted
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	return result, nil
}

func extractCmd() *cobra.Command {
	var (
		flags   extractFlags
		asJSON  bool
		records bool
	)

	cmd := &cobra.Command{
		Use:   "extract <file|s3-uri>",
		Short: "Extract geometric records and print the run report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := runExtraction(cmd, args[0], &flags)
			if err != nil {
				return err
			}

			if !asJSON {
				printReport(os.Stdout, result.Report)
				return nil
			}

			out := map[string]any{"report": reportJSON(result.Report)}
			if records {
				rows := make([]map[string]any, 0, len(result.Records))
				for _, r := range result.Records {
					rows = append(rows, recordJSON(r))
				}
				out["records"] = rows
			}
			return writeJSON(os.Stdout, out)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&records, "records", false, "include the records in JSON output")
	return cmd
}
