package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/asakaida/stepscope/internal/entities"
	"github.com/asakaida/stepscope/internal/infrastructure/arrowio"
)

var contentTypes = map[string]string{
	"csv":   "text/csv",
	"arrow": "application/vnd.apache.arrow.stream",
	"json":  "application/json",
}

func exportCmd() *cobra.Command {
	var (
		flags     extractFlags
		format    string
		output    string
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "export <file|s3-uri>",
		Short: "Extract a file and write its records as csv, arrow or json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "csv", "arrow", "json":
			default:
				return fmt.Errorf("unsupported format %q (use csv, arrow or json)", format)
			}
			if format == "arrow" && (output == "" || output == "-") {
				return fmt.Errorf("arrow output needs a file or s3:// URI, use -o")
			}

			result, err := runExtraction(cmd, args[0], &flags)
			if err != nil {
				return err
			}

			w, closeOut, err := openOutput(cmd.Context(), output, contentTypes[format])
			if err != nil {
				return err
			}

			switch format {
			case "csv":
				err = writeCSV(w, result.Records)
			case "arrow":
				err = arrowio.WriteAll(w, result.Records, arrowio.WithBatchSize(batchSize))
			case "json":
				rows := make([]map[string]any, 0, len(result.Records))
				for _, r := range result.Records {
					rows = append(rows, recordJSON(r))
				}
				err = writeJSON(w, rows)
			}
			if cerr := closeOut(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}

			if output != "" && output != "-" {
				fmt.Fprintf(os.Stderr, "Wrote %d records to %s\n", len(result.Records), output)
			}
			if result.Report.Truncated {
				fmt.Fprintln(os.Stderr, "warning: extraction was cancelled, output is truncated")
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&format, "format", "csv", "output format: csv, arrow or json")
	cmd.Flags().StringVarP(&output, "output", "o", "-", `output file or s3://bucket/key ("-" for stdout)`)
	cmd.Flags().IntVar(&batchSize, "batch-size", 1024, "rows per arrow record batch")
	return cmd
}

func writeCSV(w io.Writer, records []*entities.OutputRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(entities.RecordColumns); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(r.Row()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
