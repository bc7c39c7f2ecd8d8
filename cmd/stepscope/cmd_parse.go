package main

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

func parseCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "parse <file|s3-uri>",
		Short: "Parse a file and report its header, entity types and errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("strict") {
				cfg.Parse.Strict = strict
			}
			svc, cleanup, err := newService()
			if err != nil {
				return err
			}
			defer cleanup()

			session, err := svc.ParseFile(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("parse: %w", err)
			}

			counts := session.Table.CountByType()
			types := make([]map[string]any, 0, len(counts))
			for _, name := range slices.Sorted(maps.Keys(counts)) {
				types = append(types, map[string]any{"type": name, "count": counts[name]})
			}

			errs := append(errorStrings(session.ParseErrors), errorStrings(session.ReferenceErrors)...)

			return writeJSON(os.Stdout, map[string]any{
				"session_id":   session.ID,
				"name":         session.Name,
				"digest":       session.Digest,
				"header":       headerJSON(session.Header),
				"entity_count": session.Table.Len(),
				"types":        types,
				"errors":       errs,
				"warnings":     session.Warnings,
			})
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat lexical errors as fatal")
	return cmd
}
