package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/asakaida/stepscope/internal/entities"
	"github.com/asakaida/stepscope/internal/infrastructure/config"
	"github.com/asakaida/stepscope/internal/infrastructure/database"
	"github.com/asakaida/stepscope/internal/infrastructure/logging"
	"github.com/asakaida/stepscope/internal/infrastructure/objectstore"
	"github.com/asakaida/stepscope/internal/repositories"
	"github.com/asakaida/stepscope/internal/repositories/postgres"
	"github.com/asakaida/stepscope/internal/services"
	"github.com/asakaida/stepscope/pkg/cache"
	"github.com/asakaida/stepscope/pkg/cache/memorycache"
)

var (
	envFlag string
	cfg     *config.Config
	logger  *zap.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "stepscope",
		Short: "Parse STEP exchange files and extract geometric records",
		Long: `stepscope parses ISO-10303-21 exchange files, resolves entity references
and extracts per-element geometry records (faces, edges, solids, vertices).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.InitConfig(envFlag); err != nil {
				return fmt.Errorf("failed to initialize config: %w", err)
			}
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err = logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&envFlag, "env", "e", "dev", "Environment to use (dev, test, prod)")

	rootCmd.AddCommand(
		parseCmd(),
		extractCmd(),
		exportCmd(),
		runsCmd(),
		migrateCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newService wires the extraction service from configuration. The returned
// cleanup closes the database when persistence is enabled.
func newService() (*services.ExtractionService, func(), error) {
	var sessions cache.Cache[*services.Session]
	if cfg.Cache.Enabled {
		c, err := memorycache.New(&memorycache.Config[*services.Session]{
			MaxSizeBytes:  cfg.Cache.MaxMemoryBytes,
			DefaultTTL:    time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
			EnableMetrics: cfg.Cache.Metrics,
			SizeOf:        services.SessionSizeOf,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create session cache: %w", err)
		}
		sessions = c
	}

	svc := services.NewExtractionService(cfg, sessions, nil, logger)
	if cfg.ObjectStore.Enabled {
		objects, err := objectstore.NewClient(cfg.ObjectStore, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create object store client: %w", err)
		}
		svc.SetObjectSource(objects)
	}
	if !cfg.Database.Enabled {
		return svc, func() {}, nil
	}

	runs, closeDB, err := openRuns()
	if err != nil {
		return nil, nil, err
	}
	svc.SetRunRepository(runs)
	return svc, closeDB, nil
}

func openRuns() (repositories.RunRepository, func(), error) {
	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Debug("connected to database",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Database),
	)
	return postgres.NewPostgresRunRepository(pg.DB), func() { _ = pg.Close() }, nil
}

// openOutput returns stdout for "" or "-", a buffer uploaded on close for
// an s3:// URI, otherwise a created file
func openOutput(ctx context.Context, path, contentType string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	if objectstore.IsURI(path) {
		if !cfg.ObjectStore.Enabled {
			return nil, nil, fmt.Errorf("object storage is not configured (set S3_ENABLED)")
		}
		if _, _, err := objectstore.ParseURI(path); err != nil {
			return nil, nil, err
		}
		objects, err := objectstore.NewClient(cfg.ObjectStore, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create object store client: %w", err)
		}
		var buf bytes.Buffer
		return &buf, func() error {
			return objects.Put(ctx, path, buf.Bytes(), contentType)
		}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReport writes a human-readable run summary
func printReport(w io.Writer, r *entities.Report) {
	fmt.Fprintf(w, "File:      %s (%s)\n", r.FileName, r.Digest[:12])
	if r.Header != nil && r.Header.Schema() != "" {
		fmt.Fprintf(w, "Schema:    %s\n", r.Header.Schema())
	}
	fmt.Fprintf(w, "Entities:  %d\n", r.EntityCount)
	for _, kind := range []entities.ShapeKind{entities.ShapeSolid, entities.ShapeFace, entities.ShapeEdge, entities.ShapeVertex} {
		total, ok := r.TotalCounts[kind]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%-10s %d (%d failed)\n", kind.String()+":", total, r.FailedCounts[kind])
	}
	fmt.Fprintf(w, "Errors:    %d parse, %d reference, %d geometry\n",
		len(r.ParseErrors), len(r.ReferenceErrors), len(r.GeometryErrors))
	if r.ShadowedColors > 0 {
		fmt.Fprintf(w, "Colors:    %d shadowed assignments\n", r.ShadowedColors)
	}
	if r.Truncated {
		fmt.Fprintln(w, "Result:    TRUNCATED (cancelled)")
	}
	fmt.Fprintf(w, "Records:   %d in %s\n", r.RecordCount, r.Duration.Round(time.Millisecond))
}

func headerJSON(h *entities.Header) map[string]any {
	if h == nil {
		return nil
	}
	return map[string]any{
		"description":          h.Description,
		"implementation_level": h.ImplementationLevel,
		"file_name":            h.FileName,
		"time_stamp":           h.TimeStamp,
		"author":               h.Author,
		"organization":         h.Organization,
		"preprocessor_version": h.PreprocessorVersion,
		"originating_system":   h.OriginatingSystem,
		"authorization":        h.Authorization,
		"schemas":              h.Schemas,
	}
}

// recordJSON keys cells by column name; inapplicable numbers are null
func recordJSON(r *entities.OutputRecord) map[string]any {
	return map[string]any{
		"Type":          r.Type,
		"ID":            r.ID,
		"X":             r.X,
		"Y":             r.Y,
		"Z":             r.Z,
		"Surface/Curve": r.SurfaceCurve,
		"Umin":          r.UMin,
		"Umax":          r.UMax,
		"Vmin":          r.VMin,
		"Vmax":          r.VMax,
		"Color":         r.Color,
		"Attributes":    r.Attributes,
	}
}

func reportJSON(r *entities.Report) map[string]any {
	totals := make(map[string]int, len(r.TotalCounts))
	for kind, n := range r.TotalCounts {
		totals[kind.String()] = n
	}
	failed := make(map[string]int, len(r.FailedCounts))
	for kind, n := range r.FailedCounts {
		failed[kind.String()] = n
	}
	return map[string]any{
		"run_id":           r.RunID,
		"session_id":       r.SessionID,
		"file_name":        r.FileName,
		"digest":           r.Digest,
		"entity_count":     r.EntityCount,
		"total_counts":     totals,
		"failed_counts":    failed,
		"parse_errors":     errorStrings(r.ParseErrors),
		"reference_errors": errorStrings(r.ReferenceErrors),
		"geometry_errors":  errorStrings(r.GeometryErrors),
		"truncated":        r.Truncated,
		"shadowed_colors":  r.ShadowedColors,
		"record_count":     r.RecordCount,
		"started_at":       r.StartedAt,
		"duration_ms":      r.Duration.Milliseconds(),
	}
}

func errorStrings[E error](errs []E) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}
