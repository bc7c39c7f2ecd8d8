package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/asakaida/stepscope/internal/entities"
	"github.com/asakaida/stepscope/internal/repositories"
)

var recordColumns = []string{
	"run_id", "position", "record_type", "record_id",
	"x", "y", "z", "surface_curve",
	"umin", "umax", "vmin", "vmax",
	"color", "attributes",
}

// PostgresRunRepository implements RunRepository using PostgreSQL
type PostgresRunRepository struct {
	db *sql.DB
}

// NewPostgresRunRepository creates a new PostgreSQL run repository
func NewPostgresRunRepository(db *sql.DB) repositories.RunRepository {
	return &PostgresRunRepository{db: db}
}

// Save stores a run in one transaction. Records are streamed with COPY.
// A report without a RunID is assigned a fresh one.
func (r *PostgresRunRepository) Save(ctx context.Context, report *entities.Report, records []*entities.OutputRecord) error {
	if report == nil {
		return fmt.Errorf("invalid run: nil report")
	}
	if report.RunID == "" {
		report.RunID = uuid.NewString()
	}
	if _, err := uuid.Parse(report.RunID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", report.RunID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	kinds, totals, failures := countColumns(report)
	schema := ""
	if report.Header != nil {
		schema = report.Header.Schema()
	}

	query := `
		INSERT INTO runs (
			run_id, session_id, file_name, digest, schema_name, entity_count,
			kinds, totals, failures, truncated, shadowed_colors, record_count,
			started_at, duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = tx.ExecContext(ctx, query,
		report.RunID, report.SessionID, report.FileName, report.Digest, schema, report.EntityCount,
		pq.Array(kinds), pq.Array(totals), pq.Array(failures),
		report.Truncated, report.ShadowedColors, len(records),
		report.StartedAt, report.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if err := copyRecords(ctx, tx, report.RunID, records); err != nil {
		return err
	}

	for i, e := range repositories.RunErrorsFromReport(report) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_errors (run_id, position, category, kind, message) VALUES ($1, $2, $3, $4, $5)`,
			report.RunID, i, e.Category, e.Kind, e.Message,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run error: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func copyRecords(ctx context.Context, tx *sql.Tx, runID string, records []*entities.OutputRecord) error {
	if len(records) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("run_records", recordColumns...))
	if err != nil {
		return fmt.Errorf("failed to prepare record copy: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		_, err := stmt.ExecContext(ctx,
			runID, i, string(rec.Type), rec.ID,
			rec.X, rec.Y, rec.Z, rec.SurfaceCurve,
			rec.UMin, rec.UMax, rec.VMin, rec.VMax,
			rec.Color, rec.Attributes,
		)
		if err != nil {
			return fmt.Errorf("failed to copy record %d: %w", i, err)
		}
	}

	// Flush buffered rows
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to flush record copy: %w", err)
	}
	return nil
}

// countColumns flattens the per-kind counts into parallel arrays in kind order
func countColumns(report *entities.Report) ([]string, []int64, []int64) {
	kinds := slices.Sorted(maps.Keys(report.TotalCounts))
	names := make([]string, len(kinds))
	totals := make([]int64, len(kinds))
	failures := make([]int64, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
		totals[i] = int64(report.TotalCounts[k])
		failures[i] = int64(report.FailedCounts[k])
	}
	return names, totals, failures
}

const summaryColumns = `
	r.run_id, r.session_id, r.file_name, r.digest, r.schema_name, r.entity_count,
	r.kinds, r.totals, r.failures, r.truncated, r.shadowed_colors, r.record_count,
	r.started_at, r.duration_ms,
	(SELECT COUNT(*) FROM run_errors e WHERE e.run_id = r.run_id)
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (*repositories.RunSummary, error) {
	var (
		s          repositories.RunSummary
		kinds      []string
		totals     []int64
		failures   []int64
		durationMS int64
	)
	err := row.Scan(
		&s.RunID, &s.SessionID, &s.FileName, &s.Digest, &s.Schema, &s.EntityCount,
		pq.Array(&kinds), pq.Array(&totals), pq.Array(&failures),
		&s.Truncated, &s.ShadowedColors, &s.RecordCount,
		&s.StartedAt, &durationMS, &s.ErrorCount,
	)
	if err != nil {
		return nil, err
	}
	if len(totals) != len(kinds) || len(failures) != len(kinds) {
		return nil, fmt.Errorf("run %s has mismatched count columns", s.RunID)
	}

	s.Duration = time.Duration(durationMS) * time.Millisecond
	s.TotalCounts = make(map[entities.ShapeKind]int, len(kinds))
	s.FailedCounts = make(map[entities.ShapeKind]int, len(kinds))
	for i, name := range kinds {
		kind, err := entities.ParseShapeKind(name)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", s.RunID, err)
		}
		s.TotalCounts[kind] = int(totals[i])
		s.FailedCounts[kind] = int(failures[i])
	}
	return &s, nil
}

// Get retrieves the summary of one run
func (r *PostgresRunRepository) Get(ctx context.Context, runID string) (*repositories.RunSummary, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("%w: %s", repositories.ErrRunNotFound, runID)
	}

	query := `SELECT ` + summaryColumns + ` FROM runs r WHERE r.run_id = $1`
	summary, err := scanSummary(r.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", repositories.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return summary, nil
}

// Records retrieves the records of a run in emission order
func (r *PostgresRunRepository) Records(ctx context.Context, runID string, recordType entities.RecordType) ([]*entities.OutputRecord, error) {
	query := `
		SELECT record_type, record_id, x, y, z, surface_curve,
			umin, umax, vmin, vmax, color, attributes
		FROM run_records
		WHERE run_id = $1 AND ($2::text = '' OR record_type = $2::text)
		ORDER BY position
	`
	rows, err := r.db.QueryContext(ctx, query, runID, string(recordType))
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	defer rows.Close()

	var records []*entities.OutputRecord
	for rows.Next() {
		var (
			rec                    entities.OutputRecord
			recType                string
			x, y, z                sql.NullFloat64
			umin, umax, vmin, vmax sql.NullFloat64
		)
		err := rows.Scan(&recType, &rec.ID, &x, &y, &z, &rec.SurfaceCurve,
			&umin, &umax, &vmin, &vmax, &rec.Color, &rec.Attributes)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Type = entities.RecordType(recType)
		rec.X, rec.Y, rec.Z = nullable(x), nullable(y), nullable(z)
		rec.UMin, rec.UMax = nullable(umin), nullable(umax)
		rec.VMin, rec.VMax = nullable(vmin), nullable(vmax)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return entities.Float(v.Float64)
}

// Errors retrieves the recoverable errors of a run
func (r *PostgresRunRepository) Errors(ctx context.Context, runID string) ([]repositories.RunError, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, kind, message FROM run_errors WHERE run_id = $1 ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read run errors: %w", err)
	}
	defer rows.Close()

	var out []repositories.RunError
	for rows.Next() {
		var e repositories.RunError
		if err := rows.Scan(&e.Category, &e.Kind, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan run error: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run errors: %w", err)
	}
	return out, nil
}

// ListByDigest retrieves the most recent runs of one input file
func (r *PostgresRunRepository) ListByDigest(ctx context.Context, digest string, limit int) ([]*repositories.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + summaryColumns + ` FROM runs r WHERE r.digest = $1 ORDER BY r.started_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, digest, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*repositories.RunSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

// Delete removes a run. Records and errors cascade.
func (r *PostgresRunRepository) Delete(ctx context.Context, runID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = $1`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", repositories.ErrRunNotFound, runID)
	}
	return nil
}
