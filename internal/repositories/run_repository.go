package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/asakaida/stepscope/internal/entities"
)

// ErrRunNotFound is returned when no run has the requested id
var ErrRunNotFound = errors.New("run not found")

// RunError is a persisted recoverable error. Category is one of "parse",
// "reference" or "geometry"; Kind is the error kind name.
type RunError struct {
	Category string `json:"category"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// RunErrorsFromReport flattens the report's errors in category order
func RunErrorsFromReport(report *entities.Report) []RunError {
	out := make([]RunError, 0, report.ErrorCount())
	for _, e := range report.ParseErrors {
		out = append(out, RunError{Category: "parse", Kind: e.Kind.String(), Message: e.Error()})
	}
	for _, e := range report.ReferenceErrors {
		out = append(out, RunError{Category: "reference", Kind: e.Kind.String(), Message: e.Error()})
	}
	for _, e := range report.GeometryErrors {
		out = append(out, RunError{Category: "geometry", Kind: "OracleFailure", Message: e.Error()})
	}
	return out
}

// RunSummary is the stored header of one extraction run
type RunSummary struct {
	RunID          string
	SessionID      string
	FileName       string
	Digest         string
	Schema         string
	EntityCount    int
	TotalCounts    map[entities.ShapeKind]int
	FailedCounts   map[entities.ShapeKind]int
	Truncated      bool
	ShadowedColors int
	RecordCount    int
	ErrorCount     int
	StartedAt      time.Time
	Duration       time.Duration
}

// RunRepository defines the interface for extraction run persistence
type RunRepository interface {
	// Save stores the report, its records in emission order and its errors
	Save(ctx context.Context, report *entities.Report, records []*entities.OutputRecord) error

	// Get retrieves the summary of one run
	Get(ctx context.Context, runID string) (*RunSummary, error)

	// Records retrieves the records of a run in emission order. An empty
	// recordType returns every record.
	Records(ctx context.Context, runID string, recordType entities.RecordType) ([]*entities.OutputRecord, error)

	// Errors retrieves the recoverable errors of a run
	Errors(ctx context.Context, runID string) ([]RunError, error)

	// ListByDigest retrieves the most recent runs of one input file, newest first
	ListByDigest(ctx context.Context, digest string, limit int) ([]*RunSummary, error)

	// Delete removes a run together with its records and errors
	Delete(ctx context.Context, runID string) error
}
