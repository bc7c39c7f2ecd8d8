package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/asakaida/stepscope/internal/entities"
	"github.com/asakaida/stepscope/internal/infrastructure/config"
	"github.com/asakaida/stepscope/internal/infrastructure/metrics"
	"github.com/asakaida/stepscope/internal/infrastructure/objectstore"
	"github.com/asakaida/stepscope/internal/repositories"
	"github.com/asakaida/stepscope/internal/services/color"
	"github.com/asakaida/stepscope/internal/services/emitter"
	"github.com/asakaida/stepscope/internal/services/filter"
	"github.com/asakaida/stepscope/internal/services/geometry"
	"github.com/asakaida/stepscope/internal/services/parser"
	"github.com/asakaida/stepscope/internal/services/resolver"
	"github.com/asakaida/stepscope/pkg/cache"
)

// Session is one parsed exchange file. Its table is read-only once the
// session is returned and may be shared by concurrent extractions.
type Session struct {
	ID     string
	Name   string
	Digest string // hex SHA-256 of the file contents
	Size   int

	Header          *entities.Header
	Table           *entities.EntityTable
	ParseErrors     []*entities.ParseError
	ReferenceErrors []*entities.ReferenceError // from the post-parse audit
	Warnings        []string                   // structural findings, not errors

	ParsedAt time.Time
}

// SessionSizeOf estimates the memory held by a cached session
func SessionSizeOf(_ string, s *Session) int64 {
	// The table holds roughly four times the source text
	return int64(4*s.Size + 512)
}

// ExtractOptions controls one extraction run
type ExtractOptions struct {
	Geometry           geometry.Config
	IncludeEntities    bool
	AttributeMaxLength int
	Filter             string // CEL expression over record; empty keeps all
}

// DefaultExtractOptions builds options from the loaded configuration
func DefaultExtractOptions(cfg *config.Config) ExtractOptions {
	opts := ExtractOptions{Geometry: geometry.DefaultConfig(), IncludeEntities: true}
	if cfg == nil {
		return opts
	}
	opts.Geometry.KindOrder = cfg.Extract.KindOrder
	opts.Geometry.IndexBase = cfg.Extract.IndexBase
	opts.Geometry.Parallel = cfg.Extract.Parallel
	opts.Geometry.ElementTimeout = cfg.Extract.ElementTimeout
	opts.IncludeEntities = cfg.Extract.IncludeEntities
	return opts
}

// Result is the outcome of an extraction run
type Result struct {
	Report  *entities.Report
	Records []*entities.OutputRecord
}

// ExtractionServiceInterface defines the parse and extract operations
type ExtractionServiceInterface interface {
	ParseFile(ctx context.Context, path string) (*Session, error)
	Parse(ctx context.Context, name string, data []byte) (*Session, error)
	Lookup(ctx context.Context, digest string) (*Session, bool)
	Extract(ctx context.Context, session *Session, oracle geometry.Oracle, opts ExtractOptions) (*Result, error)
	Run(ctx context.Context, path string, opts ExtractOptions) (*Result, error)
}

// ObjectSource reads whole objects named by s3:// URIs
type ObjectSource interface {
	Get(ctx context.Context, uri string) ([]byte, error)
}

// ExtractionService parses exchange files into sessions and runs geometry
// extractions over them
type ExtractionService struct {
	cfg       *config.Config
	sessions  cache.Cache[*Session]
	collector *metrics.Collector
	runs      repositories.RunRepository
	objects   ObjectSource
	logger    *zap.Logger
}

// NewExtractionService creates a new ExtractionService. sessions, collector
// and logger may be nil.
func NewExtractionService(cfg *config.Config, sessions cache.Cache[*Session], collector *metrics.Collector, logger *zap.Logger) *ExtractionService {
	if cfg == nil {
		cfg = &config.Config{Parse: config.ParseConfig{AuditReferences: true}}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtractionService{
		cfg:       cfg,
		sessions:  sessions,
		collector: collector,
		logger:    logger,
	}
}

// SetRunRepository persists every subsequent extraction run
func (s *ExtractionService) SetRunRepository(runs repositories.RunRepository) {
	s.runs = runs
}

// SetObjectSource enables s3:// paths in ParseFile
func (s *ExtractionService) SetObjectSource(objects ObjectSource) {
	s.objects = objects
}

// ParseFile reads and parses the file at path, a local path or an s3:// URI.
// A missing or unreadable file is a fatal IOError.
func (s *ExtractionService) ParseFile(ctx context.Context, path string) (*Session, error) {
	data, err := s.readInput(ctx, path)
	if err != nil {
		kind := entities.ReadFailure
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, objectstore.ErrNotFound) {
			kind = entities.FileNotFound
		}
		return nil, &entities.IOError{Kind: kind, Path: path, Err: err}
	}

	session, err := s.Parse(ctx, filepath.Base(path), data)
	if err != nil {
		var ioErr *entities.IOError
		if errors.As(err, &ioErr) && ioErr.Path == "" {
			ioErr.Path = path
		}
		return nil, err
	}
	return session, nil
}

func (s *ExtractionService) readInput(ctx context.Context, path string) ([]byte, error) {
	if !objectstore.IsURI(path) {
		return os.ReadFile(path)
	}
	if s.objects == nil {
		return nil, errors.New("object storage is not configured (set S3_ENABLED)")
	}
	return s.objects.Get(ctx, path)
}

// Parse parses file contents into a session. Sessions are cached by
// content digest. A cache hit under a different name returns a copy that
// carries the new name and shares the parsed table.
func (s *ExtractionService) Parse(ctx context.Context, name string, data []byte) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if session, ok := s.Lookup(ctx, digest); ok {
		s.logger.Debug("parse session cache hit",
			zap.String("session_id", session.ID),
			zap.String("digest", digest),
		)
		if session.Name != name {
			renamed := *session
			renamed.Name = name
			return &renamed, nil
		}
		return session, nil
	}

	file, err := parser.NewParser(parser.NewLexer(string(data)), parser.WithStrict(s.cfg.Parse.Strict)).Parse()
	if err != nil {
		var ioErr *entities.IOError
		if errors.As(err, &ioErr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}

	header, err := parser.ASTToHeader(file.Header)
	if err != nil {
		return nil, &entities.IOError{Kind: entities.UnreadableHeader, Err: err}
	}

	table, conversionErrs := parser.ASTToTable(file)
	session := &Session{
		ID:          uuid.NewString(),
		Name:        name,
		Digest:      digest,
		Size:        len(data),
		Header:      header,
		Table:       table,
		ParseErrors: append(file.Errors, conversionErrs...),
		ParsedAt:    time.Now(),
	}

	validator := parser.NewValidator(file)
	if err := validator.Validate(); err != nil {
		session.Warnings = validator.Findings()
	}
	if s.cfg.Parse.AuditReferences {
		session.ReferenceErrors = resolver.New(table).Audit()
	}

	if s.collector != nil {
		s.collector.RecordParse(table.Len(), len(session.ParseErrors), len(session.ReferenceErrors))
	}
	s.logger.Info("parsed file",
		zap.String("session_id", session.ID),
		zap.String("name", name),
		zap.Int("entities", table.Len()),
		zap.Int("parse_errors", len(session.ParseErrors)),
		zap.Int("reference_errors", len(session.ReferenceErrors)),
		zap.Int("warnings", len(session.Warnings)),
	)

	if s.sessions != nil {
		if err := s.sessions.Set(ctx, digest, session, 0); err != nil {
			s.logger.Warn("failed to cache parse session", zap.String("session_id", session.ID), zap.Error(err))
		}
	}
	return session, nil
}

// Lookup returns a cached session by content digest
func (s *ExtractionService) Lookup(ctx context.Context, digest string) (*Session, bool) {
	if s.sessions == nil {
		return nil, false
	}
	return s.sessions.Get(ctx, digest)
}

// Extract runs the geometry extraction over a session. A nil oracle derives
// geometry from the entity table. Oracle failures are reported in the result
// and never fail the run; a cancelled context yields a truncated result.
func (s *ExtractionService) Extract(ctx context.Context, session *Session, oracle geometry.Oracle, opts ExtractOptions) (*Result, error) {
	if session == nil || session.Table == nil {
		return nil, fmt.Errorf("session is required")
	}

	var recordFilter *filter.Filter
	if opts.Filter != "" {
		f, err := filter.New(opts.Filter)
		if err != nil {
			return nil, err
		}
		recordFilter = f
	}

	started := time.Now()
	res := resolver.New(session.Table)
	if oracle == nil {
		oracle = geometry.NewTableOracle(session.Table, res)
	}

	report := &entities.Report{
		SessionID:   session.ID,
		RunID:       uuid.NewString(),
		FileName:    session.Name,
		Digest:      session.Digest,
		Header:      session.Header,
		EntityCount: session.Table.Len(),
		ParseErrors: session.ParseErrors,
		StartedAt:   started,
	}

	// The color map is built once and shared read-only by every kind
	var colors geometry.ColorLookup
	assignments, colorErr := geometry.ReadColorTable(ctx, oracle, opts.Geometry.ElementTimeout)
	if colorErr != nil {
		s.logger.Warn("color table unavailable", zap.String("session_id", session.ID), zap.Error(colorErr))
		colors = color.Unavailable{}
		report.GeometryErrors = append(report.GeometryErrors, colorErr)
	} else {
		m := color.Build(assignments)
		colors = m
		report.ShadowedColors = m.Shadowed()
	}

	extractor, err := geometry.NewExtractor(oracle, colors, opts.Geometry, s.logger)
	if err != nil {
		return nil, err
	}
	extraction := extractor.Extract(ctx)

	records := emitter.New(emitter.Options{
		IncludeEntities:    opts.IncludeEntities,
		AttributeMaxLength: opts.AttributeMaxLength,
		Filter:             recordFilter,
	}, s.logger).Emit(session.Table, extraction)

	report.TotalCounts = make(map[entities.ShapeKind]int, len(extraction.Stats))
	report.FailedCounts = make(map[entities.ShapeKind]int, len(extraction.Stats))
	for kind, stats := range extraction.Stats {
		report.TotalCounts[kind] = stats.Total
		report.FailedCounts[kind] = stats.Failed
	}
	report.GeometryErrors = append(report.GeometryErrors, extraction.Errors...)
	report.ReferenceErrors = mergeReferenceErrors(session.ReferenceErrors, res.Errors())
	report.Truncated = extraction.Truncated
	report.RecordCount = len(records)
	report.Duration = time.Since(started)

	if s.collector != nil {
		s.collector.RecordExtraction(extraction.Stats, extraction.Truncated)
	}
	s.logger.Info("extracted geometry",
		zap.String("session_id", session.ID),
		zap.String("run_id", report.RunID),
		zap.Int("elements", report.Total()),
		zap.Int("records", report.RecordCount),
		zap.Int("errors", report.ErrorCount()),
		zap.Bool("truncated", report.Truncated),
		zap.Duration("duration", report.Duration),
	)

	result := &Result{Report: report, Records: records}
	if s.runs != nil {
		// A truncated run is still worth keeping; the caller's context may be gone
		saveCtx := context.WithoutCancel(ctx)
		if err := s.runs.Save(saveCtx, report, records); err != nil {
			return result, fmt.Errorf("failed to save run %s: %w", report.RunID, err)
		}
	}
	return result, nil
}

// Run parses the file at path and extracts it with the table-derived oracle
func (s *ExtractionService) Run(ctx context.Context, path string, opts ExtractOptions) (*Result, error) {
	session, err := s.ParseFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return s.Extract(ctx, session, nil, opts)
}

type referenceKey struct {
	kind         entities.ReferenceErrorKind
	from, target uint64
}

// mergeReferenceErrors concatenates error lists, dropping repeats of the
// same (kind, from, target)
func mergeReferenceErrors(lists ...[]*entities.ReferenceError) []*entities.ReferenceError {
	seen := make(map[referenceKey]bool)
	var out []*entities.ReferenceError
	for _, list := range lists {
		for _, e := range list {
			key := referenceKey{e.Kind, e.From, e.Target}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, e)
		}
	}
	return out
}
