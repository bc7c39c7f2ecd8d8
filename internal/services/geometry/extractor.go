package geometry

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/asakaida/stepscope/internal/entities"
)

// Config controls a geometry extraction
type Config struct {
	// KindOrder is the order in which kinds are grouped in the output
	KindOrder []entities.ShapeKind
	// IndexBase is the first sequence index of every kind, 0 or 1
	IndexBase int
	// Parallel traverses kinds concurrently
	Parallel bool
	// ElementTimeout bounds each oracle call; zero disables the bound
	ElementTimeout time.Duration
}

// DefaultConfig returns the default extraction settings
func DefaultConfig() Config {
	return Config{
		KindOrder: append([]entities.ShapeKind(nil), entities.DefaultKindOrder...),
		IndexBase: 1,
		Parallel:  true,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if len(c.KindOrder) == 0 {
		return fmt.Errorf("kind order is empty")
	}
	seen := make(map[entities.ShapeKind]bool)
	for _, kind := range c.KindOrder {
		if kind == entities.ShapeUnknown {
			return fmt.Errorf("kind order contains an unknown kind")
		}
		if seen[kind] {
			return fmt.Errorf("kind %s listed twice", kind)
		}
		seen[kind] = true
	}
	if c.IndexBase != 0 && c.IndexBase != 1 {
		return fmt.Errorf("index base must be 0 or 1, got %d", c.IndexBase)
	}
	if c.ElementTimeout < 0 {
		return fmt.Errorf("element timeout must not be negative")
	}
	return nil
}

// Extraction is the result of one extraction run
type Extraction struct {
	Order     []entities.ShapeKind
	Summaries map[entities.ShapeKind][]*entities.GeometricSummary
	Stats     map[entities.ShapeKind]entities.KindStats
	Errors    []*entities.GeometryError // In kind order, then element order
	Truncated bool                      // Cancelled before every element was visited
}

// All yields every summary grouped by kind order, each kind in sequence order
func (x *Extraction) All() iter.Seq[*entities.GeometricSummary] {
	return func(yield func(*entities.GeometricSummary) bool) {
		for _, kind := range x.Order {
			for _, s := range x.Summaries[kind] {
				if !yield(s) {
					return
				}
			}
		}
	}
}

// Count returns the number of summaries over all kinds
func (x *Extraction) Count() int {
	n := 0
	for _, summaries := range x.Summaries {
		n += len(summaries)
	}
	return n
}

// Extractor drives an Oracle over every requested kind and aggregates
// per-element summaries. Oracle failures are recorded per element and never
// abort the run.
type Extractor struct {
	oracle Oracle
	colors ColorLookup
	cfg    Config
	logger *zap.Logger
}

// NewExtractor creates a new Extractor. colors may be nil, in which case no
// element has a color.
func NewExtractor(oracle Oracle, colors ColorLookup, cfg Config, logger *zap.Logger) (*Extractor, error) {
	if oracle == nil {
		return nil, fmt.Errorf("oracle is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid extraction config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		oracle: oracle,
		colors: colors,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// kindResult is the outcome of traversing one kind
type kindResult struct {
	summaries []*entities.GeometricSummary
	errors    []*entities.GeometryError
	stats     entities.KindStats
	truncated bool
}

// Extract visits every element of every configured kind. Cancellation is
// checked between elements; a cancelled run returns the elements visited so
// far with Truncated set.
func (x *Extractor) Extract(ctx context.Context) *Extraction {
	results := make([]kindResult, len(x.cfg.KindOrder))

	if x.cfg.Parallel {
		var g errgroup.Group
		for i, kind := range x.cfg.KindOrder {
			g.Go(func() error {
				results[i] = x.extractKind(ctx, kind)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, kind := range x.cfg.KindOrder {
			results[i] = x.extractKind(ctx, kind)
		}
	}

	extraction := &Extraction{
		Order:     x.cfg.KindOrder,
		Summaries: make(map[entities.ShapeKind][]*entities.GeometricSummary, len(results)),
		Stats:     make(map[entities.ShapeKind]entities.KindStats, len(results)),
	}
	for i, kind := range x.cfg.KindOrder {
		r := results[i]
		extraction.Summaries[kind] = r.summaries
		extraction.Stats[kind] = r.stats
		extraction.Errors = append(extraction.Errors, r.errors...)
		extraction.Truncated = extraction.Truncated || r.truncated

		x.logger.Debug("extracted kind",
			zap.Stringer("kind", kind),
			zap.Int("total", r.stats.Total),
			zap.Int("failed", r.stats.Failed),
			zap.Bool("truncated", r.truncated),
		)
	}
	return extraction
}

// extractKind traverses one kind with its own iteration cursor
func (x *Extractor) extractKind(ctx context.Context, kind entities.ShapeKind) kindResult {
	var result kindResult
	if ctx.Err() != nil {
		result.truncated = true
		return result
	}

	index := x.cfg.IndexBase
	for ref, err := range x.oracle.Iterate(ctx, kind) {
		if ctx.Err() != nil {
			result.truncated = true
			break
		}
		if err != nil {
			result.errors = append(result.errors, &entities.GeometryError{
				Kind: kind, Index: -1, Op: OpIterate, Reason: err.Error(), Err: err,
			})
			continue
		}

		summary := x.summarize(ctx, kind, index, ref)
		if ctx.Err() != nil {
			// The element was interrupted midway; it is not part of the result
			result.truncated = true
			break
		}

		result.summaries = append(result.summaries, summary)
		result.errors = append(result.errors, summary.Errors...)
		result.stats.Total++
		if summary.Failed() {
			result.stats.Failed++
		}
		index++
	}
	if ctx.Err() != nil {
		result.truncated = true
	}
	return result
}

// summarize evaluates one element. Each failed oracle call leaves its field
// nil and adds a GeometryError.
func (x *Extractor) summarize(ctx context.Context, kind entities.ShapeKind, index int, ref ElementRef) *entities.GeometricSummary {
	s := &entities.GeometricSummary{
		Kind:          kind,
		SequenceIndex: index,
		Handle:        ref.Handle,
		Labels:        ref.Labels,
	}
	fail := func(op string, err error) {
		s.Errors = append(s.Errors, &entities.GeometryError{
			Kind: kind, Index: index, Op: op, Reason: err.Error(), Err: err,
		})
	}

	centroid, err := invoke(ctx, x.cfg.ElementTimeout, func(ctx context.Context) (entities.Vec3, error) {
		return x.oracle.Centroid(ctx, ref)
	})
	if err != nil {
		fail(OpCentroid, err)
	} else {
		s.Centroid = &centroid
	}

	switch kind {
	case entities.ShapeFace:
		bounds, err := invoke(ctx, x.cfg.ElementTimeout, func(ctx context.Context) (entities.FaceBounds, error) {
			return x.oracle.FaceBounds(ctx, ref)
		})
		if err != nil {
			fail(OpFaceBounds, err)
		} else {
			s.FaceBounds = &bounds
		}
	case entities.ShapeEdge:
		params, err := invoke(ctx, x.cfg.ElementTimeout, func(ctx context.Context) (entities.EdgeParams, error) {
			return x.oracle.EdgeParams(ctx, ref)
		})
		if err != nil {
			fail(OpEdgeParams, err)
		} else {
			s.EdgeParams = &params
		}
	}

	if describer, ok := x.oracle.(Describer); ok {
		desc, err := invoke(ctx, x.cfg.ElementTimeout, func(ctx context.Context) (string, error) {
			return describer.Describe(ctx, ref)
		})
		if err != nil {
			fail(OpDescribe, err)
		} else {
			s.Description = desc
		}
	}

	if x.colors != nil {
		s.Color, s.ColorStatus = x.colors.Lookup(ref.Labels)
	} else {
		s.ColorStatus = entities.ColorNotFound
	}

	return s
}
