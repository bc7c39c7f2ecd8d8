package emitter

import (
	"iter"

	"go.uber.org/zap"

	"github.com/asakaida/stepscope/internal/entities"
	"github.com/asakaida/stepscope/internal/services/filter"
	"github.com/asakaida/stepscope/internal/services/geometry"
	"github.com/asakaida/stepscope/internal/services/parser"
)

// Options controls which records are emitted
type Options struct {
	// IncludeEntities emits one Entity row per table entity before the
	// geometry rows
	IncludeEntities bool
	// AttributeMaxLength truncates the Attributes column; zero keeps it whole
	AttributeMaxLength int
	// Filter drops records it does not match; nil keeps every record
	Filter *filter.Filter
}

// Emitter merges entity rows and geometric summaries into one ordered
// record sequence. It performs no I/O.
type Emitter struct {
	opts      Options
	generator *parser.Generator
	logger    *zap.Logger
}

// New creates a new Emitter
func New(opts Options, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		opts:      opts,
		generator: parser.NewGenerator(opts.AttributeMaxLength),
		logger:    logger,
	}
}

// Emit returns every record: Entity rows in file order, then geometry rows
// grouped by the extraction's kind order, each kind in sequence order.
// table or extraction may be nil.
func (e *Emitter) Emit(table *entities.EntityTable, extraction *geometry.Extraction) []*entities.OutputRecord {
	var records []*entities.OutputRecord
	for r := range e.Producer(table, extraction) {
		records = append(records, r)
	}
	return records
}

// Producer yields the records of Emit lazily. The sequence may be ranged
// over any number of times.
func (e *Emitter) Producer(table *entities.EntityTable, extraction *geometry.Extraction) iter.Seq[*entities.OutputRecord] {
	return func(yield func(*entities.OutputRecord) bool) {
		if e.opts.IncludeEntities && table != nil {
			for _, entity := range table.Entities() {
				if !e.emit(yield, e.EntityRecord(entity)) {
					return
				}
			}
		}
		if extraction == nil {
			return
		}
		for summary := range extraction.All() {
			if !e.emit(yield, SummaryRecord(summary)) {
				return
			}
		}
	}
}

// emit applies the filter and yields r; it returns false when the consumer
// stopped
func (e *Emitter) emit(yield func(*entities.OutputRecord) bool, r *entities.OutputRecord) bool {
	if e.opts.Filter != nil {
		ok, err := e.opts.Filter.Match(r)
		if err != nil {
			e.logger.Warn("filter evaluation failed, record dropped",
				zap.String("type", string(r.Type)),
				zap.Int64("id", r.ID),
				zap.Error(err),
			)
			return true
		}
		if !ok {
			return true
		}
	}
	return yield(r)
}

// EntityRecord builds the Entity row of a table entity
func (e *Emitter) EntityRecord(entity *entities.Entity) *entities.OutputRecord {
	return &entities.OutputRecord{
		Type:         entities.RecordEntity,
		ID:           int64(entity.ID),
		SurfaceCurve: entity.TypeName(),
		Attributes:   e.generator.GenerateAttributes(entity),
	}
}

// SummaryRecord builds the geometry row of a summary. Edge parameters fill
// the Umin and Umax columns.
func SummaryRecord(s *entities.GeometricSummary) *entities.OutputRecord {
	recordType, _ := entities.RecordTypeForKind(s.Kind)
	r := &entities.OutputRecord{
		Type:         recordType,
		ID:           int64(s.SequenceIndex),
		SurfaceCurve: s.Description,
		Color:        ColorCell(s.Color, s.ColorStatus),
	}
	if s.Centroid != nil {
		r.X, r.Y, r.Z = entities.Float(s.Centroid.X), entities.Float(s.Centroid.Y), entities.Float(s.Centroid.Z)
	}
	if s.FaceBounds != nil {
		r.UMin, r.UMax = entities.Float(s.FaceBounds.UMin), entities.Float(s.FaceBounds.UMax)
		r.VMin, r.VMax = entities.Float(s.FaceBounds.VMin), entities.Float(s.FaceBounds.VMax)
	}
	if s.EdgeParams != nil {
		r.UMin, r.UMax = entities.Float(s.EdgeParams.First), entities.Float(s.EdgeParams.Last)
	}
	return r
}

// ColorCell renders the Color column: "R G B" for a found color, otherwise
// the status text
func ColorCell(c *entities.RGB, status entities.ColorStatus) string {
	if status == entities.ColorFound && c != nil {
		return c.String()
	}
	if status == entities.ColorFound {
		return entities.ColorNotFound.String()
	}
	return status.String()
}
