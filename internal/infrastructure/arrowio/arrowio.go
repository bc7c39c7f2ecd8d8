// Package arrowio streams output records as an Apache Arrow IPC stream.
// Numeric columns are nullable: a not-applicable value is null, never 0.
package arrowio

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/apache/arrow/go/v18/arrow/memory"

	"github.com/asakaida/stepscope/internal/entities"
)

// DefaultBatchSize is the number of rows per record batch
const DefaultBatchSize = 1024

// Column positions in Schema
const (
	colType = iota
	colID
	colX
	colY
	colZ
	colSurfaceCurve
	colUMin
	colUMax
	colVMin
	colVMax
	colColor
	colAttributes
)

// Schema returns the Arrow schema of the record table. Field names follow
// entities.RecordColumns.
func Schema() *arrow.Schema {
	float := func(name string) arrow.Field {
		return arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64, Nullable: true}
	}
	return arrow.NewSchema([]arrow.Field{
		{Name: "Type", Type: arrow.BinaryTypes.String},
		{Name: "ID", Type: arrow.PrimitiveTypes.Int64},
		float("X"),
		float("Y"),
		float("Z"),
		{Name: "Surface/Curve", Type: arrow.BinaryTypes.String},
		float("Umin"),
		float("Umax"),
		float("Vmin"),
		float("Vmax"),
		{Name: "Color", Type: arrow.BinaryTypes.String},
		{Name: "Attributes", Type: arrow.BinaryTypes.String},
	}, nil)
}

// Writer buffers records and writes them as IPC record batches
type Writer struct {
	schema    *arrow.Schema
	builder   *array.RecordBuilder
	ipc       *ipc.Writer
	batchSize int
	pending   int
	written   int
	closed    bool
}

// Option configures a Writer
type Option func(*Writer)

// WithBatchSize sets the number of rows per record batch
func WithBatchSize(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// NewWriter creates a writer over out. Close must be called to flush the
// last batch and the end-of-stream marker.
func NewWriter(out io.Writer, opts ...Option) *Writer {
	pool := memory.NewGoAllocator()
	schema := Schema()
	w := &Writer{
		schema:    schema,
		builder:   array.NewRecordBuilder(pool, schema),
		ipc:       ipc.NewWriter(out, ipc.WithSchema(schema), ipc.WithAllocator(pool)),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write appends one record, flushing a batch when it is full
func (w *Writer) Write(rec *entities.OutputRecord) error {
	if w.closed {
		return fmt.Errorf("arrow writer is closed")
	}

	w.builder.Field(colType).(*array.StringBuilder).Append(string(rec.Type))
	w.builder.Field(colID).(*array.Int64Builder).Append(rec.ID)
	appendFloat(w.builder.Field(colX), rec.X)
	appendFloat(w.builder.Field(colY), rec.Y)
	appendFloat(w.builder.Field(colZ), rec.Z)
	w.builder.Field(colSurfaceCurve).(*array.StringBuilder).Append(rec.SurfaceCurve)
	appendFloat(w.builder.Field(colUMin), rec.UMin)
	appendFloat(w.builder.Field(colUMax), rec.UMax)
	appendFloat(w.builder.Field(colVMin), rec.VMin)
	appendFloat(w.builder.Field(colVMax), rec.VMax)
	w.builder.Field(colColor).(*array.StringBuilder).Append(rec.Color)
	w.builder.Field(colAttributes).(*array.StringBuilder).Append(rec.Attributes)

	w.pending++
	if w.pending >= w.batchSize {
		return w.Flush()
	}
	return nil
}

func appendFloat(b array.Builder, v *float64) {
	fb := b.(*array.Float64Builder)
	if v == nil {
		fb.AppendNull()
		return
	}
	fb.Append(*v)
}

// Flush writes the buffered rows as one record batch
func (w *Writer) Flush() error {
	if w.pending == 0 {
		return nil
	}

	batch := w.builder.NewRecord()
	defer batch.Release()

	if err := w.ipc.Write(batch); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	w.written += w.pending
	w.pending = 0
	return nil
}

// Rows returns the number of rows written to the stream so far
func (w *Writer) Rows() int {
	return w.written
}

// Close flushes pending rows and ends the stream. The underlying io.Writer
// is not closed.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.builder.Release()

	if err := w.Flush(); err != nil {
		return err
	}
	if err := w.ipc.Close(); err != nil {
		return fmt.Errorf("failed to close arrow stream: %w", err)
	}
	return nil
}

// WriteAll writes records to out as a complete stream
func WriteAll(out io.Writer, records []*entities.OutputRecord, opts ...Option) error {
	w := NewWriter(out, opts...)
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

// ReadAll decodes a stream written by Writer
func ReadAll(in io.Reader) ([]*entities.OutputRecord, error) {
	reader, err := ipc.NewReader(in, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("failed to open arrow stream: %w", err)
	}
	defer reader.Release()

	if err := checkSchema(reader.Schema()); err != nil {
		return nil, err
	}

	var out []*entities.OutputRecord
	for reader.Next() {
		batch := reader.Record()
		types := batch.Column(colType).(*array.String)
		ids := batch.Column(colID).(*array.Int64)
		surfaces := batch.Column(colSurfaceCurve).(*array.String)
		colors := batch.Column(colColor).(*array.String)
		attrs := batch.Column(colAttributes).(*array.String)

		for i := 0; i < int(batch.NumRows()); i++ {
			out = append(out, &entities.OutputRecord{
				Type:         entities.RecordType(types.Value(i)),
				ID:           ids.Value(i),
				X:            floatAt(batch, colX, i),
				Y:            floatAt(batch, colY, i),
				Z:            floatAt(batch, colZ, i),
				SurfaceCurve: surfaces.Value(i),
				UMin:         floatAt(batch, colUMin, i),
				UMax:         floatAt(batch, colUMax, i),
				VMin:         floatAt(batch, colVMin, i),
				VMax:         floatAt(batch, colVMax, i),
				Color:        colors.Value(i),
				Attributes:   attrs.Value(i),
			})
		}
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("failed to read arrow stream: %w", err)
	}
	return out, nil
}

func checkSchema(got *arrow.Schema) error {
	want := Schema()
	if got.NumFields() != want.NumFields() {
		return fmt.Errorf("unexpected arrow schema: %d fields, want %d", got.NumFields(), want.NumFields())
	}
	for i, f := range want.Fields() {
		if g := got.Field(i); g.Name != f.Name || !arrow.TypeEqual(g.Type, f.Type) {
			return fmt.Errorf("unexpected arrow field %d: %s", i, g)
		}
	}
	return nil
}

func floatAt(batch arrow.Record, col, row int) *float64 {
	arr := batch.Column(col).(*array.Float64)
	if arr.IsNull(row) {
		return nil
	}
	return entities.Float(arr.Value(row))
}
