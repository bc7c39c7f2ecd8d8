package entities

import (
	"time"
)

// Report summarizes one extraction run
type Report struct {
	SessionID   string
	RunID       string
	FileName    string
	Digest      string
	Header      *Header
	EntityCount int

	TotalCounts  map[ShapeKind]int
	FailedCounts map[ShapeKind]int

	ParseErrors     []*ParseError
	ReferenceErrors []*ReferenceError
	GeometryErrors  []*GeometryError

	Truncated      bool
	ShadowedColors int
	RecordCount    int

	StartedAt time.Time
	Duration  time.Duration
}

// ErrorCount returns the number of recoverable errors of all categories
func (r *Report) ErrorCount() int {
	return len(r.ParseErrors) + len(r.ReferenceErrors) + len(r.GeometryErrors)
}

// Total returns the total element count over all kinds
func (r *Report) Total() int {
	n := 0
	for _, c := range r.TotalCounts {
		n += c
	}
	return n
}
