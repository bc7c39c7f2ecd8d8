package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/stepscope/internal/entities"
	"github.com/asakaida/stepscope/internal/infrastructure/metrics"
	"github.com/asakaida/stepscope/internal/infrastructure/objectstore"
	"github.com/asakaida/stepscope/internal/repositories"
	"github.com/asakaida/stepscope/internal/services/geometry"
	"github.com/asakaida/stepscope/pkg/cache/memorycache"
)

const platePath = "geometry/testdata/plate.stp"

func stepFile(data string) []byte {
	return []byte("ISO-10303-21;\nHEADER;\n" +
		"FILE_DESCRIPTION((''),'2;1');\n" +
		"FILE_NAME('t.stp','',(''),(''),'','','');\n" +
		"FILE_SCHEMA(('CONFIG_CONTROL_DESIGN'));\n" +
		"ENDSEC;\nDATA;\n" + data + "ENDSEC;\nEND-ISO-10303-21;\n")
}

func newTestService(t *testing.T) (*ExtractionService, *metrics.Collector) {
	t.Helper()
	sessions, err := memorycache.New(&memorycache.Config[*Session]{
		MaxSizeBytes:  1 << 20,
		DefaultTTL:    time.Minute,
		EnableMetrics: true,
		SizeOf:        SessionSizeOf,
	})
	require.NoError(t, err)

	collector := metrics.NewCollector()
	collector.SetCache(sessions)
	return NewExtractionService(nil, sessions, collector, nil), collector
}

// recordingRuns is an in-memory RunRepository
type recordingRuns struct {
	repositories.RunRepository
	mu      sync.Mutex
	reports []*entities.Report
	records int
	err     error
}

func (r *recordingRuns) Save(_ context.Context, report *entities.Report, records []*entities.OutputRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.reports = append(r.reports, report)
	r.records += len(records)
	return nil
}

func TestExtractionService_RunPlate(t *testing.T) {
	svc, collector := newTestService(t)

	result, err := svc.Run(context.Background(), platePath, DefaultExtractOptions(nil))
	require.NoError(t, err)

	report := result.Report
	assert.Equal(t, "plate.stp", report.FileName)
	assert.Len(t, report.Digest, 64)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "AUTOMOTIVE_DESIGN { 1 0 10303 214 1 1 1 1 }", report.Header.Schema())

	assert.Equal(t, map[entities.ShapeKind]int{
		entities.ShapeEdge: 6, entities.ShapeFace: 2, entities.ShapeSolid: 1, entities.ShapeVertex: 4,
	}, report.TotalCounts)
	assert.Equal(t, 1, report.FailedCounts[entities.ShapeEdge])
	require.Len(t, report.GeometryErrors, 1)
	assert.Equal(t, geometry.OpEdgeParams, report.GeometryErrors[0].Op)
	assert.Empty(t, report.ParseErrors)
	assert.Empty(t, report.ReferenceErrors)
	assert.False(t, report.Truncated)

	assert.Equal(t, report.EntityCount+13, report.RecordCount)
	assert.Len(t, result.Records, report.RecordCount)

	var faces []*entities.OutputRecord
	for _, r := range result.Records {
		if r.Type == entities.RecordFace {
			faces = append(faces, r)
		}
	}
	require.Len(t, faces, 2)
	assert.Equal(t, "1 0 0", faces[0].Color, "face inherits its solid's color")
	assert.Equal(t, "Not Found", faces[1].Color)

	pipeline := collector.GetPipelineMetrics()
	assert.Equal(t, uint64(1), pipeline.FilesParsed)
	assert.Equal(t, uint64(1), pipeline.Runs)
	assert.Equal(t, uint64(6), pipeline.Elements["Edge"])
}

func TestExtractionService_ParseFileErrors(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ParseFile(context.Background(), "testdata/does-not-exist.stp")
	assert.True(t, entities.IsIOError(err, entities.FileNotFound), "got %v", err)

	_, err = svc.ParseFile(context.Background(), t.TempDir())
	assert.True(t, entities.IsIOError(err, entities.ReadFailure), "got %v", err)
}

func TestExtractionService_UnreadableHeader(t *testing.T) {
	svc, collector := newTestService(t)

	session, err := svc.Parse(context.Background(), "bad.stp", []byte("ISO-10303-21;\nDATA;\n#1=FOO();\nENDSEC;\n"))
	assert.Nil(t, session, "no partial table")
	assert.True(t, entities.IsIOError(err, entities.UnreadableHeader), "got %v", err)
	assert.Zero(t, collector.GetPipelineMetrics().FilesParsed)
}

func TestExtractionService_SessionCache(t *testing.T) {
	svc, collector := newTestService(t)
	ctx := context.Background()
	data := stepFile("#1=CARTESIAN_POINT('',(0.,0.,0.));\n")

	first, err := svc.Parse(ctx, "a.stp", data)
	require.NoError(t, err)
	second, err := svc.Parse(ctx, "b.stp", data)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "a.stp", first.Name)
	assert.Equal(t, "b.stp", second.Name, "a cache hit keeps the caller's file name")
	assert.Same(t, first.Table, second.Table)
	assert.Equal(t, uint64(1), collector.GetPipelineMetrics().FilesParsed)
	assert.Equal(t, uint64(1), collector.GetCacheMetrics().Hits)

	cached, ok := svc.Lookup(ctx, first.Digest)
	require.True(t, ok)
	assert.Same(t, first, cached)

	_, ok = svc.Lookup(ctx, "unknown")
	assert.False(t, ok)

	result, err := svc.Extract(ctx, second, nil, DefaultExtractOptions(nil))
	require.NoError(t, err)
	assert.Equal(t, "b.stp", result.Report.FileName)
}

func TestExtractionService_ParseRecoversMalformedRecords(t *testing.T) {
	svc, _ := newTestService(t)

	session, err := svc.Parse(context.Background(), "m.stp", stepFile(
		"#1=CARTESIAN_POINT('',(0.,0.,0.));\n"+
			"#2=CARTESIAN_POINT('',(1.,0.,0.);\n"+
			"#3=VERTEX_POINT('',#1);\n"+
			"#3=VERTEX_POINT('',#1);\n"))
	require.NoError(t, err)

	assert.Equal(t, 2, session.Table.Len())
	require.Len(t, session.ParseErrors, 2)
	kinds := []entities.ParseErrorKind{session.ParseErrors[0].Kind, session.ParseErrors[1].Kind}
	assert.Contains(t, kinds, entities.ParseErrorDuplicateEntityID)
}

func TestExtractionService_ReferenceErrorsMerged(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Parse(ctx, "d.stp", stepFile("#1=VERTEX_POINT('',#42);\n"))
	require.NoError(t, err)
	require.Len(t, session.ReferenceErrors, 1)

	result, err := svc.Extract(ctx, session, nil, DefaultExtractOptions(nil))
	require.NoError(t, err)

	require.Len(t, result.Report.ReferenceErrors, 1, "audit and extraction report the same reference once")
	assert.Equal(t, entities.DanglingReference, result.Report.ReferenceErrors[0].Kind)
	assert.Equal(t, 1, result.Report.FailedCounts[entities.ShapeVertex])
}

func TestExtractionService_Filter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	session, err := svc.ParseFile(ctx, platePath)
	require.NoError(t, err)

	opts := DefaultExtractOptions(nil)
	opts.Filter = `record.type == "Face" && record.surface == "PLANE"`
	result, err := svc.Extract(ctx, session, nil, opts)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, int64(1), result.Records[0].ID)

	opts.Filter = `record.type +`
	_, err = svc.Extract(ctx, session, nil, opts)
	assert.Error(t, err)
}

func TestExtractionService_ColorTableUnavailable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	session, err := svc.Parse(ctx, "c.stp", stepFile("#1=CARTESIAN_POINT('',(0.,0.,0.));\n"))
	require.NoError(t, err)

	oracle := geometry.NewMockOracle().WithCount(entities.ShapeFace, 3)
	oracle.ColorErr = errors.New("kernel has no style table")

	opts := DefaultExtractOptions(nil)
	opts.IncludeEntities = false
	result, err := svc.Extract(ctx, session, oracle, opts)
	require.NoError(t, err)

	require.Len(t, result.Records, 3)
	for _, r := range result.Records {
		assert.Equal(t, "Unavailable", r.Color)
	}
	require.Len(t, result.Report.GeometryErrors, 1)
	assert.Equal(t, geometry.OpColorTable, result.Report.GeometryErrors[0].Op)
}

func TestExtractionService_ShadowedColors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	session, err := svc.Parse(ctx, "s.stp", stepFile("#1=CARTESIAN_POINT('',(0.,0.,0.));\n"))
	require.NoError(t, err)

	oracle := geometry.NewMockOracle().
		WithCount(entities.ShapeFace, 1).
		WithColor("Face-1", entities.ColorGeneric, entities.RGB{R: 1}).
		WithColor("Face-1", entities.ColorGeneric, entities.RGB{G: 1})

	opts := DefaultExtractOptions(nil)
	opts.IncludeEntities = false
	result, err := svc.Extract(ctx, session, oracle, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Report.ShadowedColors)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "1 0 0", result.Records[0].Color, "first assignment wins")
}

func TestExtractionService_Cancelled(t *testing.T) {
	svc, _ := newTestService(t)
	session, err := svc.ParseFile(context.Background(), platePath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.Extract(ctx, session, nil, DefaultExtractOptions(nil))
	require.NoError(t, err)
	assert.True(t, result.Report.Truncated)
	assert.Zero(t, result.Report.Total())
}

func TestExtractionService_PersistsRuns(t *testing.T) {
	svc, _ := newTestService(t)
	runs := &recordingRuns{}
	svc.SetRunRepository(runs)

	result, err := svc.Run(context.Background(), platePath, DefaultExtractOptions(nil))
	require.NoError(t, err)
	require.Len(t, runs.reports, 1)
	assert.Same(t, result.Report, runs.reports[0])
	assert.Equal(t, result.Report.RecordCount, runs.records)

	runs.err = errors.New("connection refused")
	result, err = svc.Run(context.Background(), platePath, DefaultExtractOptions(nil))
	assert.ErrorContains(t, err, "connection refused")
	assert.NotNil(t, result, "the extraction result survives a failed save")
}

func TestExtractionService_RequiresSession(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Extract(context.Background(), nil, nil, DefaultExtractOptions(nil))
	assert.Error(t, err)
}

// memoryObjects is an ObjectSource over a fixed map
type memoryObjects map[string][]byte

func (m memoryObjects) Get(_ context.Context, uri string) ([]byte, error) {
	data, ok := m[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", objectstore.ErrNotFound, uri)
	}
	return data, nil
}

func TestExtractionService_ParseObject(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	uri := "s3://parts/2024/v.stp"

	_, err := svc.ParseFile(ctx, uri)
	assert.True(t, entities.IsIOError(err, entities.ReadFailure), "no object source configured")

	svc.SetObjectSource(memoryObjects{uri: stepFile("#1=CARTESIAN_POINT('',(0.,0.,0.));\n#2=VERTEX_POINT('',#1);\n")})

	session, err := svc.ParseFile(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, "v.stp", session.Name)
	assert.Equal(t, 2, session.Table.Len())

	_, err = svc.ParseFile(ctx, "s3://parts/missing.stp")
	assert.True(t, entities.IsIOError(err, entities.FileNotFound))
	var ioErr *entities.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "s3://parts/missing.stp", ioErr.Path)
}
