package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/stepscope/internal/entities"
	"github.com/asakaida/stepscope/internal/services"
	"github.com/asakaida/stepscope/internal/services/filter"
)

// === Request decoding ===

func stringField(req *structpb.Struct, name string) (string, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return "", nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%s must be a string", name)
	}
	return s.StringValue, nil
}

func boolField(req *structpb.Struct, name string) (value, present bool, err error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return false, false, nil
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, false, fmt.Errorf("%s must be a boolean", name)
	}
	return b.BoolValue, true, nil
}

func intField(req *structpb.Struct, name string) (value int, present bool, err error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, false, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, false, fmt.Errorf("%s must be an integer", name)
	}
	return int(n.NumberValue), true, nil
}

func stringListField(req *structpb.Struct, name string) ([]string, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return nil, nil
	}
	list, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, fmt.Errorf("%s must be a list of strings", name)
	}
	out := make([]string, 0, len(list.ListValue.GetValues()))
	for i, item := range list.ListValue.GetValues() {
		s, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be a string", name, i)
		}
		out = append(out, s.StringValue)
	}
	return out, nil
}

// === Response encoding ===

func stringsToList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func errorsToList[E error](errs []E) []any {
	out := make([]any, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}

func floatOrNull(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func headerToMap(h *entities.Header) map[string]any {
	if h == nil {
		return map[string]any{}
	}
	return map[string]any{
		"description":          stringsToList(h.Description),
		"implementation_level": h.ImplementationLevel,
		"file_name":            h.FileName,
		"time_stamp":           h.TimeStamp,
		"author":               stringsToList(h.Author),
		"organization":         stringsToList(h.Organization),
		"preprocessor_version": h.PreprocessorVersion,
		"originating_system":   h.OriginatingSystem,
		"authorization":        h.Authorization,
		"schemas":              stringsToList(h.Schemas),
	}
}

func sessionToMap(s *services.Session) map[string]any {
	types := make(map[string]any)
	for name, n := range s.Table.CountByType() {
		types[name] = n
	}
	return map[string]any{
		"session_id":       s.ID,
		"name":             s.Name,
		"digest":           s.Digest,
		"size":             s.Size,
		"entity_count":     s.Table.Len(),
		"entity_types":     types,
		"header":           headerToMap(s.Header),
		"parse_errors":     errorsToList(s.ParseErrors),
		"reference_errors": errorsToList(s.ReferenceErrors),
		"warnings":         stringsToList(s.Warnings),
	}
}

func recordToMap(r *entities.OutputRecord) map[string]any {
	return map[string]any{
		"type":          string(r.Type),
		"id":            r.ID,
		"x":             floatOrNull(r.X),
		"y":             floatOrNull(r.Y),
		"z":             floatOrNull(r.Z),
		"surface_curve": r.SurfaceCurve,
		"umin":          floatOrNull(r.UMin),
		"umax":          floatOrNull(r.UMax),
		"vmin":          floatOrNull(r.VMin),
		"vmax":          floatOrNull(r.VMax),
		"color":         r.Color,
		"attributes":    r.Attributes,
	}
}

func reportToMap(r *entities.Report) map[string]any {
	totals := make(map[string]any, len(r.TotalCounts))
	failed := make(map[string]any, len(r.FailedCounts))
	for kind, n := range r.TotalCounts {
		totals[kind.String()] = n
	}
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
		"parse_errors":     errorsToList(r.ParseErrors),
		"reference_errors": errorsToList(r.ReferenceErrors),
		"geometry_errors":  errorsToList(r.GeometryErrors),
		"truncated":        r.Truncated,
		"shadowed_colors":  r.ShadowedColors,
		"record_count":     r.RecordCount,
		"duration_ms":      r.Duration.Milliseconds(),
	}
}

// === Error mapping ===

// toStatusError maps a service error to a gRPC status
func toStatusError(err error) error {
	var ioErr *entities.IOError
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case entities.IsIOError(err, entities.FileNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &ioErr):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, filter.ErrInvalidExpression):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Errorf(codes.Internal, "extraction failed: %v", err)
	}
}
