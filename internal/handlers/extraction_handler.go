package handlers

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/stepscope/internal/entities"
	"github.com/asakaida/stepscope/internal/infrastructure/objectstore"
	"github.com/asakaida/stepscope/internal/services"
)

var _ ExtractionServiceServer = (*ExtractionHandler)(nil)

// ExtractionHandler handles ExtractionService gRPC requests
type ExtractionHandler struct {
	service  services.ExtractionServiceInterface
	defaults services.ExtractOptions
	logger   *zap.Logger
}

// NewExtractionHandler creates a new ExtractionHandler. defaults apply to
// every request field the client leaves out.
func NewExtractionHandler(service services.ExtractionServiceInterface, defaults services.ExtractOptions, logger *zap.Logger) *ExtractionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtractionHandler{
		service:  service,
		defaults: defaults,
		logger:   logger,
	}
}

// Parse handles the Parse RPC.
//
// Request: {name, content} or {uri}. Response: the session summary.
func (h *ExtractionHandler) Parse(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	session, err := h.sessionFromContent(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := structpb.NewStruct(sessionToMap(session))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return resp, nil
}

// Extract handles the Extract RPC.
//
// Request: {digest | uri | name+content, filter, include_entities, kinds,
// index_base, attribute_max_length, max_records}. Response: {report,
// records, records_truncated}.
func (h *ExtractionHandler) Extract(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	opts, maxRecords, err := h.extractOptions(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	digest, err := stringField(req, "digest")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	var session *services.Session
	if digest != "" {
		cached, ok := h.service.Lookup(ctx, digest)
		if !ok {
			return nil, status.Errorf(codes.NotFound, "no parse session for digest %s", digest)
		}
		session = cached
	} else {
		session, err = h.sessionFromContent(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	result, err := h.service.Extract(ctx, session, nil, opts)
	if err != nil {
		if result == nil {
			return nil, toStatusError(err)
		}
		// Persistence failed; the extraction itself is complete
		h.logger.Warn("run not persisted", zap.String("run_id", result.Report.RunID), zap.Error(err))
	}

	records := result.Records
	recordsTruncated := false
	if maxRecords > 0 && len(records) > maxRecords {
		records = records[:maxRecords]
		recordsTruncated = true
	}
	rows := make([]any, len(records))
	for i, r := range records {
		rows[i] = recordToMap(r)
	}

	resp, err := structpb.NewStruct(map[string]any{
		"report":            reportToMap(result.Report),
		"records":           rows,
		"records_truncated": recordsTruncated,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return resp, nil
}

func (h *ExtractionHandler) sessionFromContent(ctx context.Context, req *structpb.Struct) (*services.Session, error) {
	uri, err := stringField(req, "uri")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if uri != "" {
		// Server-side local paths are never readable through the API
		if !objectstore.IsURI(uri) {
			return nil, status.Errorf(codes.InvalidArgument, "uri must start with %s", objectstore.Scheme)
		}
		session, err := h.service.ParseFile(ctx, uri)
		if err != nil {
			return nil, toStatusError(err)
		}
		return session, nil
	}

	name, err := stringField(req, "name")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	content, err := stringField(req, "content")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if content == "" {
		return nil, status.Error(codes.InvalidArgument, "content is required")
	}
	if name == "" {
		name = "upload.stp"
	}

	session, err := h.service.Parse(ctx, name, []byte(content))
	if err != nil {
		return nil, toStatusError(err)
	}
	return session, nil
}

// extractOptions overlays the request fields on the handler defaults
func (h *ExtractionHandler) extractOptions(req *structpb.Struct) (services.ExtractOptions, int, error) {
	opts := h.defaults
	opts.Geometry.KindOrder = append([]entities.ShapeKind(nil), h.defaults.Geometry.KindOrder...)

	var err error
	if opts.Filter, err = stringField(req, "filter"); err != nil {
		return opts, 0, err
	}

	if v, ok, err := boolField(req, "include_entities"); err != nil {
		return opts, 0, err
	} else if ok {
		opts.IncludeEntities = v
	}

	kinds, err := stringListField(req, "kinds")
	if err != nil {
		return opts, 0, err
	}
	if len(kinds) > 0 {
		opts.Geometry.KindOrder = opts.Geometry.KindOrder[:0]
		for _, name := range kinds {
			kind, err := entities.ParseShapeKind(name)
			if err != nil {
				return opts, 0, err
			}
			opts.Geometry.KindOrder = append(opts.Geometry.KindOrder, kind)
		}
	}

	if v, ok, err := intField(req, "index_base"); err != nil {
		return opts, 0, err
	} else if ok {
		opts.Geometry.IndexBase = v
	}

	if v, ok, err := intField(req, "attribute_max_length"); err != nil {
		return opts, 0, err
	} else if ok {
		opts.AttributeMaxLength = v
	}

	maxRecords, _, err := intField(req, "max_records")
	if err != nil {
		return opts, 0, err
	}

	if err := opts.Geometry.Validate(); err != nil {
		return opts, 0, err
	}
	return opts, maxRecords, nil
}
