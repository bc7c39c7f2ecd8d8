package metrics

import (
	"context"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InterceptorOption configures UnaryServerInterceptor
type InterceptorOption func(*interceptorConfig)

type interceptorConfig struct {
	logger        *zap.Logger
	slowThreshold time.Duration
}

// WithLogger logs failed and slow calls
func WithLogger(logger *zap.Logger) InterceptorOption {
	return func(c *interceptorConfig) {
		c.logger = logger
	}
}

// WithSlowThreshold logs calls slower than d at warn level. Zero disables it.
func WithSlowThreshold(d time.Duration) InterceptorOption {
	return func(c *interceptorConfig) {
		c.slowThreshold = d
	}
}

// UnaryServerInterceptor returns a gRPC interceptor that records metrics for
// each request. A panicking handler is answered with codes.Internal and
// counted as an error, so one bad upload cannot take the server down.
func UnaryServerInterceptor(collector *Collector, exporter *PrometheusExporter, opts ...InterceptorOption) grpc.UnaryServerInterceptor {
	cfg := interceptorConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		start := time.Now()
		method := info.FullMethod

		collector.RecordRequest(method)
		if exporter != nil {
			exporter.RecordRequest(method)
		}

		defer func() {
			if r := recover(); r != nil {
				resp = nil
				err = status.Error(codes.Internal, fmt.Sprintf("%s panicked: %v", path.Base(method), r))
			}

			elapsed := time.Since(start)
			collector.RecordDuration(method, elapsed.Seconds())
			if exporter != nil {
				exporter.RecordDuration(method, elapsed.Seconds())
			}

			if err != nil {
				code := status.Code(err)
				collector.RecordError(method)
				if exporter != nil {
					exporter.RecordError(method, code.String())
				}
				cfg.logger.Warn("rpc failed",
					zap.String("method", path.Base(method)),
					zap.String("code", code.String()),
					zap.Duration("elapsed", elapsed),
					zap.Error(err),
				)
				return
			}
			if cfg.slowThreshold > 0 && elapsed > cfg.slowThreshold {
				cfg.logger.Warn("slow rpc",
					zap.String("method", path.Base(method)),
					zap.Duration("elapsed", elapsed),
				)
			}
		}()

		return handler(ctx, req)
	}
}
