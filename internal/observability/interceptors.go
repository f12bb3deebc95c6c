package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor traces and logs each unary call. Handler panics are
// returned as codes.Internal.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		ctx, span := StartSpan(ctx, info.FullMethod, trace.WithSpanKind(trace.SpanKindServer))
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = status.Errorf(codes.Internal, "panic: %v", r)
			}
			finishCall(span, info.FullMethod, "gRPC unary call", err, time.Since(start))
		}()

		return handler(ctx, req)
	}
}

// StreamServerInterceptor traces and logs each stream when it completes.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		_, span := StartSpan(ss.Context(), info.FullMethod, trace.WithSpanKind(trace.SpanKindServer))
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = status.Errorf(codes.Internal, "panic: %v", r)
			}
			finishCall(span, info.FullMethod, "gRPC stream completed", err, time.Since(start))
		}()

		return handler(srv, ss)
	}
}

func finishCall(span trace.Span, method, msg string, err error, d time.Duration) {
	st, _ := status.FromError(err)
	if err != nil {
		span.SetStatus(otelcodes.Error, st.Message())
	}
	span.End()

	log.WithLevel(callLevel(st.Code())).
		Str("method", method).
		Str("code", st.Code().String()).
		Dur("duration", d).
		Msg(msg)
}

// callLevel keeps health probes quiet and surfaces server-side failures.
func callLevel(code codes.Code) zerolog.Level {
	switch code {
	case codes.OK, codes.Canceled, codes.NotFound:
		return zerolog.DebugLevel
	case codes.Internal, codes.Unknown, codes.DataLoss:
		return zerolog.ErrorLevel
	default:
		return zerolog.WarnLevel
	}
}
