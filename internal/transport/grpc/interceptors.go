package grpcx

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cwrk-planet/session-recorder/internal/logger"
)

// DefaultCallTimeout applies to unary calls that arrive without a deadline.
const DefaultCallTimeout = 10 * time.Second

// Interceptors recover panics and log every call with its status code.
// Health Watch streams stay open for the whole session and get no timeout.
type Interceptors struct {
	log     *slog.Logger
	timeout time.Duration
}

func NewInterceptors(log *slog.Logger, timeout time.Duration) *Interceptors {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Interceptors{log: log, timeout: timeout}
}

func (i *Interceptors) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, i.timeout)
			defer cancel()
		}
		defer i.observe(ctx, "unary", info.FullMethod, time.Now(), &err)
		return handler(ctx, req)
	}
}

func (i *Interceptors) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer i.observe(ss.Context(), "stream", info.FullMethod, time.Now(), &err)
		return handler(srv, ss)
	}
}

// observe must be deferred directly so recover sees the handler's panic.
func (i *Interceptors) observe(ctx context.Context, kind, method string, start time.Time, err *error) {
	if r := recover(); r != nil {
		i.log.LogAttrs(ctx, slog.LevelError, "grpc panic",
			slog.String("kind", kind),
			slog.String("method", method),
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())))
		*err = status.Error(codes.Internal, "internal server error")
	}

	code := status.Code(*err)
	attrs := append(logger.AttrsFromCtx(ctx),
		slog.String("kind", kind),
		slog.String("method", method),
		slog.String("code", code.String()),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	i.log.LogAttrs(ctx, levelFor(code), "grpc call", attrs...)
}

// levelFor: NotFound и Canceled — обычные ответы health-проб.
func levelFor(c codes.Code) slog.Level {
	switch c {
	case codes.OK, codes.NotFound, codes.Canceled:
		return slog.LevelDebug
	case codes.Internal, codes.Unknown, codes.DataLoss:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
