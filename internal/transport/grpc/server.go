// Package grpcx exposes the standard gRPC health service. The recorder
// service reports SERVING only while recording is running, so an
// orchestrator can gate on it.
package grpcx

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/cwrk-planet/session-recorder/internal/session"
)

// ServiceName is the health service name that tracks recording.
const ServiceName = "session.Recorder"

// Health follows session notifications. The process itself ("") is SERVING
// from the start.
type Health struct {
	srv *health.Server
	log *slog.Logger
}

func NewHealth(log *slog.Logger) *Health {
	if log == nil {
		log = slog.Default()
	}
	h := &Health{srv: health.NewServer(), log: log}
	h.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *Health) StateChanged(*session.State) {}

func (h *Health) Notify(n session.Notification) {
	switch n.Kind {
	case session.KindRecordingStarted:
		h.srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
		h.log.Info("health: recording serving", slog.String("reason", n.Reason))
	case session.KindRecordingEnded:
		h.srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Shutdown marks every service NOT_SERVING ahead of GracefulStop.
func (h *Health) Shutdown() { h.srv.Shutdown() }

func NewServer(h *Health, log *slog.Logger) *grpc.Server {
	if log == nil {
		log = slog.Default()
	}
	icpt := NewInterceptors(log, DefaultCallTimeout)
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(icpt.Unary()),
		grpc.ChainStreamInterceptor(icpt.Stream()),
	)
	healthpb.RegisterHealthServer(s, h.srv)
	reflection.Register(s)
	return s
}
