// Package grpcapi serves the gRPC health service for the conversation.
package grpcapi

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"screening-session-service/internal/observability"
	"screening-session-service/internal/observability/logging"
	"screening-session-service/internal/service/coordinator"
)

// ServiceName is the health-checked service. It reports SERVING while the
// conversation accepts input and NOT_SERVING once it is stopping or stopped.
// The overall ("") status stays SERVING while the process is up.
const ServiceName = "screening.session.v1.Conversation"

// Server wraps a grpc.Server exposing health and reflection. It implements
// coordinator.Observer.
type Server struct {
	coordinator.NopObserver

	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// New creates the gRPC server with logging interceptors.
func New() *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(g, hs)
	reflection.Register(g)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{
		grpc:   g,
		health: hs,
		logger: logging.WithComponent("grpc"),
	}
}

// StateChanged maps conversation state onto the health status.
func (s *Server) StateChanged(state coordinator.State) {
	status := healthpb.HealthCheckResponse_SERVING
	if !state.AcceptsInput() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.logger.Debug().Str("state", state.String()).Str("health", status.String()).Msg("Health status updated")
}

// Serve accepts connections on lis until the server is stopped.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Run listens on addr and serves until ctx is done, then stops gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("gRPC server listening")
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.Shutdown()
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown marks everything NOT_SERVING and stops gracefully.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
