// Package server exposes the gRPC health service of trade-chat.
package server

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"time"

	sdkgrpc "github.com/mama165/sdk-go/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "trade-chat"

// HealthServer reports SERVING while the delivery dispatcher runs.
type HealthServer struct {
	log    *slog.Logger
	server *grpc.Server
	health *health.Server
}

func NewHealthServer(log *slog.Logger) *HealthServer {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(sdkgrpc.UnaryLoggingInterceptor(log)))
	h := health.NewServer()
	h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, h)
	return &HealthServer{log: log, server: s, health: h}
}

func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
}

// Serve blocks until Stop is called.
func (s *HealthServer) Serve(listener net.Listener) error {
	s.log.Info("Starting gRPC health server", "address", listener.Addr().String())
	if err := s.server.Serve(listener); err != nil && !stderrors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Watch mirrors running into the serving status every interval until ctx is done.
func (s *HealthServer) Watch(ctx context.Context, running func() bool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := running()
	s.SetServing(last)
	for {
		select {
		case <-ctx.Done():
			s.SetServing(false)
			return
		case <-ticker.C:
			if current := running(); current != last {
				s.log.Info("Serving status changed", "serving", current)
				s.SetServing(current)
				last = current
			}
		}
	}
}

// Stop flips every service to NOT_SERVING and drains in-flight calls.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
