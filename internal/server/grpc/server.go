// Package grpc exposes the standard gRPC health service. The serving
// status follows the readiness of the credential store.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health entry reported next to the server-wide one.
const ServiceName = "credkeeper.v1.Auth"

const defaultProbeInterval = 5 * time.Second

type GRPCServer struct {
	address       string
	logger        logging.Logger
	ready         func(ctx context.Context) error
	probeInterval time.Duration

	srv    *grpc.Server
	health *health.Server
}

// NewGRPCServer builds the server. ready may be nil, in which case the
// server always reports SERVING.
func NewGRPCServer(address string, l logging.Logger, ready func(ctx context.Context) error) *GRPCServer {
	s := &GRPCServer{
		address:       address,
		logger:        l.With("module", "grpc_server"),
		ready:         ready,
		probeInterval: defaultProbeInterval,
		health:        health.NewServer(),
	}

	s.srv = grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	grpc_health_v1.RegisterHealthServer(s.srv, s.health)
	return s
}

func (s *GRPCServer) setStatus(st grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// probe refreshes the serving status from the readiness check.
func (s *GRPCServer) probe(ctx context.Context) {
	if s.ready == nil {
		s.setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.probeInterval)
	defer cancel()

	if err := s.ready(ctx); err != nil {
		s.logger.Warn(ctx, "readiness check failed", "error", err)
		s.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.address, err)
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops
// gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	s.probe(ctx)

	go func() {
		ticker := time.NewTicker(s.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info(context.Background(), "Stopping gRPC server...")
				s.health.Shutdown()
				s.srv.GracefulStop()
				return
			case <-ticker.C:
				s.probe(ctx)
			}
		}
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
