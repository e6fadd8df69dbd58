// Package api exposes the running policy over gRPC: a standard health
// service with one entry per symbol, and a small monitor service that
// returns and streams step records.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server hosts the health and monitor services.
type Server struct {
	addr    string
	monitor *Monitor
	grpc    *grpc.Server
	log     *slog.Logger
}

// NewServer creates a server for monitor listening on addr.
func NewServer(addr string, monitor *Monitor, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, monitor.health)
	gs.RegisterService(&serviceDesc, &monitorServer{m: monitor})
	return &Server{addr: addr, monitor: monitor, grpc: gs, log: log}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.log.Info("monitor listening", "addr", lis.Addr().String())
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(lis) }()

	select {
	case <-ctx.Done():
		s.Shutdown()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// Shutdown flips every health entry to NOT_SERVING, ends open streams and
// stops the gRPC server after in-flight calls complete.
func (s *Server) Shutdown() {
	s.monitor.Shutdown()
	s.grpc.GracefulStop()
}
