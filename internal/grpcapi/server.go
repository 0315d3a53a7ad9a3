// Package grpcapi exposes the standard grpc.health.v1 service.  The
// empty service name reports the process, "readers" reports whether any
// reader holds a connection, and "reader-<id>" reports each reader.
package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lanegate/server/internal/lanegate/types"
)

// ReadersService is the aggregate service name.
const ReadersService = "readers"

// ReaderService returns the per-reader service name.
func ReaderService(readerID int) string {
	return fmt.Sprintf("reader-%d", readerID)
}

// HealthSource is the reader health registry.
type HealthSource interface {
	OnChange(fn func(types.ReaderHealth))
	Summary() types.HealthSummary
}

type Server struct {
	addr   string
	logger *zap.Logger
	grpc   *grpc.Server
	health *health.Server
	source HealthSource

	mu sync.Mutex
}

func NewServer(addr string, source HealthSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addr:   addr,
		logger: logger.Named("grpc"),
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		source: source,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.refresh()
	if source != nil {
		source.OnChange(func(types.ReaderHealth) { s.refresh() })
	}
	return s
}

// refresh recomputes every reader status from a fresh summary.
func (s *Server) refresh() {
	if s.source == nil {
		s.health.SetServingStatus(ReadersService, healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sum := s.source.Summary()
	for _, r := range sum.Readers {
		s.health.SetServingStatus(ReaderService(r.ReaderID), servingStatus(r.Connected))
	}
	s.health.SetServingStatus(ReadersService, servingStatus(sum.Connected > 0))
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Serve accepts connections on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Start listens on the configured address and serves.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.addr, err)
	}
	return s.Serve(lis)
}

// Shutdown marks every service NOT_SERVING and stops gracefully, falling
// back to a hard stop when ctx expires.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
	}
}
