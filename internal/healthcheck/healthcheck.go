// Package healthcheck exposes the server's running state over the standard
// gRPC health checking protocol, for supervisors that probe with
// grpc_health_probe rather than HTTP.
package healthcheck

import (
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/pointcloud-server/internal/monitoring"
)

// ServiceName is the health service name reported alongside the overall ("")
// status.
const ServiceName = "pointcloud.MeasurementServer"

// Server serves grpc.health.v1.Health. Its status follows SetServing; it
// does not start or stop the measurement listener itself.
type Server struct {
	mu       sync.Mutex
	grpc     *grpc.Server
	health   *health.Server
	listener net.Listener
	done     chan struct{}
}

// New returns a health server reporting NOT_SERVING until SetServing(true).
func New() *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{grpc: gs, health: hs}
}

// SetServing flips the reported status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Listen binds addr and serves in the background.
func (s *Server) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for health checks on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis in the background. Used directly by tests with an
// in-memory listener.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("health server already serving on %s", s.listener.Addr())
	}
	s.listener = lis
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		monitoring.Logf("[Health] gRPC health service listening on %s", lis.Addr())
		if err := s.grpc.Serve(lis); err != nil {
			monitoring.Logf("[Health] gRPC server error: %v", err)
		}
	}(s.done)
	return nil
}

// Addr returns the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close marks every service NOT_SERVING and stops the gRPC server.
func (s *Server) Close() {
	s.health.Shutdown()
	s.grpc.GracefulStop()

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	monitoring.Logf("[Health] gRPC health service stopped")
}
