package health

import (
	"context"
	"fmt"
	logger "log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Server exposes the monitor through the standard gRPC health service, one
// service name per chain. The empty service name carries the overall status.
type Server struct {
	monitor  *Monitor
	grpc     *grpc.Server
	health   *grpchealth.Server
	port     int
	interval time.Duration
	log      logger.Logger
}

// NewServer creates a new health server.
func NewServer(monitor *Monitor, port int) *Server {
	s := &Server{
		monitor:  monitor,
		grpc:     grpc.NewServer(),
		health:   grpchealth.NewServer(),
		port:     port,
		interval: 15 * time.Second,
		log:      *logger.Default(),
	}
	grpc_health_v1.RegisterHealthServer(s.grpc, s.health)
	return s
}

// Sync pushes the current report into the gRPC health service.
func (s *Server) Sync(ctx context.Context) HealthReport {
	report := Aggregate(s.monitor.CheckHealth(ctx))
	for id, c := range report.Chains {
		s.health.SetServingStatus(id, servingStatus(c.Status))
	}
	s.health.SetServingStatus("", servingStatus(report.SystemStatus))
	return report
}

func servingStatus(st SystemStatus) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if st == StatusCritical {
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_SERVING
}

// Run syncs statuses periodically until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.Sync(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := s.Sync(ctx)
			s.log.Debug("Health synced", "status", report.SystemStatus)
		}
	}
}

// Start serves gRPC until Stop.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port %d: %w", s.port, err)
	}
	return s.grpc.Serve(lis)
}

// Stop stops the gRPC server, forcing it once ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		return ctx.Err()
	}
}
