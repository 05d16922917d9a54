package health

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// AdvisoryService is the health service name that reports whether advisories
// can be generated.
const AdvisoryService = "calmsignal.advisory"

// Server wraps the standard gRPC health service.
type Server struct {
	hs *health.Server
}

// Register adds the grpc.health.v1 service and reflection to srv. The overall
// service ("") is SERVING; AdvisoryService is SERVING iff generatorConfigured.
func Register(srv *grpc.Server, generatorConfigured bool) *Server {
	s := &Server{hs: health.NewServer()}
	healthpb.RegisterHealthServer(srv, s.hs)
	reflection.Register(srv)

	s.hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.SetGenerator(generatorConfigured)
	return s
}

// SetGenerator updates AdvisoryService's status.
func (s *Server) SetGenerator(configured bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if configured {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.hs.SetServingStatus(AdvisoryService, st)
}

// Shutdown marks every service NOT_SERVING ahead of a graceful stop.
func (s *Server) Shutdown() {
	s.hs.Shutdown()
}
