package receiver

import (
	"errors"
	"log/slog"
	"net"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// DefaultMaxRecvBytes is the largest accepted request message.
const DefaultMaxRecvBytes = 10 * 1024 * 1024

// Server hosts the trace service, the gRPC health service and reflection.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     *slog.Logger
}

// NewServer registers service on a new gRPC server.
func NewServer(service *Service, maxRecvBytes int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRecvBytes <= 0 {
		maxRecvBytes = DefaultMaxRecvBytes
	}

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxRecvBytes),
	)

	collectortrace.RegisterTraceServiceServer(grpcServer, service)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(collectortrace.TraceService_ServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// Enable reflection for debugging with grpcurl
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		logger:     logger.With("component", "receiver"),
	}
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("Receiver listening", "address", lis.Addr().String())

	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks the server as not serving and waits for pending RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	s.logger.Info("Receiver stopped")
}
