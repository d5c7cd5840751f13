package server

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/nainya/surveystore/internal/logger"
	"github.com/nainya/surveystore/internal/metrics"
)

// ServiceName is the gRPC health service name reported for the store.
const ServiceName = "surveystore.v1.SurveyStore"

// GrpcServer bundles the gRPC server with its health registry.
type GrpcServer struct {
	*grpc.Server
	Health *health.Server
}

// NewGrpcServer builds a gRPC server exposing health checks and reflection.
// The service starts NOT_SERVING until SetServing is called.
func NewGrpcServer(m *metrics.Metrics, log *logger.Logger) *GrpcServer {
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(GrpcMetricsInterceptor(m, log)),
		grpc.MaxRecvMsgSize(4*1024*1024),
	)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	// For grpcurl/grpcui
	reflection.Register(srv)

	return &GrpcServer{Server: srv, Health: hs}
}

// SetServing flips the overall and per-service health status.
func (g *GrpcServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.Health.SetServingStatus("", status)
	g.Health.SetServingStatus(ServiceName, status)
}

// Stop marks the service as not serving and drains in-flight calls.
func (g *GrpcServer) Stop() {
	g.Health.Shutdown()
	g.Server.GracefulStop()
}
