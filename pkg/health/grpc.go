package health

import (
	"context"
	"fmt"
	"net"

	"claw-companion/backend/pkg/logger"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported for the sync daemon
const ServiceName = "claw.companion.Sync"

// NewGRPCServer returns a gRPC server exposing the standard health service,
// kept in step with checker
func NewGRPCServer(checker *Checker) (*grpc.Server, *grpchealth.Server) {
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	apply := func(s Status) {
		serving := healthpb.HealthCheckResponse_SERVING
		if s == StatusDown {
			serving = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", serving)
		hs.SetServingStatus(ServiceName, serving)
	}
	apply(checker.Overall())
	checker.OnChange(apply)
	return srv, hs
}

// ServeGRPC listens on port and serves health until ctx is done
func ServeGRPC(ctx context.Context, port string, checker *Checker, log *logger.Logger) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("grpc health listen: %w", err)
	}
	srv, hs := NewGRPCServer(checker)

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		srv.GracefulStop()
	}()

	log.Info("gRPC health server listening", "port", port)
	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("grpc health serve: %w", err)
	}
	return nil
}
