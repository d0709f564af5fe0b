package server

import (
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/windfall/prosody_service/internal/config"
	grpchandler "github.com/windfall/prosody_service/internal/handler/grpc"
	"github.com/windfall/prosody_service/internal/middleware"
)

// Room for base64 expansion and the JSON around an upload.
const grpcMessageOverhead = 1 << 20

// GRPCOptions are the optional gRPC collaborators.
type GRPCOptions struct {
	// Validator enables bearer auth on ProsodyService when set.
	Validator middleware.TokenValidator
	// Limiter enables rate limiting on ProsodyService when set.
	Limiter middleware.Limiter
}

// GRPCServer represents the gRPC server.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	addr   string
	log    zerolog.Logger
}

// NewGRPCServer creates a new gRPC server.
func NewGRPCServer(
	cfg *config.Config,
	log zerolog.Logger,
	handler *grpchandler.Handler,
	opts GRPCOptions,
) *GRPCServer {
	interceptors := []grpc.UnaryServerInterceptor{
		UnaryLoggingInterceptor(log),
		UnaryRecoveryInterceptor(log),
	}
	if opts.Validator != nil {
		interceptors = append(interceptors, UnaryAuthInterceptor(opts.Validator, publicMethods()...))
	}
	if opts.Limiter != nil {
		interceptors = append(interceptors, UnaryRateLimitInterceptor(opts.Limiter, log, publicMethods()...))
	}

	// Both recordings of a Compare travel in one message.
	maxMsg := int(2*cfg.MaxUploadBytes*4/3) + grpcMessageOverhead

	server := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsg),
		grpc.ChainUnaryInterceptor(interceptors...),
		grpc.ChainStreamInterceptor(
			StreamLoggingInterceptor(log),
			StreamRecoveryInterceptor(log),
		),
	)

	// Register services
	grpchandler.RegisterProsodyServiceServer(server, handler)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(grpchandler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	// Enable reflection for development
	if cfg.IsDevelopment() {
		reflection.Register(server)
	}

	return &GRPCServer{
		server: server,
		health: healthServer,
		addr:   cfg.GRPCAddress(),
		log:    log,
	}
}

// publicMethods skip auth and rate limiting.
func publicMethods() []string {
	return []string{
		grpchandler.MethodStatus,
		healthpb.Health_Check_FullMethodName,
	}
}

// Start starts the gRPC server.
func (s *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis until the server stops.
func (s *GRPCServer) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC server")
	if err := s.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// GracefulStop marks the service as not serving and stops the gRPC server.
func (s *GRPCServer) GracefulStop() {
	s.log.Info().Msg("Shutting down gRPC server")
	s.health.Shutdown()
	s.server.GracefulStop()
}
