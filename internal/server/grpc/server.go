// Package grpc exposes the session lifecycle over gRPC as
// stockauth.v1.AuthService, next to the standard health service.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/stockauth/internal/logging"
	pb "github.com/dmitrijs2005/stockauth/internal/proto"
	"github.com/dmitrijs2005/stockauth/internal/server/auth"
	"github.com/dmitrijs2005/stockauth/internal/server/metrics"
	"github.com/dmitrijs2005/stockauth/internal/server/models"
	"github.com/dmitrijs2005/stockauth/internal/server/ratelimit"
	"github.com/dmitrijs2005/stockauth/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// UserService is the part of services.UserService the transport needs.
type UserService interface {
	Register(ctx context.Context, name, email, password string) (*services.AuthResult, error)
	Login(ctx context.Context, email, password string) (*services.AuthResult, error)
	Get(ctx context.Context, userID string) (*models.User, error)
}

// SessionService is the part of services.SessionService the transport needs.
type SessionService interface {
	Rotate(ctx context.Context, presented string) (*services.TokenPair, error)
	RotateForUser(ctx context.Context, userID, presented string) (*services.TokenPair, error)
	Logout(ctx context.Context, presented, userID string) error
	RevokeUser(ctx context.Context, userID string) (int64, error)
	VerifyAccess(token string) (*auth.Claims, error)
}

type GRPCServer struct {
	address  string
	users    UserService
	sessions SessionService
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	logger   logging.Logger
	health   *health.Server
}

type Option func(*GRPCServer)

// WithLimiter enables attempt throttling on Login and Refresh.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *GRPCServer) { s.limiter = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *GRPCServer) { s.metrics = m }
}

func NewGRPCServer(address string, l logging.Logger, us UserService, ss SessionService, opts ...Option) *GRPCServer {
	s := &GRPCServer{
		address:  address,
		logger:   l.With("module", "grpc_server"),
		users:    us,
		sessions: ss,
		health:   health.NewServer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServer builds the grpc.Server with both services registered.
func (s *GRPCServer) NewServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))

	pb.RegisterAuthServiceServer(srv, &authHandler{s: s})
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus(pb.AuthService_ServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	return srv
}

// Run serves on the configured address until ctx is cancelled.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve serves on lis until ctx is cancelled, then drains in-flight calls.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
