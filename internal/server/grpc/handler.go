package grpc

import (
	"context"
	"errors"
	"net"

	"github.com/dmitrijs2005/stockauth/internal/common"
	pb "github.com/dmitrijs2005/stockauth/internal/proto"
	"github.com/dmitrijs2005/stockauth/internal/server/models"
	"github.com/dmitrijs2005/stockauth/internal/server/ratelimit"
	"github.com/dmitrijs2005/stockauth/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type authHandler struct {
	pb.UnimplementedAuthServiceServer
	s *GRPCServer
}

func (h *authHandler) Register(ctx context.Context, req *pb.RegisterRequest) (*pb.AuthResponse, error) {

	h.s.logger.Info(ctx, "Registration request")

	res, err := h.s.users.Register(ctx, req.Name, req.Email, req.Password)
	if err != nil {
		return nil, h.s.toStatus(ctx, err)
	}

	h.s.logger.Info(ctx, "Registered", "user_id", res.User.ID)
	return authResponse(res.User, res.Tokens.AccessToken, res.Tokens.RefreshToken), nil
}

func (h *authHandler) Login(ctx context.Context, req *pb.LoginRequest) (*pb.AuthResponse, error) {

	key := clientKey(ctx)
	if err := h.s.checkLimit(ctx, ratelimit.OpLogin, key); err != nil {
		return nil, err
	}

	res, err := h.s.users.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			h.s.recordFailure(ctx, ratelimit.OpLogin, key)
		}
		return nil, h.s.toStatus(ctx, err)
	}
	h.s.resetLimit(ctx, ratelimit.OpLogin, key)

	return authResponse(res.User, res.Tokens.AccessToken, res.Tokens.RefreshToken), nil
}

func (h *authHandler) Refresh(ctx context.Context, req *pb.RefreshRequest) (*pb.RefreshResponse, error) {

	key := clientKey(ctx)
	if err := h.s.checkLimit(ctx, ratelimit.OpRefresh, key); err != nil {
		return nil, err
	}

	var (
		pair *services.TokenPair
		err  error
	)
	if req.GetUserId() != "" {
		pair, err = h.s.sessions.RotateForUser(ctx, req.GetUserId(), req.RefreshToken)
	} else {
		pair, err = h.s.sessions.Rotate(ctx, req.RefreshToken)
	}
	if err != nil {
		if errors.Is(err, common.ErrInvalidRefreshToken) {
			h.s.recordFailure(ctx, ratelimit.OpRefresh, key)
		}
		return nil, h.s.toStatus(ctx, err)
	}

	return &pb.RefreshResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

func (h *authHandler) Logout(ctx context.Context, req *pb.LogoutRequest) (*pb.LogoutResponse, error) {

	// a valid access token narrows the scan; it is not required
	var userID string
	if tok := accessTokenFromContext(ctx); tok != "" {
		if claims, err := h.s.sessions.VerifyAccess(tok); err == nil {
			userID = claims.Subject
		}
	}

	if err := h.s.sessions.Logout(ctx, req.RefreshToken, userID); err != nil {
		return nil, h.s.toStatus(ctx, err)
	}
	return &pb.LogoutResponse{}, nil
}

func (h *authHandler) LogoutAll(ctx context.Context, _ *pb.LogoutAllRequest) (*pb.LogoutAllResponse, error) {

	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	n, err := h.s.sessions.RevokeUser(ctx, claims.Subject)
	if err != nil {
		return nil, h.s.toStatus(ctx, err)
	}
	return &pb.LogoutAllResponse{Revoked: n}, nil
}

func (h *authHandler) WhoAmI(ctx context.Context, _ *pb.WhoAmIRequest) (*pb.WhoAmIResponse, error) {

	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	resp := &pb.WhoAmIResponse{
		User: &pb.User{Id: claims.Subject, Email: claims.Email, Name: claims.Name},
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return resp, nil
}

func authResponse(u *models.User, access, refresh string) *pb.AuthResponse {
	return &pb.AuthResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         &pb.User{Id: u.ID, Name: u.Name, Email: u.Email},
	}
}

// toStatus maps service errors to gRPC codes. Messages stay generic; the
// cause of a refresh failure is never revealed.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrInvalidRefreshToken):
		return status.Error(codes.Unauthenticated, common.ErrInvalidRefreshToken.Error())
	case errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrorAlreadyExists):
		return status.Error(codes.AlreadyExists, "user already exists")
	case errors.Is(err, common.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "too many attempts")
	case errors.Is(err, common.ErrStoreUnavailable):
		s.logger.Error(ctx, "store unavailable", "error", err)
		return status.Error(codes.Unavailable, "service unavailable")
	default:
		s.logger.Error(ctx, "internal error", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}

func (s *GRPCServer) checkLimit(ctx context.Context, op, key string) error {
	err := s.limiter.Check(ctx, op, key)
	if err == nil {
		return nil
	}
	if errors.Is(err, common.ErrRateLimited) {
		s.metrics.RateLimited(op)
		s.logger.Warn(ctx, "rate limited", "op", op, "client", key)
		return s.toStatus(ctx, err)
	}
	// fail open
	s.logger.Warn(ctx, "rate limiter unavailable", "error", err)
	return nil
}

func (s *GRPCServer) recordFailure(ctx context.Context, op, key string) {
	if err := s.limiter.Fail(ctx, op, key); err != nil {
		s.logger.Warn(ctx, "rate limiter unavailable", "error", err)
	}
}

func (s *GRPCServer) resetLimit(ctx context.Context, op, key string) {
	if err := s.limiter.Reset(ctx, op, key); err != nil {
		s.logger.Warn(ctx, "rate limiter unavailable", "error", err)
	}
}

// clientKey identifies the caller by peer IP.
func clientKey(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
