package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/stockauth/internal/common"
	pb "github.com/dmitrijs2005/stockauth/internal/proto"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      pb.AuthServiceClient
	health      healthpb.HealthClient

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	userID       string

	// in-flight Refresh calls keyed by the presented refresh token
	refreshes singleflight.Group
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	if token != "" {
		md.Set(common.AccessTokenHeaderName, token)
	}

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) tokens() (access, refresh, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken, s.refreshToken, s.userID
}

// swapTokens installs a rotated pair unless the session moved on since
// presented was read.
func (s *GRPCClient) swapTokens(presented, access, refresh string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshToken != presented {
		return false
	}
	s.accessToken, s.refreshToken = access, refresh
	return true
}

func (s *GRPCClient) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken, s.refreshToken, s.userID = "", "", ""
}

// clearIf ends the session only while it still holds presented.
func (s *GRPCClient) clearIf(presented string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshToken != presented {
		return false
	}
	s.accessToken, s.refreshToken, s.userID = "", "", ""
	return true
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {

	access, refresh, _ := s.tokens()

	// resumed session: no access token yet
	if access == "" && refresh != "" && needsAccessToken(method) {
		if err := s.Refresh(ctx); err != nil {
			return err
		}
		access, _, _ = s.tokens()
	}

	err := invoker(withAccessToken(ctx, access), method, req, reply, cc, opts...)
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated || st.Message() != common.ErrTokenExpired.Error() {
		return err
	}
	if refresh == "" || method == pb.AuthService_Refresh_FullMethodName {
		return err
	}

	// another call may have refreshed already
	if current, _, _ := s.tokens(); current == access {
		if rerr := s.Refresh(ctx); rerr != nil {
			return err
		}
	}

	// retry once with the new access token
	access, _, _ = s.tokens()
	return invoker(withAccessToken(ctx, access), method, req, reply, cc, opts...)
}

func needsAccessToken(method string) bool {
	return method == pb.AuthService_WhoAmI_FullMethodName || method == pb.AuthService_LogoutAll_FullMethodName
}

func NewStockAuthClient(endpointURL string) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL}
	if err := c.InitGRPCClient(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient(opts ...grpc.DialOption) error {

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(s.endpointURL, opts...)
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = pb.NewAuthServiceClient(conn)
	s.health = healthpb.NewHealthClient(conn)
	return nil
}

func (s *GRPCClient) startSession(resp *pb.AuthResponse) *Session {
	s.mu.Lock()
	s.accessToken, s.refreshToken, s.userID = resp.AccessToken, resp.RefreshToken, resp.GetUser().GetId()
	s.mu.Unlock()

	return &Session{User: resp.User, AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
}

func (s *GRPCClient) Register(ctx context.Context, name, email, password string) (*Session, error) {

	resp, err := s.client.Register(ctx, &pb.RegisterRequest{Name: name, Email: email, Password: password})
	if err != nil {
		return nil, s.mapError(err)
	}
	return s.startSession(resp), nil
}

func (s *GRPCClient) Login(ctx context.Context, email, password string) (*Session, error) {

	resp, err := s.client.Login(ctx, &pb.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, s.mapError(err)
	}
	return s.startSession(resp), nil
}

// Refresh rotates the stored refresh token. Concurrent callers holding the
// same token share one RPC. A rejected token ends the session locally, unless
// the session already holds a newer token.
func (s *GRPCClient) Refresh(ctx context.Context) error {

	_, refresh, userID := s.tokens()
	if refresh == "" {
		return ErrNoSession
	}

	_, err, _ := s.refreshes.Do(refresh, func() (any, error) {
		return nil, s.rotate(ctx, refresh, userID)
	})
	return err
}

func (s *GRPCClient) rotate(ctx context.Context, presented, userID string) error {
	resp, err := s.client.Refresh(ctx, &pb.RefreshRequest{RefreshToken: presented, UserId: userID})
	if err != nil {
		err = s.mapError(err)
		if err == ErrUnauthorized && !s.clearIf(presented) {
			// lost the race to a rotation that already landed
			if _, current, _ := s.tokens(); current != "" {
				return nil
			}
		}
		return err
	}

	s.swapTokens(presented, resp.AccessToken, resp.RefreshToken)
	return nil
}

func (s *GRPCClient) Logout(ctx context.Context) error {

	_, refresh, _ := s.tokens()
	if refresh == "" {
		return ErrNoSession
	}

	if _, err := s.client.Logout(ctx, &pb.LogoutRequest{RefreshToken: refresh}); err != nil {
		return s.mapError(err)
	}
	s.clear()
	return nil
}

func (s *GRPCClient) LogoutAll(ctx context.Context) (int64, error) {

	resp, err := s.client.LogoutAll(ctx, &pb.LogoutAllRequest{})
	if err != nil {
		return 0, s.mapError(err)
	}
	s.clear()
	return resp.Revoked, nil
}

func (s *GRPCClient) WhoAmI(ctx context.Context) (*pb.WhoAmIResponse, error) {

	resp, err := s.client.WhoAmI(ctx, &pb.WhoAmIRequest{})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp, nil
}

// Ping asks the standard health service whether AuthService is serving.
func (s *GRPCClient) Ping(ctx context.Context) error {

	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: pb.AuthService_ServiceDesc.ServiceName})
	if err != nil {
		return s.mapError(err)
	}

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return ErrUnavailable
	}

	return nil
}

// Resume restores a session saved by an earlier process. The access token
// is obtained on the first call that needs it.
func (s *GRPCClient) Resume(userID, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken, s.refreshToken, s.userID = "", refreshToken, userID
}

// Session returns the current owner and refresh token, empty when logged out.
func (s *GRPCClient) Session() (userID, refreshToken string) {
	_, refresh, userID := s.tokens()
	return userID, refresh
}

func (s *GRPCClient) LoggedIn() bool {
	_, refresh, _ := s.tokens()
	return refresh != ""
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.AlreadyExists:
		return ErrAlreadyExists
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, st.Message())
	case codes.ResourceExhausted:
		return ErrRateLimited
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
