package client

import (
	"context"

	pb "github.com/dmitrijs2005/stockauth/internal/proto"
)

// Session is what the server returns on register and login.
type Session struct {
	User         *pb.User
	AccessToken  string
	RefreshToken string
}

type Client interface {
	Close() error
	Register(ctx context.Context, name, email, password string) (*Session, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context) error
	Logout(ctx context.Context) error
	LogoutAll(ctx context.Context) (int64, error)
	WhoAmI(ctx context.Context) (*pb.WhoAmIResponse, error)
	Ping(ctx context.Context) error
	LoggedIn() bool
	Resume(userID, refreshToken string)
	Session() (userID, refreshToken string)
}
