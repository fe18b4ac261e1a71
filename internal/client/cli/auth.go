package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/stockauth/internal/client/client"
	"github.com/dmitrijs2005/stockauth/internal/common"
)

var getSimpleText = GetSimpleText
var getPassword = GetPassword

type credentials struct {
	name     string
	email    string
	password []byte
}

func (a *App) askCredentials(withName bool) (*credentials, error) {
	c := &credentials{}
	var err error

	if withName {
		if c.name, err = getSimpleText(a.reader, "Enter name", a.out); err != nil {
			return nil, err
		}
	}
	if c.email, err = getSimpleText(a.reader, "Enter email", a.out); err != nil {
		return nil, err
	}
	if c.password, err = getPassword(a.out); err != nil {
		return nil, err
	}
	return c, nil
}

func (a *App) Register(ctx context.Context) error {
	defer a.persist(ctx)

	c, err := a.askCredentials(true)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(c.password)

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	s, err := a.api.Register(ctx, c.name, c.email, string(c.password))
	if err != nil {
		a.report("Registration failed", err)
		return err
	}

	a.setUser(s.User.GetEmail())
	fmt.Fprintf(a.out, "Registered and logged in as %s\n", s.User.GetEmail())
	return nil
}

func (a *App) Login(ctx context.Context) error {
	defer a.persist(ctx)

	c, err := a.askCredentials(false)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(c.password)

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	s, err := a.api.Login(ctx, c.email, string(c.password))
	if err != nil {
		a.report("Login failed", err)
		return err
	}

	a.setUser(s.User.GetEmail())
	fmt.Fprintf(a.out, "Logged in as %s\n", s.User.GetEmail())
	return nil
}

func (a *App) Refresh(ctx context.Context) error {
	defer a.persist(ctx)

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.api.Refresh(ctx); err != nil {
		a.report("Refresh failed", err)
		return err
	}
	fmt.Fprintln(a.out, "Session refreshed")
	return nil
}

func (a *App) WhoAmI(ctx context.Context) error {
	defer a.persist(ctx)

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	resp, err := a.api.WhoAmI(ctx)
	if err != nil {
		a.report("Request failed", err)
		return err
	}

	fmt.Fprintf(a.out, "%s <%s> id=%s\n", resp.GetUser().GetName(), resp.GetUser().GetEmail(), resp.GetUser().GetId())
	if resp.GetExpiresAt() > 0 {
		fmt.Fprintf(a.out, "access token expires %s\n", time.Unix(resp.GetExpiresAt(), 0).Format(time.RFC3339))
	}
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	defer a.persist(ctx)

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.api.Logout(ctx); err != nil {
		a.report("Logout failed", err)
		return err
	}
	a.setUser("")
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *App) LogoutAll(ctx context.Context) error {
	defer a.persist(ctx)

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	n, err := a.api.LogoutAll(ctx)
	if err != nil {
		a.report("Logout failed", err)
		return err
	}
	a.setUser("")
	fmt.Fprintf(a.out, "Logged out of %d session(s)\n", n)
	return nil
}

func (a *App) report(what string, err error) {
	switch {
	case errors.Is(err, client.ErrUnavailable):
		a.setMode(context.Background(), ModeOffline)
		fmt.Fprintf(a.out, "%s: server unavailable\n", what)
	case errors.Is(err, client.ErrUnauthorized):
		fmt.Fprintf(a.out, "%s: not authorized\n", what)
	default:
		fmt.Fprintf(a.out, "%s: %s\n", what, err)
	}
}
