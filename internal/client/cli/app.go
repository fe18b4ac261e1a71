package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/stockauth/internal/client/client"
	"github.com/dmitrijs2005/stockauth/internal/client/config"
	"github.com/dmitrijs2005/stockauth/internal/client/sessionstore"
	"github.com/dmitrijs2005/stockauth/internal/logging"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type App struct {
	config *config.Config
	api    client.Client
	store  sessionstore.Store
	log    logging.Logger
	reader *bufio.Reader
	out    io.Writer

	mu       sync.Mutex
	mode     Mode
	userName string
}

func NewApp(ctx context.Context, c *config.Config, log logging.Logger) (*App, error) {
	var store sessionstore.Store = sessionstore.Nop{}
	if c.SessionFile != "" {
		s, err := sessionstore.Open(ctx, c.SessionFile)
		if err != nil {
			return nil, err
		}
		store = s
	}

	api, err := client.NewStockAuthClient(c.ServerEndpointAddr)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return newApp(c, api, store, log), nil
}

func newApp(c *config.Config, api client.Client, store sessionstore.Store, log logging.Logger) *App {
	if log == nil {
		log = logging.Nop{}
	}
	if store == nil {
		store = sessionstore.Nop{}
	}
	return &App{
		config: c,
		api:    api,
		store:  store,
		log:    log.With("module", "cli"),
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}
}

// Run blocks until the user exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	defer func() {
		if err := a.api.Close(); err != nil {
			a.log.Warn(ctx, "close connection", "error", err)
		}
		if err := a.store.Close(); err != nil {
			a.log.Warn(ctx, "close session store", "error", err)
		}
	}()

	a.resume(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.checkOnline(ctx)
	go a.StartOnlineStatusWatcher(ctx, a.config.OnlineCheckInterval)

	printlnFn("Welcome to stockauth CLI (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(a.reader))
}

func (a *App) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *App) setMode(ctx context.Context, mode Mode) {
	a.mu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.mu.Unlock()

	if changed {
		a.log.Info(ctx, "connection mode changed", "mode", mode)
	}
}

func (a *App) setUser(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.userName = name
}

func (a *App) isLoggedIn() bool {
	return a.api.LoggedIn()
}

func (a *App) getStatus() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := string(a.mode)
	if a.userName != "" && a.api.LoggedIn() {
		s = a.userName + " " + s
	}
	return s
}

// resume restores a saved session, if any.
func (a *App) resume(ctx context.Context) {
	s, err := a.store.Load(ctx)
	if err != nil {
		a.log.Warn(ctx, "load saved session", "error", err)
		return
	}
	if s == nil || s.RefreshToken == "" {
		return
	}
	a.api.Resume(s.UserID, s.RefreshToken)
	a.setUser(s.Email)
}

// persist mirrors the client's current session into the store.
func (a *App) persist(ctx context.Context) {
	userID, refresh := a.api.Session()

	var err error
	if refresh == "" {
		err = a.store.Clear(ctx)
	} else {
		a.mu.Lock()
		email := a.userName
		a.mu.Unlock()
		err = a.store.Save(ctx, &sessionstore.Session{UserID: userID, Email: email, RefreshToken: refresh})
	}
	if err != nil {
		a.log.Warn(ctx, "save session", "error", err)
	}
}

func (a *App) checkOnline(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
	defer cancel()

	if err := a.api.Ping(ctx); err != nil {
		a.setMode(ctx, ModeOffline)
		return
	}
	a.setMode(ctx, ModeOnline)
}

// StartOnlineStatusWatcher pings the server every interval until ctx is done.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.checkOnline(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.config.RequestTimeout)
}
