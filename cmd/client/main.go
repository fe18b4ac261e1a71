package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/stockauth/internal/client/cli"
	"github.com/dmitrijs2005/stockauth/internal/client/config"
	"github.com/dmitrijs2005/stockauth/internal/logging"
)

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	app, err := cli.NewApp(ctx, cfg, logging.NewJSON(os.Stderr, "warn"))

	if err != nil {
		log.Fatalf("%v", err)
	}

	app.Run(ctx)

}
