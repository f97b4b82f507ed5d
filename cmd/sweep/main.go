// Command sweep retries pending archivals and verifies every archived
// document still under retention. It exits with status 2 when the sweep
// found integrity violations, so the scheduler can page on it.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/contractvault/internal/server"
	"github.com/dmitrijs2005/contractvault/internal/server/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	rep, err := app.Sweep(ctx)
	if err != nil {
		log.Printf("sweep: %v", err)
		os.Exit(1)
	}
	if len(rep.Violations) > 0 {
		os.Exit(2)
	}
}
