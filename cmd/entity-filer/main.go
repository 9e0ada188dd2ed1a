// Command entity-filer consumes filing messages and applies each filing to
// its business, then runs the post-commit notifications.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"entityfiler/internal/config"
	"entityfiler/internal/observability"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("entity-filer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("FILER_CONFIG"), "path to a YAML config file")
	checkOnly := fs.Bool("check", false, "validate the configuration and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if *checkOnly {
		fmt.Fprintln(stdout, "configuration ok")
		return 0
	}
	logger := observability.NewLogger(stdout, cfg.LogLevel, cfg.ServiceID)

	a, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	srv := &http.Server{Addr: cfg.Ops.Addr, Handler: a.ops, ReadHeaderTimeout: 5 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", "addr", cfg.Ops.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancelRun()
		}
		close(serveErr)
	}()

	runErr := a.worker.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown failed", "error", err)
	}
	if err := <-serveErr; err != nil {
		logger.Error("ops server failed", "error", err)
		return 1
	}
	if runErr != nil {
		logger.Error("consumer failed", "error", runErr)
		return 1
	}
	return 0
}
