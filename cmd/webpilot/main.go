// Command webpilot runs the browser-control substrate as a daemon: it
// launches or attaches to a Chrome instance, keeps session state, persists
// storage, records, and serves the inspect surface until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/webpilot"
	"github.com/hazyhaar/webpilot/bus"
	"github.com/hazyhaar/webpilot/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "webpilot:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath  = flag.String("config", "", "path to YAML config file")
		startURL = flag.String("url", "", "URL to open after start")
		logLevel = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", *logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.LoadFile(*cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pilot, err := webpilot.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := pilot.Start(ctx); err != nil {
		return err
	}

	if *startURL != "" {
		pilot.Bus.Dispatch(ctx, bus.NavigateToURLEvent{URL: *startURL, NewTab: true})
	}

	<-ctx.Done()
	logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return pilot.Stop(stopCtx)
}
