// Trygql serves demo GraphQL APIs with resolver-level caching.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/FormidableLabs/trygql/internal/server"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (defaults and environment only when empty)")
	logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error); log.level in the config file takes precedence")
)

func main() {
	flag.Parse()

	level := new(slog.LevelVar)
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level.Set(slog.LevelInfo)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Run(ctx, *configPath, level, server.Options{Logger: logger}); err != nil {
		slog.Error("trygql error", "error", err)
		os.Exit(1)
	}
}
