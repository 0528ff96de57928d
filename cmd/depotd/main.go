package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/depotd/internal/actions"
	"github.com/danmuck/depotd/internal/config"
	"github.com/danmuck/depotd/internal/observability"
	"github.com/danmuck/depotd/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config (defaults apply when empty)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "depotd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := observability.InitLogger(cfg.Name)
	observability.SetLevel(cfg.LogLevel)

	registry := actions.NewRegistry()
	for _, d := range []actions.Descriptor{
		actions.LicenseDescriptor(),
		actions.UploadDescriptor(cfg.MaxContentSize),
	} {
		if err := registry.Register(d); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.New(cfg, registry, logger).Run(ctx)
}
