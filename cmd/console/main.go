package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/tilt_sensor/internal/app"
	"github.com/relabs-tech/tilt_sensor/internal/config"
	"github.com/relabs-tech/tilt_sensor/internal/logging"
	"github.com/relabs-tech/tilt_sensor/internal/orientation"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to configuration file")
	modeName := flag.String("mode", "fusion", "mode: acc, gyr or fusion")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	mode, err := orientation.ParseMode(*modeName)
	if err != nil {
		log.Fatalf("invalid -mode: %v", err)
	}
	logger, err := logging.New("console", cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsole(ctx, cfg, mode, os.Stdout, logger); err != nil {
		logger.Fatalw("fatal", "error", err)
	}
}
