// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

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
	modeName := flag.String("mode", "fusion", "initial mode: acc, gyr, fusion or stop")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	mode, err := orientation.ParseMode(*modeName)
	if err != nil {
		log.Fatalf("invalid -mode: %v", err)
	}
	logger, err := logging.New("tiltd", cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infow("starting tilt service", "source", cfg.SensorSource, "mode", mode, "web_port", cfg.WebServerPort)
	if err := app.RunService(ctx, cfg, mode, logger); err != nil {
		logger.Fatalw("fatal", "error", err)
	}
}
