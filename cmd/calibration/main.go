// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Command calibration runs one stationary bias calibration and prints the
// per-axis bias and variance of both channels.
//
// Run:
//
//	go run ./cmd/calibration -duration 30
//	go run ./cmd/calibration -replay data/20260314_093015_raw.csv
//
// The sensor must stay still for the whole session. Raw samples and results
// are written to EXPORT_DIR.
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
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to configuration file")
	duration := flag.Int("duration", 0, "session length in seconds (0 uses CALIBRATION_DURATION_S)")
	replay := flag.String("replay", "", "recompute results from a saved _raw.csv instead of sampling")
	flag.Parse()

	if *replay != "" {
		if _, err := app.ReplayCalibration(*replay, os.Stdout); err != nil {
			log.Fatalf("replay failed: %v", err)
		}
		return
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New("calibration", cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := app.RunCalibration(ctx, cfg, *duration, os.Stdout, logger); err != nil {
		logger.Fatalw("calibration failed", "error", err)
	}
}
