// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_sensor/internal/imu"
)

// LineFeed reads "ax,ay,az,gx,gy,gz" text lines (g and rad/s) from a stream
// and pushes them to the subscribed handlers. Empty lines, comments starting
// with '#' and a CSV header line are skipped.
type LineFeed struct {
	fanout

	src    io.ReadCloser
	logger *zap.SugaredLogger
}

// NewLineFeed wraps src. Call Run to start delivering.
func NewLineFeed(src io.ReadCloser, logger *zap.SugaredLogger) *LineFeed {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LineFeed{src: src, logger: logger}
}

// OpenSerialFeed opens a serial port and returns a LineFeed reading from it.
func OpenSerialFeed(port string, baud uint, logger *zap.SugaredLogger) (*LineFeed, error) {
	options := serial.OpenOptions{
		PortName:        port,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}
	rwc, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("serial open %s: %w", port, err)
	}
	return NewLineFeed(rwc, logger), nil
}

// Run reads lines until ctx is cancelled or the stream ends. It closes the
// underlying stream on return.
func (l *LineFeed) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	defer l.src.Close()
	go func() {
		select {
		case <-ctx.Done():
			// unblocks the scanner
			_ = l.src.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(l.src)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		r, ok, err := parseLine(scanner.Text())
		if err != nil {
			l.logger.Debugw("serial: skipping bad line", "line", lineNum, "error", err)
			continue
		}
		if !ok {
			continue
		}
		l.dispatch(r)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("serial read: %w", err)
	}
	return nil
}

// parseLine returns ok=false for lines that carry no reading.
func parseLine(line string) (imu.Reading, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "ax") {
		return imu.Reading{}, false, nil
	}
	parts := strings.Split(line, ",")
	if len(parts) != 6 {
		return imu.Reading{}, false, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}
	var v [6]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return imu.Reading{}, false, fmt.Errorf("field %d: %w", i+1, err)
		}
		v[i] = f
	}
	return imu.Reading{Ax: v[0], Ay: v[1], Az: v[2], Gx: v[3], Gy: v[4], Gz: v[5]}, true, nil
}
