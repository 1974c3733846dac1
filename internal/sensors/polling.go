// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_sensor/internal/imu"
)

// Reader is anything that can be polled for a reading in physical units.
type Reader interface {
	Read() (imu.Reading, error)
}

// PollingFeed turns a Reader into a push-driven Feed by polling it on a
// ticker while at least one channel is subscribed.
type PollingFeed struct {
	fanout

	reader   Reader
	clock    clock.Clock
	interval time.Duration
	logger   *zap.SugaredLogger

	runMu  sync.Mutex
	cancel context.CancelFunc
}

// NewPollingFeed polls r every interval. A zero interval uses imu.SamplePeriod.
func NewPollingFeed(r Reader, interval time.Duration, clk clock.Clock, logger *zap.SugaredLogger) *PollingFeed {
	if interval <= 0 {
		interval = imu.SamplePeriod
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PollingFeed{reader: r, clock: clk, interval: interval, logger: logger}
}

func (p *PollingFeed) StartAccel(h Handler) error {
	if err := p.fanout.StartAccel(h); err != nil {
		return err
	}
	p.ensureRunning()
	return nil
}

func (p *PollingFeed) StartGyro(h Handler) error {
	if err := p.fanout.StartGyro(h); err != nil {
		return err
	}
	p.ensureRunning()
	return nil
}

func (p *PollingFeed) StopAccel() {
	p.fanout.StopAccel()
	p.stopIfIdle()
}

func (p *PollingFeed) StopGyro() {
	p.fanout.StopGyro()
	p.stopIfIdle()
}

func (p *PollingFeed) ensureRunning() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	ticker := p.clock.Ticker(p.interval)
	go p.run(ctx, ticker)
	p.logger.Debugw("polling feed started", "interval", p.interval)
}

// stopIfIdle cancels the poll loop without waiting for it, so it is safe to
// call from inside a handler.
func (p *PollingFeed) stopIfIdle() {
	if !p.idle() {
		return
	}
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
		p.logger.Debug("polling feed stopped")
	}
}

func (p *PollingFeed) run(ctx context.Context, ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r, err := p.reader.Read()
		if err != nil {
			p.logger.Warnw("sensor read error", "error", err)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		p.dispatch(r)
	}
}
