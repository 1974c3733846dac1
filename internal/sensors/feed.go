// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"sync"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/tilt_sensor/internal/imu"
)

// Handler receives one reading from a feed. Handlers must return quickly;
// they run on the feed's delivery goroutine.
type Handler func(r3.Vector)

// Feed is a push-driven source of accelerometer and gyroscope readings with
// independent start/stop control per channel.
type Feed interface {
	StartAccel(h Handler) error
	StartGyro(h Handler) error
	StopAccel()
	StopGyro()
}

// ErrNilHandler is returned when a channel is started without a handler.
var ErrNilHandler = errors.New("sensors: nil handler")

// fanout holds the currently subscribed handlers and dispatches readings to
// them. Feeds embed it and call dispatch from their delivery goroutine.
type fanout struct {
	mu    sync.RWMutex
	accel Handler
	gyro  Handler
}

func (f *fanout) StartAccel(h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	f.mu.Lock()
	f.accel = h
	f.mu.Unlock()
	return nil
}

func (f *fanout) StartGyro(h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	f.mu.Lock()
	f.gyro = h
	f.mu.Unlock()
	return nil
}

func (f *fanout) StopAccel() {
	f.mu.Lock()
	f.accel = nil
	f.mu.Unlock()
}

func (f *fanout) StopGyro() {
	f.mu.Lock()
	f.gyro = nil
	f.mu.Unlock()
}

func (f *fanout) idle() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.accel == nil && f.gyro == nil
}

func (f *fanout) handlers() (accel, gyro Handler) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.accel, f.gyro
}

// dispatch hands r to the subscribed handlers. Handlers are called outside
// the lock so they may stop the feed.
func (f *fanout) dispatch(r imu.Reading) {
	a, g := f.handlers()

	if a != nil {
		a(r.Accel())
	}
	if g != nil {
		g(r.Gyro())
	}
}
