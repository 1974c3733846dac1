// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"

	"github.com/relabs-tech/tilt_sensor/internal/imu"
)

// MockConfig shapes the synthetic motion produced by the mock reader.
type MockConfig struct {
	AmplitudeDeg float64   // peak tilt of the rocking motion
	PeriodSec    float64   // period of one rock
	AccelBias    r3.Vector // constant offset added to every accel reading (g)
	GyroBias     r3.Vector // constant offset added to every gyro reading (rad/s)
	Noise        float64   // std-dev of white noise on every axis
	Seed         int64
}

// DefaultMockConfig rocks the device ±20° every ~9 s with small biases.
var DefaultMockConfig = MockConfig{
	AmplitudeDeg: 20,
	PeriodSec:    2 * math.Pi / 0.7,
	AccelBias:    r3.Vector{X: 0.01, Y: -0.02, Z: 0.015},
	GyroBias:     r3.Vector{X: 0.005, Y: -0.003, Z: 0.002},
	Noise:        0.002,
	Seed:         1,
}

type mockReader struct {
	cfg   MockConfig
	clock clock.Clock
	start time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMockReader creates a reader that generates a smooth rocking motion about
// the X axis, consistent between accelerometer tilt and gyro rate.
func NewMockReader(cfg MockConfig, clk clock.Clock) Reader {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.PeriodSec <= 0 {
		cfg.PeriodSec = DefaultMockConfig.PeriodSec
	}
	return &mockReader{
		cfg:   cfg,
		clock: clk,
		start: clk.Now(),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (m *mockReader) Read() (imu.Reading, error) {
	elapsed := m.clock.Since(m.start).Seconds()
	w := 2 * math.Pi / m.cfg.PeriodSec
	amp := m.cfg.AmplitudeDeg * math.Pi / 180.0

	// tilt = -atan2(ay, sqrt(ax²+az²)), so ay = -sin(tilt), az = cos(tilt)
	tilt := amp * math.Sin(w*elapsed)
	rate := amp * w * math.Cos(w*elapsed)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := func() float64 { return m.rng.NormFloat64() * m.cfg.Noise }

	return imu.Reading{
		Ax: m.cfg.AccelBias.X + n(),
		Ay: -math.Sin(tilt) + m.cfg.AccelBias.Y + n(),
		Az: math.Cos(tilt) + m.cfg.AccelBias.Z + n(),
		Gx: rate + m.cfg.GyroBias.X + n(),
		Gy: m.cfg.GyroBias.Y + n(),
		Gz: m.cfg.GyroBias.Z + n(),
	}, nil
}
