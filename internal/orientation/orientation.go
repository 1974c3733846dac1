// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"
)

// Alpha is the gyro weight of the complementary filter.
const Alpha = 0.98

const radToDeg = 180.0 / math.Pi

// Mode selects how angles are estimated.
type Mode int

const (
	ModeIdle Mode = iota
	ModeAccelOnly
	ModeGyroOnly
	ModeComplementary
)

func (m Mode) String() string {
	switch m {
	case ModeAccelOnly:
		return "acc"
	case ModeGyroOnly:
		return "gyr"
	case ModeComplementary:
		return "fusion"
	default:
		return "idle"
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMode accepts the names produced by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "acc", "accel":
		return ModeAccelOnly, nil
	case "gyr", "gyro":
		return ModeGyroOnly, nil
	case "fusion", "complementary":
		return ModeComplementary, nil
	case "idle", "stop":
		return ModeIdle, nil
	}
	return ModeIdle, fmt.Errorf("unknown mode %q", s)
}

// State is a snapshot of the fusion engine.
type State struct {
	CurrentAngle   float64   `json:"angle"`
	LastUpdateTime time.Time `json:"last_update"`
	AccelBias      r3.Vector `json:"accel_bias"`
	GyroBias       r3.Vector `json:"gyro_bias"`
	Mode           Mode      `json:"mode"`
	Running        bool      `json:"running"`
}

// TiltFromAccel returns the tilt of the device's long axis relative to
// horizontal in degrees, from a bias-corrected accelerometer reading:
//
//	pitch = atan2(y, sqrt(x² + z²))
//	tilt  = -pitch
func TiltFromAccel(a r3.Vector) float64 {
	pitch := math.Atan2(a.Y, math.Sqrt(a.X*a.X+a.Z*a.Z)) * radToDeg
	return -pitch
}

// IntegrateRate advances angle (degrees) by rate (rad/s) over dt.
func IntegrateRate(angle, rate float64, dt time.Duration) float64 {
	return angle + rate*dt.Seconds()*radToDeg
}

// Blend mixes the gyro-propagated angle with the accelerometer reference.
func Blend(gyroAngle, accelAngle, alpha float64) float64 {
	return alpha*gyroAngle + (1-alpha)*accelAngle
}
