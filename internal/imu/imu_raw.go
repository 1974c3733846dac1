// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"math"

	"github.com/golang/geo/r3"
)

// IMURaw represents a single raw accel+gyro sample in sensor counts.
type IMURaw struct {
	Source string `json:"source"`

	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`
}

// Scale converts raw counts into physical units.
type Scale struct {
	AccelLSBPerG  float64 // 16384 at ±2g
	GyroLSBPerDPS float64 // 131 at ±250°/s
}

// DefaultScale matches the MPU-9250 power-on ranges.
var DefaultScale = Scale{AccelLSBPerG: 16384, GyroLSBPerDPS: 131}

// Accel returns the acceleration in g.
func (r IMURaw) Accel(s Scale) r3.Vector {
	return r3.Vector{
		X: float64(r.Ax) / s.AccelLSBPerG,
		Y: float64(r.Ay) / s.AccelLSBPerG,
		Z: float64(r.Az) / s.AccelLSBPerG,
	}
}

// Gyro returns the angular rate in rad/s.
func (r IMURaw) Gyro(s Scale) r3.Vector {
	k := math.Pi / 180.0 / s.GyroLSBPerDPS
	return r3.Vector{
		X: float64(r.Gx) * k,
		Y: float64(r.Gy) * k,
		Z: float64(r.Gz) * k,
	}
}

// Reading is one decoded accel+gyro pair in physical units, as carried over
// MQTT and serial links.
type Reading struct {
	Ax float64 `json:"ax"`
	Ay float64 `json:"ay"`
	Az float64 `json:"az"`
	Gx float64 `json:"gx"`
	Gy float64 `json:"gy"`
	Gz float64 `json:"gz"`
}

func (r Reading) Accel() r3.Vector { return r3.Vector{X: r.Ax, Y: r.Ay, Z: r.Az} }
func (r Reading) Gyro() r3.Vector  { return r3.Vector{X: r.Gx, Y: r.Gy, Z: r.Gz} }
