// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/tilt_sensor/internal/imu"
)

// MPU9250Config describes how the IMU is wired.
type MPU9250Config struct {
	SPIDevice string
	CSPin     string
	Scale     imu.Scale
	// RunSelfCalibration runs the chip's own offset routine at startup.
	RunSelfCalibration bool
}

type mpuReader struct {
	imu   *mpu9250.MPU9250
	scale imu.Scale
}

// NewMPU9250Reader initializes an MPU9250 over SPI and returns a Reader that
// converts its raw counts using cfg.Scale.
func NewMPU9250Reader(cfg MPU9250Config, logger *zap.SugaredLogger) (Reader, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", cfg.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(cfg.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", cfg.SPIDevice, err)
	}

	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}

	if cfg.RunSelfCalibration {
		if err := dev.Calibrate(); err != nil {
			logger.Warnw("IMU: chip calibration failed", "error", err)
		} else {
			logger.Info("IMU: chip calibration complete")
		}
	}

	scale := cfg.Scale
	if scale.AccelLSBPerG == 0 || scale.GyroLSBPerDPS == 0 {
		scale = imu.DefaultScale
	}
	logger.Infow("IMU: ready", "spi", cfg.SPIDevice, "cs", cfg.CSPin,
		"accel_lsb_per_g", scale.AccelLSBPerG, "gyro_lsb_per_dps", scale.GyroLSBPerDPS)

	return &mpuReader{imu: dev, scale: scale}, nil
}

// ReadRaw reads accelerometer and gyroscope counts.
func (s *mpuReader) ReadRaw() (imu.IMURaw, error) {
	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU accel X: %w", err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU accel Y: %w", err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU accel Z: %w", err)
	}

	gx, err := s.imu.GetRotationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU gyro X: %w", err)
	}
	gy, err := s.imu.GetRotationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU gyro Y: %w", err)
	}
	gz, err := s.imu.GetRotationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU gyro Z: %w", err)
	}

	return imu.IMURaw{
		Source: "mpu9250",
		Ax:     ax,
		Ay:     ay,
		Az:     az,
		Gx:     gx,
		Gy:     gy,
		Gz:     gz,
	}, nil
}

func (s *mpuReader) Read() (imu.Reading, error) {
	raw, err := s.ReadRaw()
	if err != nil {
		return imu.Reading{}, err
	}
	return readingFromRaw(raw, s.scale), nil
}

func readingFromRaw(raw imu.IMURaw, scale imu.Scale) imu.Reading {
	a := raw.Accel(scale)
	g := raw.Gyro(scale)
	return imu.Reading{Ax: a.X, Ay: a.Y, Az: a.Z, Gx: g.X, Gy: g.Y, Gz: g.Z}
}
