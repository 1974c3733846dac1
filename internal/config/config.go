package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where binaries look for configuration when -config is not given.
const DefaultPath = "tilt_config.txt"

// Sensor sources.
const (
	SourceMock    = "mock"
	SourceMPU9250 = "mpu9250"
	SourceSerial  = "serial"
	SourceMQTT    = "mqtt"
)

// Config holds all application configuration values.
type Config struct {
	// Sensor
	SensorSource     string
	SampleIntervalMS int

	// Sessions
	CalibrationDurationS int
	MeasurementWindowS   int
	ExportDir            string
	// ApplyAccelBias hands the accelerometer bias (gravity included) to
	// fusion after calibration. When false only the gyro bias is applied.
	ApplyAccelBias bool

	// MQTT
	MQTTBroker   string // empty disables MQTT
	MQTTClientID string

	// Topics
	TopicAngle       string
	TopicCalibration string
	TopicIMU         string

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string

	// Raw count scale: 16384 LSB/g at ±2g, 131 LSB/(°/s) at ±250°/s
	IMUAccelLSBPerG  float64
	IMUGyroLSBPerDPS float64

	// Serial IMU
	SerialPort     string
	SerialBaudRate int

	// Web Server (0 disables)
	WebServerPort int

	LogLevel string
}

// Default returns a configuration that runs against the mock sensor with no
// broker.
func Default() *Config {
	return &Config{
		SensorSource:         SourceMock,
		SampleIntervalMS:     10,
		CalibrationDurationS: 60,
		MeasurementWindowS:   60,
		ExportDir:            "./data",
		ApplyAccelBias:       true,
		MQTTClientID:         "tilt-sensor",
		TopicAngle:           "tilt/angle",
		TopicCalibration:     "tilt/calibration",
		TopicIMU:             "tilt/imu",
		IMUSPIDevice:         "/dev/spidev0.0",
		IMUCSPin:             "8",
		IMUAccelLSBPerG:      16384,
		IMUGyroLSBPerDPS:     131,
		SerialPort:           "/dev/ttyUSB0",
		SerialBaudRate:       115200,
		WebServerPort:        8080,
		LogLevel:             "info",
	}
}

func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalMS) * time.Millisecond
}

func (c *Config) MeasurementWindow() time.Duration {
	return time.Duration(c.MeasurementWindowS) * time.Second
}

// Load reads the configuration file on top of Default. Files ending in
// .yaml or .yml are a flat mapping of the same keys; anything else is
// KEY=VALUE lines.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		err = cfg.readYAML(file)
	default:
		err = cfg.readText(file)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configPath, falling back to Default when the file does
// not exist.
func LoadOrDefault(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(configPath)
}

func (c *Config) readText(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := c.setValue(key, value); err != nil {
			return fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func (c *Config) readYAML(r io.Reader) error {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return fmt.Errorf("error reading config file: %w", err)
	}
	for key, raw := range doc {
		value := ""
		if raw != nil {
			value = fmt.Sprint(raw)
		}
		if err := c.setValue(key, value); err != nil {
			return fmt.Errorf("config key %s: %w", key, err)
		}
	}
	return nil
}

func atoi(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Sensor
	case "SENSOR_SOURCE":
		c.SensorSource = strings.ToLower(value)
	case "SAMPLE_INTERVAL_MS":
		c.SampleIntervalMS, err = atoi(key, value)

	// Sessions
	case "CALIBRATION_DURATION_S":
		c.CalibrationDurationS, err = atoi(key, value)
	case "MEASUREMENT_WINDOW_S":
		c.MeasurementWindowS, err = atoi(key, value)
	case "EXPORT_DIR":
		c.ExportDir = value
	case "APPLY_ACCEL_BIAS":
		v, perr := strconv.ParseBool(value)
		if perr != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, perr)
		}
		c.ApplyAccelBias = v

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value

	// Topics
	case "TOPIC_ANGLE":
		c.TopicAngle = value
	case "TOPIC_CALIBRATION":
		c.TopicCalibration = value
	case "TOPIC_IMU":
		c.TopicIMU = value

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_LSB_PER_G", "IMU_GYRO_LSB_PER_DPS":
		v, perr := strconv.ParseFloat(value, 64)
		if perr != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, perr)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %g", key, v)
		}
		if key == "IMU_ACCEL_LSB_PER_G" {
			c.IMUAccelLSBPerG = v
		} else {
			c.IMUGyroLSBPerDPS = v
		}

	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = atoi(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = atoi(key, value)

	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return err
}

// validate checks that the values are usable together.
func (c *Config) validate() error {
	switch c.SensorSource {
	case SourceMock, SourceMPU9250:
	case SourceSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required for SENSOR_SOURCE=serial")
		}
		if c.SerialBaudRate <= 0 {
			return fmt.Errorf("SERIAL_BAUD_RATE must be positive, got %d", c.SerialBaudRate)
		}
	case SourceMQTT:
		if c.MQTTBroker == "" {
			return fmt.Errorf("MQTT_BROKER is required for SENSOR_SOURCE=mqtt")
		}
	default:
		return fmt.Errorf("SENSOR_SOURCE must be one of mock, mpu9250, serial, mqtt, got %q", c.SensorSource)
	}
	if c.SampleIntervalMS <= 0 {
		return fmt.Errorf("SAMPLE_INTERVAL_MS must be positive, got %d", c.SampleIntervalMS)
	}
	if c.MeasurementWindowS <= 0 {
		return fmt.Errorf("MEASUREMENT_WINDOW_S must be positive, got %d", c.MeasurementWindowS)
	}
	if c.WebServerPort < 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT must be 0-65535, got %d", c.WebServerPort)
	}
	if c.ExportDir == "" {
		return fmt.Errorf("EXPORT_DIR is required")
	}
	return nil
}
