package app

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_sensor/internal/config"
	"github.com/relabs-tech/tilt_sensor/internal/imu"
	"github.com/relabs-tech/tilt_sensor/internal/sensors"
)

// ConnectMQTT connects to the configured broker. It returns nil, nil when no
// broker is configured.
func ConnectMQTT(cfg *config.Config, clientID string, logger *zap.SugaredLogger) (mqtt.Client, error) {
	if cfg.MQTTBroker == "" {
		return nil, nil
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect %s: %w", cfg.MQTTBroker, token.Error())
	}
	logger.Infow("connected to MQTT broker", "broker", cfg.MQTTBroker, "client_id", clientID)
	return client, nil
}

// NewReader returns the pollable reader for the mock and mpu9250 sources.
func NewReader(cfg *config.Config, clk clock.Clock, logger *zap.SugaredLogger) (sensors.Reader, error) {
	switch cfg.SensorSource {
	case config.SourceMock:
		return sensors.NewMockReader(sensors.DefaultMockConfig, clk), nil
	case config.SourceMPU9250:
		return sensors.NewMPU9250Reader(sensors.MPU9250Config{
			SPIDevice: cfg.IMUSPIDevice,
			CSPin:     cfg.IMUCSPin,
			Scale: imu.Scale{
				AccelLSBPerG:  cfg.IMUAccelLSBPerG,
				GyroLSBPerDPS: cfg.IMUGyroLSBPerDPS,
			},
		}, logger)
	default:
		return nil, fmt.Errorf("sensor source %q cannot be polled", cfg.SensorSource)
	}
}

// OpenFeed builds the feed selected by SENSOR_SOURCE. client is only used for
// the mqtt source. The returned cleanup releases the source.
func OpenFeed(ctx context.Context, cfg *config.Config, client mqtt.Client, clk clock.Clock, logger *zap.SugaredLogger) (sensors.Feed, func(), error) {
	logger.Infow("opening sensor feed", "source", cfg.SensorSource)

	switch cfg.SensorSource {
	case config.SourceMock, config.SourceMPU9250:
		r, err := NewReader(cfg, clk, logger)
		if err != nil {
			return nil, nil, err
		}
		feed := sensors.NewPollingFeed(r, cfg.SampleInterval(), clk, logger)
		return feed, func() {
			feed.StopAccel()
			feed.StopGyro()
		}, nil

	case config.SourceSerial:
		feed, err := sensors.OpenSerialFeed(cfg.SerialPort, uint(cfg.SerialBaudRate), logger)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithCancel(ctx)
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Errorw("serial feed stopped", "error", err)
			}
		}()
		return feed, cancel, nil

	case config.SourceMQTT:
		if client == nil {
			return nil, nil, fmt.Errorf("sensor source mqtt needs MQTT_BROKER")
		}
		feed, err := sensors.NewMQTTFeed(client, cfg.TopicIMU, logger)
		if err != nil {
			return nil, nil, err
		}
		return feed, feed.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown sensor source %q", cfg.SensorSource)
}
