package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_sensor/internal/config"
	"github.com/relabs-tech/tilt_sensor/internal/sensors"
)

// RunIMUProducer polls the local sensor and publishes every reading as JSON
// to TOPIC_IMU, where a service with SENSOR_SOURCE=mqtt picks it up.
func RunIMUProducer(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	logger.Infow("starting IMU producer", "source", cfg.SensorSource, "topic", cfg.TopicIMU)

	client, err := ConnectMQTT(cfg, cfg.MQTTClientID+"-imu", logger)
	if err != nil {
		return err
	}
	if client == nil {
		return fmt.Errorf("IMU producer needs MQTT_BROKER")
	}
	defer client.Disconnect(250)

	clk := clock.New()
	r, err := NewReader(cfg, clk, logger)
	if err != nil {
		return err
	}
	return produce(ctx, r, client, cfg.TopicIMU, clk.Ticker(cfg.SampleInterval()), logger)
}

// produce publishes one reading per tick until ctx is done.
func produce(ctx context.Context, r sensors.Reader, client publisher, topic string, ticker *clock.Ticker, logger *zap.SugaredLogger) error {
	defer ticker.Stop()
	var published, failed uint64
	for {
		select {
		case <-ctx.Done():
			logger.Infow("IMU producer stopped", "published", published, "failed", failed)
			return nil
		case <-ticker.C:
		}

		reading, err := r.Read()
		if err != nil {
			failed++
			logger.Warnw("IMU read error", "error", err)
			continue
		}
		payload, err := json.Marshal(reading)
		if err != nil {
			failed++
			logger.Warnw("IMU marshal error", "error", err)
			continue
		}
		if token := client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
			failed++
			logger.Warnw("MQTT publish error", "topic", topic, "error", token.Error())
			continue
		}
		published++
		if published%1000 == 0 {
			logger.Debugw("IMU producer tick", "published", published, "reading", reading)
		}
	}
}
