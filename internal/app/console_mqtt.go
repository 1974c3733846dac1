package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_sensor/internal/config"
)

// RunConsoleMQTT prints angle and calibration events published by a running
// service until ctx is done.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, out io.Writer, logger *zap.SugaredLogger) error {
	client, err := ConnectMQTT(cfg, cfg.MQTTClientID+"-console", logger)
	if err != nil {
		return err
	}
	if client == nil {
		return fmt.Errorf("console needs MQTT_BROKER")
	}
	defer client.Disconnect(250)

	for _, topic := range []string{cfg.TopicAngle, cfg.TopicCalibration} {
		topic := topic
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			var ev Event
			if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
				logger.Warnw("console: unmarshal error", "topic", topic, "error", err)
				return
			}
			fmt.Fprintln(out, formatEvent(ev))
		})
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
		logger.Infow("console: subscribed", "topic", topic)
	}

	<-ctx.Done()
	logger.Info("console: shutting down")
	return nil
}

// formatEvent renders one event as a console line.
func formatEvent(ev Event) string {
	switch ev.Type {
	case EventAngle:
		if ev.Angle == nil {
			return fmt.Sprintf("[ANGLE] %-6s --", ev.Mode)
		}
		return fmt.Sprintf("[ANGLE] %-6s %7.1f°", ev.Mode, *ev.Angle)
	case EventProgress:
		return "[CAL ] " + ev.Message
	case EventComplete:
		if ev.Result == nil {
			return fmt.Sprintf("[CAL ] %s: %s", ev.Message, ev.Error)
		}
		r := ev.Result
		line := fmt.Sprintf("[CAL ] %s  acc bias=(%.4f, %.4f, %.4f)  gyro bias=(%.5f, %.5f, %.5f)  samples=%d/%d",
			ev.Message,
			r.Accel.Bias.X, r.Accel.Bias.Y, r.Accel.Bias.Z,
			r.Gyro.Bias.X, r.Gyro.Bias.Y, r.Gyro.Bias.Z,
			r.Accel.Samples, r.Gyro.Samples)
		if ev.ExportErr != "" {
			line += "  export failed: " + ev.ExportErr
		}
		return line
	case EventMode:
		return "[MODE] " + ev.Mode
	default:
		return fmt.Sprintf("[%s] %s %s", ev.Type, ev.Message, ev.Error)
	}
}
