package app

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Notifier receives every outbound event. Notify must not block for long;
// angle events arrive at the sensor rate.
type Notifier interface {
	Notify(Event)
}

// Notifiers fans one event out to several sinks.
type Notifiers []Notifier

func (ns Notifiers) Notify(ev Event) {
	for _, n := range ns {
		n.Notify(ev)
	}
}

// LogNotifier writes events to a zap logger. Angles are logged at debug.
type LogNotifier struct {
	Logger *zap.SugaredLogger
}

func (l LogNotifier) Notify(ev Event) {
	switch ev.Type {
	case EventAngle:
		l.Logger.Debugw("angle", "mode", ev.Mode, "deg", *ev.Angle)
	case EventProgress:
		l.Logger.Info(ev.Message)
	case EventComplete:
		if ev.Error != "" {
			l.Logger.Warnw("calibration: finished without result", "error", ev.Error)
			return
		}
		l.Logger.Infow("calibration: result",
			"accel_bias", ev.Result.Accel.Bias, "accel_var", ev.Result.Accel.Variance,
			"gyro_bias", ev.Result.Gyro.Bias, "gyro_var", ev.Result.Gyro.Variance)
	case EventMode:
		l.Logger.Infow("mode changed", "mode", ev.Mode)
	default:
		l.Logger.Infow(ev.Message, "type", ev.Type, "error", ev.Error)
	}
}

// publisher is the part of mqtt.Client the notifier needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTNotifier publishes angles to one topic and calibration events to
// another.
type MQTTNotifier struct {
	client           publisher
	topicAngle       string
	topicCalibration string
	logger           *zap.SugaredLogger
}

func NewMQTTNotifier(client publisher, topicAngle, topicCalibration string, logger *zap.SugaredLogger) *MQTTNotifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MQTTNotifier{
		client:           client,
		topicAngle:       topicAngle,
		topicCalibration: topicCalibration,
		logger:           logger,
	}
}

func (m *MQTTNotifier) Notify(ev Event) {
	topic := m.topicCalibration
	retained := true
	if ev.Type == EventAngle {
		topic = m.topicAngle
		retained = false
	}
	if topic == "" {
		return
	}
	if err := m.publish(topic, retained, ev); err != nil {
		m.logger.Warnw("mqtt notifier: publish failed", "topic", topic, "type", ev.Type, "error", err)
	}
}

func (m *MQTTNotifier) publish(topic string, retained bool, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	if token := m.client.Publish(topic, 0, retained, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}
