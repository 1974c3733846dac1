package sensors

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_sensor/internal/imu"
)

// MQTTFeed subscribes to a topic carrying JSON imu.Reading payloads, e.g.
// from a remote IMU producer, and pushes them to the subscribed handlers.
type MQTTFeed struct {
	fanout

	client mqtt.Client
	topic  string
	logger *zap.SugaredLogger
}

// NewMQTTFeed subscribes to topic on an already connected client.
func NewMQTTFeed(client mqtt.Client, topic string, logger *zap.SugaredLogger) (*MQTTFeed, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	f := &MQTTFeed{client: client, topic: topic, logger: logger}

	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		f.handle(msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return nil, fmt.Errorf("mqtt subscribe %s: %w", topic, token.Error())
	}
	logger.Infow("mqtt feed: subscribed", "topic", topic)
	return f, nil
}

func (f *MQTTFeed) handle(payload []byte) {
	if f.idle() {
		return
	}
	var r imu.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		f.logger.Warnw("mqtt feed: payload unmarshal error", "error", err)
		return
	}
	f.dispatch(r)
}

// Close unsubscribes from the topic.
func (f *MQTTFeed) Close() {
	f.StopAccel()
	f.StopGyro()
	f.client.Unsubscribe(f.topic).Wait()
}
