package app

import (
	"time"

	"github.com/relabs-tech/tilt_sensor/internal/calibration"
	"github.com/relabs-tech/tilt_sensor/internal/orientation"
)

// Event types carried over MQTT and the WebSocket.
const (
	EventAngle    = "angle"
	EventProgress = "progress"
	EventComplete = "complete"
	EventMode     = "mode"
	EventError    = "error"
)

// Event is the JSON envelope for every outbound notification.
type Event struct {
	Type      string              `json:"type"`
	Time      time.Time           `json:"time"`
	Mode      string              `json:"mode,omitempty"`
	Angle     *float64            `json:"angle,omitempty"`
	Message   string              `json:"message,omitempty"`
	Result    *calibration.Result `json:"result,omitempty"`
	Error     string              `json:"error,omitempty"`
	ExportErr string              `json:"export_error,omitempty"`
}

func angleEvent(at time.Time, mode orientation.Mode, angle float64) Event {
	return Event{Type: EventAngle, Time: at, Mode: mode.String(), Angle: &angle}
}

func progressEvent(at time.Time, text string) Event {
	return Event{Type: EventProgress, Time: at, Message: text}
}

func modeEvent(at time.Time, mode orientation.Mode) Event {
	return Event{Type: EventMode, Time: at, Mode: mode.String()}
}

func completeEvent(at time.Time, c calibration.Completion) Event {
	ev := Event{Type: EventComplete, Time: at}
	if c.OK() {
		res := c.Result
		ev.Result = &res
		ev.Message = "Calibration complete"
	} else {
		ev.Error = c.Err.Error()
		ev.Message = "Calibration failed"
	}
	if c.ExportErr != nil {
		ev.ExportErr = c.ExportErr.Error()
	}
	return ev
}
