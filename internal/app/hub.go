// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_sensor/internal/orientation"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// Controller is what WebSocket and HTTP clients may drive.
type Controller interface {
	StartCalibration(durationSeconds int) error
	DefaultCalibrationDuration() int
	CancelCalibration()
	SetMode(m orientation.Mode) error
}

// WSMessage is an inbound WebSocket command.
type WSMessage struct {
	Action   string `json:"action"`             // calibrate, cancel, mode
	Duration *int   `json:"duration,omitempty"` // seconds; omitted uses the default
	Mode     string `json:"mode,omitempty"`
}

const sendBuffer = 256

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub streams events to every connected WebSocket client and accepts
// commands from them. Slow clients miss events rather than stall the sensor
// path.
type Hub struct {
	ctrl   Controller
	logger *zap.SugaredLogger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func NewHub(ctrl Controller, logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{ctrl: ctrl, logger: logger, clients: make(map[*wsClient]struct{})}
}

// Notify broadcasts ev to all clients.
func (h *Hub) Notify(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warnw("ws: marshal event", "type", ev.Type, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
		}
	}
}

// SetController attaches the target of inbound commands.
func (h *Hub) SetController(ctrl Controller) {
	h.mu.Lock()
	h.ctrl = ctrl
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and runs its command loop.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("ws: upgrade error", "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debugw("ws: client connected", "remote", r.RemoteAddr)

	go c.writeLoop()
	h.readLoop(c)

	h.mu.Lock()
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()
	h.logger.Debugw("ws: client disconnected", "remote", r.RemoteAddr)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for b := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) readLoop(c *wsClient) {
	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debugw("ws: read error", "error", err)
			}
			return
		}
		if err := h.handle(msg); err != nil {
			h.reply(c, Event{Type: EventError, Time: time.Now(), Message: msg.Action, Error: err.Error()})
		}
	}
}

func (h *Hub) handle(msg WSMessage) error {
	h.mu.Lock()
	ctrl := h.ctrl
	h.mu.Unlock()
	if ctrl == nil {
		return errNoController
	}
	switch msg.Action {
	case "calibrate":
		d := ctrl.DefaultCalibrationDuration()
		if msg.Duration != nil {
			d = *msg.Duration
		}
		return ctrl.StartCalibration(d)
	case "cancel":
		ctrl.CancelCalibration()
		return nil
	case "mode":
		m, err := orientation.ParseMode(msg.Mode)
		if err != nil {
			return err
		}
		return ctrl.SetMode(m)
	default:
		return errUnknownAction
	}
}

func (h *Hub) reply(c *wsClient, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}
