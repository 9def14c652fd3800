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

	"github.com/relabs-tech/rotation_calibrator/internal/calibration"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const (
	wsSendBuffer   = 32
	wsWriteTimeout = 5 * time.Second
)

// WSMessage is a request from a websocket client.
type WSMessage struct {
	Action string          `json:"action"` // subscribe, start_calibration, stop_calibration, set_reverse, set_max_value
	Sensor string          `json:"sensor,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// WSResponse is pushed to websocket clients.
type WSResponse struct {
	Type    string              `json:"type"` // status, error
	Sensor  string              `json:"sensor,omitempty"`
	Status  *calibration.Status `json:"status,omitempty"`
	Message string              `json:"message,omitempty"`
}

// SensorRegistry resolves sensors by id.
type SensorRegistry interface {
	Sensor(id string) (*Sensor, bool)
	Sensors() []*Sensor
}

type wsClient struct {
	conn *websocket.Conn
	send chan WSResponse

	mu     sync.Mutex
	all    bool
	topics map[string]bool
}

func (c *wsClient) subscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		c.all = true
		return
	}
	c.topics[id] = true
}

func (c *wsClient) wants(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.all || c.topics[id]
}

// Hub fans status updates out to the connected websocket clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	log     *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{clients: make(map[*wsClient]struct{}), log: log}
}

// Broadcast queues st for every client subscribed to sensor id. Slow clients
// miss updates instead of blocking the caller.
func (h *Hub) Broadcast(id string, st calibration.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(id) {
			continue
		}
		msg := WSResponse{Type: "status", Sensor: id, Status: &st}
		select {
		case c.send <- msg:
		default:
			h.log.Debugw("websocket client is slow, dropping update", "sensor", id)
		}
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the request and runs the action loop of one client.
func (h *Hub) HandleWS(reg SensorRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warnw("websocket upgrade error", "error", err)
			return
		}

		c := &wsClient{
			conn:   conn,
			send:   make(chan WSResponse, wsSendBuffer),
			topics: make(map[string]bool),
		}
		h.add(c)
		done := make(chan struct{})
		go c.writeLoop(done, h.log)

		defer func() {
			h.remove(c)
			close(done)
			conn.Close()
		}()

		// Main message loop
		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.log.Debugw("websocket read error", "error", err)
				}
				return
			}
			h.handle(c, reg, msg)
		}
	}
}

func (h *Hub) handle(c *wsClient, reg SensorRegistry, msg WSMessage) {
	if msg.Action == "subscribe" {
		if msg.Sensor == "" {
			c.subscribe("")
			for _, s := range reg.Sensors() {
				c.queue(statusMessage(s))
			}
			return
		}
		s, ok := reg.Sensor(msg.Sensor)
		if !ok {
			c.queue(WSResponse{Type: "error", Sensor: msg.Sensor, Message: ErrUnknownSensor.Error()})
			return
		}
		c.subscribe(s.ID())
		c.queue(statusMessage(s))
		return
	}

	s, ok := reg.Sensor(msg.Sensor)
	if !ok {
		c.queue(WSResponse{Type: "error", Sensor: msg.Sensor, Message: ErrUnknownSensor.Error()})
		return
	}
	// Commands subscribe the sender so it sees the resulting status.
	c.subscribe(s.ID())
	if err := s.Apply(msg.Action, msg.Value); err != nil {
		c.queue(WSResponse{Type: "error", Sensor: s.ID(), Message: err.Error()})
	}
}

func (c *wsClient) queue(msg WSResponse) {
	select {
	case c.send <- msg:
	default:
	}
}

// writeLoop is the only writer of conn.
func (c *wsClient) writeLoop(done <-chan struct{}, log *zap.SugaredLogger) {
	for {
		select {
		case <-done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debugw("websocket write error", "error", err)
				return
			}
		}
	}
}

func statusMessage(s *Sensor) WSResponse {
	st := s.Status()
	return WSResponse{Type: "status", Sensor: s.ID(), Status: &st}
}
