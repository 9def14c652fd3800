// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import "sync"

// Status is everything that becomes publishable after a change.
type Status struct {
	Output      int        `json:"output"`
	Ceiling     int        `json:"max_value"`
	Calibrating bool       `json:"calibrating"`
	CurrentRaw  *float64   `json:"raw"`
	Attributes  Attributes `json:"attributes"`
	Persisted   Persisted  `json:"-"`
}

// Listener receives the new Status after every accepted change. It is called
// with the controller lock held, so it must not call back into the Controller.
type Listener func(Status)

// Controller owns one State and serializes every mutation of it.
type Controller struct {
	mu       sync.Mutex
	state    State
	mapper   *Mapper
	listener Listener
}

// NewController wraps initial. listener may be nil.
func NewController(initial State, mapper *Mapper, listener Listener) *Controller {
	if mapper == nil {
		mapper = NewMapper(nil)
	}
	return &Controller{
		state:    cloneState(initial),
		mapper:   mapper,
		listener: listener,
	}
}

// StartCalibration begins a new learning pass. Previously learned bounds are
// discarded, also when a pass is already running.
func (c *Controller) StartCalibration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Calibrating = true
	c.state.MinObserved = nil
	c.state.MaxObserved = nil
	c.emit()
}

// StopCalibration ends the pass and keeps whatever bounds were learned.
func (c *Controller) StopCalibration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Calibrating = false
	c.emit()
}

// SetReverse sets the output direction.
func (c *Controller) SetReverse(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Reverse = v
	c.emit()
}

// Observe records a raw reading and widens the bounds while calibrating.
func (c *Controller) Observe(raw float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observe(raw)
	c.emit()
}

// ObserveText parses payload and observes it. Payloads that are not numbers
// are dropped without touching the state or notifying the listener; the
// return value tells whether the reading was taken.
func (c *Controller) ObserveText(payload string) bool {
	v, err := ParseRaw(payload)
	if err != nil {
		return false
	}
	c.Observe(v)
	return true
}

// Refresh re-emits the current status, e.g. after the ceiling changed.
func (c *Controller) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emit()
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneState(c.state)
}

// Status returns what the listener would receive right now.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status()
}

func (c *Controller) observe(raw float64) {
	v := raw
	c.state.CurrentRaw = &v
	if !c.state.Calibrating {
		return
	}
	if c.state.MinObserved == nil || raw < *c.state.MinObserved {
		lo := raw
		c.state.MinObserved = &lo
	}
	if c.state.MaxObserved == nil || raw > *c.state.MaxObserved {
		hi := raw
		c.state.MaxObserved = &hi
	}
}

func (c *Controller) status() Status {
	return Status{
		Output:      c.mapper.Output(c.state),
		Ceiling:     c.mapper.Ceiling(),
		Calibrating: c.state.Calibrating,
		CurrentRaw:  copyFloat(c.state.CurrentRaw),
		Attributes:  c.state.Attributes(),
		Persisted:   c.state.Snapshot(),
	}
}

func (c *Controller) emit() {
	if c.listener == nil {
		return
	}
	c.listener(c.status())
}

func cloneState(s State) State {
	return State{
		Calibrating: s.Calibrating,
		MinObserved: copyFloat(s.MinObserved),
		MaxObserved: copyFloat(s.MaxObserved),
		Reverse:     s.Reverse,
		CurrentRaw:  copyFloat(s.CurrentRaw),
	}
}
