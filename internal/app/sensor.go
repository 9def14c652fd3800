// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/relabs-tech/rotation_calibrator/internal/calibration"
	"github.com/relabs-tech/rotation_calibrator/internal/config"
	"github.com/relabs-tech/rotation_calibrator/internal/hass"
	"github.com/relabs-tech/rotation_calibrator/internal/store"
)

// Command names shared by the MQTT, HTTP and websocket surfaces.
const (
	CmdStartCalibration = "start_calibration"
	CmdStopCalibration  = "stop_calibration"
	CmdSetReverse       = "set_reverse"
	CmdSetMaxValue      = "set_max_value"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnknownSensor  = errors.New("unknown sensor")
)

// StateStore loads and saves the persisted calibration of a sensor.
type StateStore interface {
	Load(id string) (map[string]any, error)
	Save(id string, rec store.Record) error
}

// Sensor ties one calibration controller to its input, outputs and storage.
type Sensor struct {
	cfg     config.SensorConfig
	topics  hass.Topics
	ceiling *calibration.Ceiling
	ctrl    *calibration.Controller

	pub     Publisher
	store   StateStore
	metrics *Metrics
	hub     *Hub
	log     *zap.SugaredLogger

	savedMu sync.Mutex
	saved   *store.Record // last record known to be on disk
}

// SensorDeps are the collaborators of a Sensor. Any of them may be nil.
type SensorDeps struct {
	Publisher Publisher
	Store     StateStore
	Metrics   *Metrics
	Hub       *Hub
	Log       *zap.SugaredLogger
}

// NewSensor restores the last persisted calibration of sc and returns a
// sensor that is not calibrating. A missing or unreadable record leaves the
// sensor uncalibrated with the configured max value.
func NewSensor(sc config.SensorConfig, topicPrefix string, deps SensorDeps) *Sensor {
	log := deps.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Sensor{
		cfg:     sc,
		topics:  hass.TopicsFor(topicPrefix, sc.ID),
		pub:     deps.Publisher,
		store:   deps.Store,
		metrics: deps.Metrics,
		hub:     deps.Hub,
		log:     log.Named("sensor." + sc.ID),
	}

	attrs := map[string]any{}
	if s.store != nil {
		loaded, err := s.store.Load(sc.ID)
		if err != nil {
			s.log.Warnw("ignoring stored calibration", "error", err)
		} else {
			attrs = loaded
		}
	}

	initial := calibration.Restore(attrs)
	def := sc.MaxValue
	if def == 0 {
		def = calibration.DefaultCeiling
	}
	s.ceiling = calibration.NewCeiling(calibration.RestoreCeiling(attrs[store.AttrMaxValue], def))
	if len(attrs) > 0 {
		rec := store.Record{Persisted: initial.Snapshot(), MaxValue: s.ceiling.Value()}
		s.saved = &rec
	}
	s.ctrl = calibration.NewController(initial, calibration.NewMapper(s.ceiling), s.onChange)

	s.log.Infow("sensor restored",
		"calibrated", initial.HasBounds(),
		"reverse", initial.Reverse,
		"max_value", s.ceiling.Value(),
	)
	return s
}

func (s *Sensor) ID() string          { return s.cfg.ID }
func (s *Sensor) Name() string        { return s.cfg.Name }
func (s *Sensor) InputTopic() string  { return s.cfg.InputTopic }
func (s *Sensor) Topics() hass.Topics { return s.topics }

// Status returns the current calibrated output and attributes.
func (s *Sensor) Status() calibration.Status {
	return s.ctrl.Status()
}

// HandleInput takes a raw reading as published by the source sensor. Non
// numeric payloads are counted and dropped.
func (s *Sensor) HandleInput(payload string) {
	ok := s.ctrl.ObserveText(payload)
	s.metrics.reading(s.cfg.ID, ok)
	if !ok {
		s.log.Debugw("dropping non-numeric reading", "payload", payload)
	}
}

func (s *Sensor) StartCalibration() {
	s.log.Infow("calibration started")
	s.metrics.command(s.cfg.ID, CmdStartCalibration)
	s.ctrl.StartCalibration()
}

func (s *Sensor) StopCalibration() {
	s.metrics.command(s.cfg.ID, CmdStopCalibration)
	s.ctrl.StopCalibration()
	st := s.ctrl.State()
	s.log.Infow("calibration stopped", "calibrated", st.HasBounds())
}

func (s *Sensor) SetReverse(v bool) {
	s.metrics.command(s.cfg.ID, CmdSetReverse)
	s.ctrl.SetReverse(v)
}

// SetMaxValue rounds and clamps v to [1, 100] and returns the value in use.
func (s *Sensor) SetMaxValue(v float64) int {
	s.metrics.command(s.cfg.ID, CmdSetMaxValue)
	n := s.ceiling.Set(v)
	s.ctrl.Refresh()
	return n
}

// Refresh republishes the current status, e.g. after a reconnect.
func (s *Sensor) Refresh() {
	s.ctrl.Refresh()
}

// Apply runs a named command. value carries the JSON argument of
// set_reverse (bool) and set_max_value (number).
func (s *Sensor) Apply(action string, value json.RawMessage) error {
	switch action {
	case CmdStartCalibration:
		s.StartCalibration()
	case CmdStopCalibration:
		s.StopCalibration()
	case CmdSetReverse:
		var v bool
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("%s needs a boolean value: %w", action, err)
		}
		s.SetReverse(v)
	case CmdSetMaxValue:
		var v float64
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("%s needs a numeric value: %w", action, err)
		}
		s.SetMaxValue(v)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, action)
	}
	return nil
}

// HandleCommand applies a payload received on one of the MQTT command topics.
func (s *Sensor) HandleCommand(topic, payload string) error {
	switch topic {
	case s.topics.CalibrateCommand:
		on, err := hass.ParseSwitch(payload)
		if err != nil {
			return err
		}
		if on {
			s.StartCalibration()
		} else {
			s.StopCalibration()
		}
	case s.topics.ReverseCommand:
		on, err := hass.ParseSwitch(payload)
		if err != nil {
			return err
		}
		s.SetReverse(on)
	case s.topics.MaxValueCommand:
		v, err := calibration.ParseRaw(payload)
		if err != nil {
			return fmt.Errorf("invalid max value %q: %w", payload, err)
		}
		s.SetMaxValue(v)
	default:
		return fmt.Errorf("%w: topic %s", ErrUnknownCommand, topic)
	}
	return nil
}

// onChange runs under the controller lock after every accepted change.
func (s *Sensor) onChange(st calibration.Status) {
	s.publish(st)
	s.persist(st)
	s.metrics.observe(s.cfg.ID, st)
	if s.hub != nil {
		s.hub.Broadcast(s.cfg.ID, st)
	}
}

func (s *Sensor) publish(st calibration.Status) {
	if s.pub == nil {
		return
	}
	attrs, err := json.Marshal(st.Attributes)
	if err != nil {
		s.log.Errorw("failed to marshal attributes", "error", err)
		return
	}
	s.pub.Publish(s.topics.State, true, []byte(strconv.Itoa(st.Output)))
	s.pub.Publish(s.topics.Attributes, true, attrs)
	s.pub.Publish(s.topics.CalibrateState, true, []byte(hass.FormatSwitch(st.Calibrating)))
	s.pub.Publish(s.topics.ReverseState, true, []byte(hass.FormatSwitch(st.Attributes.Reverse)))
	s.pub.Publish(s.topics.MaxValueState, true, []byte(strconv.Itoa(st.Ceiling)))
}

// persist saves the calibration when it differs from what is on disk. Save
// errors are logged and never affect the in-memory state.
func (s *Sensor) persist(st calibration.Status) {
	if s.store == nil {
		return
	}
	rec := store.Record{Persisted: st.Persisted, MaxValue: st.Ceiling}

	s.savedMu.Lock()
	defer s.savedMu.Unlock()
	if s.saved != nil && sameRecord(*s.saved, rec) {
		return
	}
	if err := s.store.Save(s.cfg.ID, rec); err != nil {
		s.log.Warnw("failed to persist calibration", "error", err)
		return
	}
	s.saved = &rec
}

func sameRecord(a, b store.Record) bool {
	return a.MaxValue == b.MaxValue &&
		a.Reverse == b.Reverse &&
		sameFloat(a.MinRotation, b.MinRotation) &&
		sameFloat(a.MaxRotation, b.MaxRotation)
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
