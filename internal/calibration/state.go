// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Attribute keys shared by the persisted form and the published attributes.
const (
	AttrMinRotation = "min_rotation"
	AttrMaxRotation = "max_rotation"
	AttrDelta       = "delta"
	AttrCalibrated  = "calibrated"
	AttrReverse     = "reverse"
)

// ErrNotNumeric is returned by ParseRaw when a payload cannot be used as a reading.
var ErrNotNumeric = errors.New("value is not numeric")

// State is the learned calibration of one rotation sensor.
type State struct {
	Calibrating bool
	MinObserved *float64
	MaxObserved *float64
	Reverse     bool
	CurrentRaw  *float64
}

// Persisted is the part of State that survives a restart. Calibrating and
// CurrentRaw are not part of it.
type Persisted struct {
	MinRotation *float64 `json:"min_rotation"`
	MaxRotation *float64 `json:"max_rotation"`
	Reverse     bool     `json:"reverse"`
}

// Attributes is the externally published view of a State.
type Attributes struct {
	MinRotation *float64 `json:"min_rotation"`
	MaxRotation *float64 `json:"max_rotation"`
	Delta       *float64 `json:"delta"`
	Calibrated  bool     `json:"calibrated"`
	Reverse     bool     `json:"reverse"`
}

// HasBounds reports whether both learned bounds are present.
func (s State) HasBounds() bool {
	return s.MinObserved != nil && s.MaxObserved != nil
}

// Snapshot captures the persisted subset of the state.
func (s State) Snapshot() Persisted {
	return Persisted{
		MinRotation: copyFloat(s.MinObserved),
		MaxRotation: copyFloat(s.MaxObserved),
		Reverse:     s.Reverse,
	}
}

// Attributes builds the published attribute set.
func (s State) Attributes() Attributes {
	a := Attributes{
		MinRotation: copyFloat(s.MinObserved),
		MaxRotation: copyFloat(s.MaxObserved),
		Calibrated:  !s.Calibrating && s.HasBounds(),
		Reverse:     s.Reverse,
	}
	if s.HasBounds() {
		d := *s.MaxObserved - *s.MinObserved
		a.Delta = &d
	}
	return a
}

// Restore rebuilds a State from previously stored attributes. Each field is
// coerced on its own; anything missing or unusable falls back to its zero value.
// The restored state is never calibrating and has no current reading.
func Restore(attrs map[string]any) State {
	var s State
	if attrs == nil {
		return s
	}
	if v, ok := coerceFloat(attrs[AttrMinRotation]); ok {
		s.MinObserved = &v
	}
	if v, ok := coerceFloat(attrs[AttrMaxRotation]); ok {
		s.MaxObserved = &v
	}
	if b, ok := coerceBool(attrs[AttrReverse]); ok {
		s.Reverse = b
	}
	return s
}

// ParseRaw converts an incoming payload into a reading. Empty, non-numeric,
// NaN and infinite values are rejected with ErrNotNumeric.
func ParseRaw(payload string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNotNumeric
	}
	return v, nil
}

func coerceFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case float32:
		return coerceFloat(float64(t))
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := ParseRaw(t)
		return f, err == nil
	default:
		return 0, false
	}
}

func coerceBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	case float64:
		return t != 0, true
	default:
		return false, false
	}
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
