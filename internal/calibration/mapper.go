// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import "math"

const (
	// DeadbandPercent is the share of the learned range cut off at each end.
	DeadbandPercent = 5

	MinCeiling     = 1
	MaxCeiling     = 100
	DefaultCeiling = 100
)

// CeilingSource provides the current output ceiling at mapping time.
type CeilingSource interface {
	Value() int
}

// CalibratedOutput maps the current raw reading of s into [0, ceiling].
//
// It returns 0 while calibrating, before bounds and a reading exist, and when the
// learned range has zero width. Readings inside the deadband snap to the ends;
// everything else is interpolated linearly and rounded half to even. A reversed
// output is ceiling minus the rounded forward output.
func CalibratedOutput(s State, ceiling int) int {
	ceiling = ClampCeiling(ceiling)

	if s.Calibrating {
		return 0
	}
	if s.MinObserved == nil || s.MaxObserved == nil || s.CurrentRaw == nil {
		return 0
	}

	lo, hi, cur := *s.MinObserved, *s.MaxObserved, *s.CurrentRaw
	span := hi - lo
	if span <= 0 {
		return 0
	}

	offset := span * DeadbandPercent / 100
	calMin := lo + offset
	calMax := hi - offset

	if cur <= calMin {
		if s.Reverse {
			return ceiling
		}
		return 0
	}
	if cur >= calMax {
		if s.Reverse {
			return 0
		}
		return ceiling
	}

	value := (cur - calMin) / (calMax - calMin) * float64(ceiling)
	out := int(math.RoundToEven(value))
	if out < 0 {
		out = 0
	}
	if out > ceiling {
		out = ceiling
	}
	// Reversal mirrors the rounded value so ties round the same way in both
	// directions.
	if s.Reverse {
		return ceiling - out
	}
	return out
}

// ClampCeiling forces a ceiling into [MinCeiling, MaxCeiling].
func ClampCeiling(c int) int {
	if c < MinCeiling {
		return MinCeiling
	}
	if c > MaxCeiling {
		return MaxCeiling
	}
	return c
}

// Mapper evaluates CalibratedOutput against an injected ceiling.
type Mapper struct {
	ceiling CeilingSource
}

// NewMapper returns a Mapper reading its ceiling from src. A nil src means the
// default ceiling.
func NewMapper(src CeilingSource) *Mapper {
	return &Mapper{ceiling: src}
}

// Ceiling returns the ceiling the next evaluation will use.
func (m *Mapper) Ceiling() int {
	if m == nil || m.ceiling == nil {
		return DefaultCeiling
	}
	return ClampCeiling(m.ceiling.Value())
}

// Output maps s with the current ceiling.
func (m *Mapper) Output(s State) int {
	return CalibratedOutput(s, m.Ceiling())
}
