package calibration

import (
	"math"
	"sync"
)

// Ceiling is the user-settable upper end of the calibrated output range.
// It is owned outside of State and only read by the Mapper.
type Ceiling struct {
	mu    sync.RWMutex
	value int
}

// NewCeiling returns a Ceiling holding initial, clamped to [1, 100].
func NewCeiling(initial int) *Ceiling {
	return &Ceiling{value: ClampCeiling(initial)}
}

// Value implements CeilingSource.
func (c *Ceiling) Value() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set stores v rounded to the nearest step and clamped to [1, 100], and returns
// the stored value.
func (c *Ceiling) Set(v float64) int {
	n := DefaultCeiling
	if !math.IsNaN(v) && !math.IsInf(v, 0) {
		n = roundCeiling(v)
	}
	c.mu.Lock()
	c.value = n
	c.mu.Unlock()
	return n
}

// SetText parses payload and stores it. Unparseable payloads leave the
// ceiling untouched and return ErrNotNumeric.
func (c *Ceiling) SetText(payload string) (int, error) {
	v, err := ParseRaw(payload)
	if err != nil {
		return c.Value(), err
	}
	return c.Set(v), nil
}

// RestoreCeiling coerces a stored ceiling, falling back to def when v is
// missing or not numeric.
func RestoreCeiling(v any, def int) int {
	f, ok := coerceFloat(v)
	if !ok {
		return ClampCeiling(def)
	}
	return roundCeiling(f)
}

func roundCeiling(v float64) int {
	return ClampCeiling(int(math.Round(math.Max(MinCeiling, math.Min(MaxCeiling, v)))))
}
