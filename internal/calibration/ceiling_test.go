package calibration

import "testing"

func TestCeilingSet(t *testing.T) {
	c := NewCeiling(0)
	if got := c.Value(); got != MinCeiling {
		t.Fatalf("NewCeiling(0) = %d, want %d", got, MinCeiling)
	}

	tests := []struct {
		in   float64
		want int
	}{
		{50, 50},
		{42.6, 43},
		{0.2, 1},
		{-10, 1},
		{150, 100},
	}
	for _, tt := range tests {
		if got := c.Set(tt.in); got != tt.want {
			t.Errorf("Set(%v) = %d, want %d", tt.in, got, tt.want)
		}
		if got := c.Value(); got != tt.want {
			t.Errorf("Value() after Set(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCeilingSetTextRejectsGarbage(t *testing.T) {
	c := NewCeiling(60)
	if _, err := c.SetText("lots"); err != ErrNotNumeric {
		t.Errorf("SetText(\"lots\") err = %v, want ErrNotNumeric", err)
	}
	if got := c.Value(); got != 60 {
		t.Errorf("ceiling changed to %d by rejected payload", got)
	}
	if got, err := c.SetText("25"); err != nil || got != 25 {
		t.Errorf("SetText(\"25\") = %d, %v", got, err)
	}
}

func TestRestoreCeiling(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{nil, DefaultCeiling},
		{"broken", DefaultCeiling},
		{30.0, 30},
		{"45", 45},
		{999.0, MaxCeiling},
	}
	for _, tt := range tests {
		if got := RestoreCeiling(tt.in, DefaultCeiling); got != tt.want {
			t.Errorf("RestoreCeiling(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
