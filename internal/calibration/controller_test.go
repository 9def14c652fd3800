package calibration

import (
	"math/rand"
	"testing"
)

type recorder struct {
	statuses []Status
}

func (r *recorder) listen(s Status) { r.statuses = append(r.statuses, s) }

func (r *recorder) last(t *testing.T) Status {
	t.Helper()
	if len(r.statuses) == 0 {
		t.Fatal("listener was never called")
	}
	return r.statuses[len(r.statuses)-1]
}

func TestControllerBoundsWidenDuringCalibration(t *testing.T) {
	rec := &recorder{}
	c := NewController(State{}, NewMapper(nil), rec.listen)
	c.StartCalibration()

	rng := rand.New(rand.NewSource(42))
	var prevMin, prevMax float64
	for i := 0; i < 500; i++ {
		v := rng.Float64()*400 - 200
		c.Observe(v)
		s := c.State()

		if s.MinObserved == nil || s.MaxObserved == nil {
			t.Fatalf("observation %d: bounds not set", i)
		}
		lo, hi := *s.MinObserved, *s.MaxObserved
		if v < lo || v > hi {
			t.Fatalf("observation %d: %.3f outside [%.3f, %.3f]", i, v, lo, hi)
		}
		if i > 0 && (lo > prevMin || hi < prevMax) {
			t.Fatalf("observation %d: bounds narrowed from [%.3f, %.3f] to [%.3f, %.3f]", i, prevMin, prevMax, lo, hi)
		}
		if *s.CurrentRaw != v {
			t.Fatalf("observation %d: current raw %.3f, want %.3f", i, *s.CurrentRaw, v)
		}
		if out := rec.last(t).Output; out != 0 {
			t.Fatalf("observation %d: output %d while calibrating, want 0", i, out)
		}
		prevMin, prevMax = lo, hi
	}
}

func TestControllerStartResetsBounds(t *testing.T) {
	c := NewController(State{MinObserved: f(3), MaxObserved: f(9), Reverse: true}, nil, nil)
	c.StartCalibration()

	s := c.State()
	if !s.Calibrating {
		t.Error("expected calibrating after StartCalibration")
	}
	if s.MinObserved != nil || s.MaxObserved != nil {
		t.Errorf("expected bounds cleared, got min=%v max=%v", s.MinObserved, s.MaxObserved)
	}
	if !s.Reverse {
		t.Error("StartCalibration must not touch reverse")
	}

	c.Observe(4)
	c.Observe(6)
	c.StartCalibration()
	s = c.State()
	if s.MinObserved != nil || s.MaxObserved != nil {
		t.Error("restarting a running pass must clear bounds again")
	}
}

func TestControllerStopKeepsBounds(t *testing.T) {
	rec := &recorder{}
	c := NewController(State{}, NewMapper(NewCeiling(100)), rec.listen)
	c.StartCalibration()
	c.Observe(0)
	c.Observe(100)
	c.StopCalibration()
	c.StopCalibration()

	s := c.State()
	if s.Calibrating {
		t.Error("expected calibrating=false after StopCalibration")
	}
	if *s.MinObserved != 0 || *s.MaxObserved != 100 {
		t.Errorf("bounds changed on stop: [%v, %v]", *s.MinObserved, *s.MaxObserved)
	}
	if got := rec.last(t).Output; got != 100 {
		t.Errorf("output after stop = %d, want 100 (raw 100 is above the deadband)", got)
	}

	c.Observe(50)
	if got := rec.last(t).Output; got != 50 {
		t.Errorf("output = %d, want 50", got)
	}
	c.Observe(500)
	if s := c.State(); *s.MaxObserved != 100 {
		t.Errorf("bounds must not widen outside calibration, max=%v", *s.MaxObserved)
	}
}

func TestControllerSetReverseAppliesToLearnedBounds(t *testing.T) {
	rec := &recorder{}
	c := NewController(State{MinObserved: f(0), MaxObserved: f(100)}, nil, rec.listen)
	c.Observe(27.5)
	if got := rec.last(t).Output; got != 25 {
		t.Fatalf("output = %d, want 25", got)
	}

	c.SetReverse(true)
	st := rec.last(t)
	if st.Output != 75 {
		t.Errorf("reversed output = %d, want 75", st.Output)
	}
	if !st.Attributes.Reverse || !st.Persisted.Reverse {
		t.Error("reverse flag not reflected in status")
	}
}

func TestControllerDiscardsMalformedInput(t *testing.T) {
	rec := &recorder{}
	c := NewController(State{MinObserved: f(0), MaxObserved: f(100)}, nil, rec.listen)
	if !c.ObserveText("50") {
		t.Fatal("ObserveText(\"50\") rejected")
	}
	before := c.State()
	calls := len(rec.statuses)

	for _, payload := range []string{"not_a_number", "", "unavailable", "unknown", "NaN", "+Inf", "1,5"} {
		if c.ObserveText(payload) {
			t.Errorf("ObserveText(%q) accepted", payload)
		}
	}

	if len(rec.statuses) != calls {
		t.Errorf("listener called %d times for discarded input", len(rec.statuses)-calls)
	}
	after := c.State()
	if *after.CurrentRaw != *before.CurrentRaw || *after.MinObserved != 0 || *after.MaxObserved != 100 {
		t.Errorf("state changed by discarded input: %+v", after)
	}
	if got := c.Status().Output; got != 50 {
		t.Errorf("output = %d, want 50", got)
	}
}

func TestControllerObserveTextTrimsWhitespace(t *testing.T) {
	c := NewController(State{}, nil, nil)
	if !c.ObserveText(" 12.5\n") {
		t.Fatal("expected padded number to be accepted")
	}
	if got := *c.State().CurrentRaw; got != 12.5 {
		t.Errorf("current raw = %v, want 12.5", got)
	}
}

func TestControllerStateIsCopy(t *testing.T) {
	c := NewController(State{MinObserved: f(1), MaxObserved: f(2)}, nil, nil)
	s := c.State()
	*s.MinObserved = -50
	if got := *c.State().MinObserved; got != 1 {
		t.Errorf("mutating a returned State leaked into the controller: min=%v", got)
	}
}

func TestControllerRefreshUsesCurrentCeiling(t *testing.T) {
	rec := &recorder{}
	ceiling := NewCeiling(100)
	c := NewController(State{MinObserved: f(0), MaxObserved: f(100)}, NewMapper(ceiling), rec.listen)
	c.Observe(50)

	ceiling.Set(20)
	c.Refresh()
	st := rec.last(t)
	if st.Output != 10 || st.Ceiling != 20 {
		t.Errorf("after refresh output=%d ceiling=%d, want 10 and 20", st.Output, st.Ceiling)
	}
}
