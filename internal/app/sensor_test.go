package app

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/rotation_calibrator/internal/config"
	"github.com/relabs-tech/rotation_calibrator/internal/store"
)

type fakePublisher struct {
	mu       sync.Mutex
	last     map[string]string
	retained map[string]bool
	count    int
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{last: map[string]string{}, retained: map[string]bool{}}
}

func (p *fakePublisher) Publish(topic string, retained bool, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last[topic] = string(payload)
	p.retained[topic] = retained
	p.count++
}

func (p *fakePublisher) get(topic string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last[topic]
}

type failingStore struct {
	saves int
}

func (f *failingStore) Load(string) (map[string]any, error) {
	return nil, errors.New("disk on fire")
}

func (f *failingStore) Save(string, store.Record) error {
	f.saves++
	return errors.New("disk on fire")
}

var knobConfig = config.SensorConfig{ID: "knob", Name: "Volume", InputTopic: "raw/knob", MaxValue: 100}

func newTestSensor(t *testing.T, st StateStore, pub Publisher) *Sensor {
	t.Helper()
	return NewSensor(knobConfig, "rotcal", SensorDeps{
		Publisher: pub,
		Store:     st,
		Log:       zaptest.NewLogger(t).Sugar(),
	})
}

func calibrate(s *Sensor, readings ...string) {
	s.StartCalibration()
	for _, r := range readings {
		s.HandleInput(r)
	}
	s.StopCalibration()
}

func TestSensorCalibrateAndPublish(t *testing.T) {
	pub := newFakePublisher()
	s := newTestSensor(t, nil, pub)

	calibrate(s, "10", "90")
	s.HandleInput("50")

	if got := pub.get("rotcal/knob/state"); got != "50" {
		t.Errorf("state = %q, want 50", got)
	}
	if !pub.retained["rotcal/knob/state"] {
		t.Error("state is not retained")
	}
	if got := pub.get("rotcal/knob/calibrate/state"); got != "OFF" {
		t.Errorf("calibrate state = %q, want OFF", got)
	}
	if got := pub.get("rotcal/knob/max_value/state"); got != "100" {
		t.Errorf("max value state = %q, want 100", got)
	}

	var attrs map[string]any
	if err := json.Unmarshal([]byte(pub.get("rotcal/knob/attributes")), &attrs); err != nil {
		t.Fatalf("attributes: %v", err)
	}
	if attrs["min_rotation"] != 10.0 || attrs["max_rotation"] != 90.0 || attrs["delta"] != 80.0 || attrs["calibrated"] != true {
		t.Errorf("unexpected attributes: %v", attrs)
	}
}

func TestSensorOutputZeroWhileCalibrating(t *testing.T) {
	pub := newFakePublisher()
	s := newTestSensor(t, nil, pub)

	s.StartCalibration()
	s.HandleInput("10")
	s.HandleInput("90")
	s.HandleInput("60")

	if got := pub.get("rotcal/knob/state"); got != "0" {
		t.Errorf("state while calibrating = %q, want 0", got)
	}
	if got := pub.get("rotcal/knob/calibrate/state"); got != "ON" {
		t.Errorf("calibrate state = %q, want ON", got)
	}
}

func TestSensorReverseAndMaxValue(t *testing.T) {
	pub := newFakePublisher()
	s := newTestSensor(t, nil, pub)
	calibrate(s, "10", "90")
	s.HandleInput("32")

	if got := s.Status().Output; got != 25 {
		t.Fatalf("output = %d, want 25", got)
	}

	s.SetReverse(true)
	if got := pub.get("rotcal/knob/state"); got != "75" {
		t.Errorf("reversed state = %q, want 75", got)
	}
	if got := pub.get("rotcal/knob/reverse/state"); got != "ON" {
		t.Errorf("reverse state = %q, want ON", got)
	}

	s.SetReverse(false)
	if n := s.SetMaxValue(40.4); n != 40 {
		t.Errorf("SetMaxValue(40.4) = %d, want 40", n)
	}
	if got := pub.get("rotcal/knob/state"); got != "10" {
		t.Errorf("state with max 40 = %q, want 10", got)
	}
	if n := s.SetMaxValue(250); n != 100 {
		t.Errorf("SetMaxValue(250) = %d, want 100", n)
	}
}

func TestSensorDropsGarbage(t *testing.T) {
	pub := newFakePublisher()
	s := newTestSensor(t, nil, pub)
	calibrate(s, "10", "90")
	s.HandleInput("50")
	before := pub.count

	for _, p := range []string{"unavailable", "", "NaN", "12abc"} {
		s.HandleInput(p)
	}
	if pub.count != before {
		t.Errorf("garbage input published %d messages", pub.count-before)
	}
	if got := s.Status().Output; got != 50 {
		t.Errorf("output = %d after garbage, want 50", got)
	}
}

func TestSensorPersistsAndRestores(t *testing.T) {
	dir := t.TempDir()
	fs, err := store.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	s := newTestSensor(t, fs, nil)
	calibrate(s, "100", "300")
	s.SetReverse(true)
	s.SetMaxValue(60)

	restored := newTestSensor(t, fs, nil)
	st := restored.Status()
	if st.Calibrating {
		t.Error("restored sensor is calibrating")
	}
	if !st.Attributes.Calibrated || !st.Attributes.Reverse {
		t.Errorf("restored attributes = %+v", st.Attributes)
	}
	if *st.Attributes.MinRotation != 100 || *st.Attributes.MaxRotation != 300 {
		t.Errorf("restored bounds = %v..%v", *st.Attributes.MinRotation, *st.Attributes.MaxRotation)
	}
	if st.Ceiling != 60 {
		t.Errorf("restored max value = %d, want 60", st.Ceiling)
	}

	// No reading yet after a restart.
	if st.Output != 0 {
		t.Errorf("output before first reading = %d, want 0", st.Output)
	}
	restored.HandleInput("110")
	if got := restored.Status().Output; got != 60 {
		t.Errorf("reversed output at low end = %d, want 60", got)
	}
}

func TestSensorStoreFailureKeepsState(t *testing.T) {
	fs := &failingStore{}
	s := newTestSensor(t, fs, nil)
	calibrate(s, "0", "100")
	s.HandleInput("50")

	if fs.saves == 0 {
		t.Error("store was never asked to save")
	}
	if got := s.Status().Output; got != 50 {
		t.Errorf("output = %d, want 50", got)
	}
}

func TestSensorHandleCommand(t *testing.T) {
	s := newTestSensor(t, nil, nil)
	topics := s.Topics()

	tests := []struct {
		topic   string
		payload string
		wantErr bool
		check   func() bool
	}{
		{topics.CalibrateCommand, "ON", false, func() bool { return s.Status().Calibrating }},
		{topics.CalibrateCommand, "off", false, func() bool { return !s.Status().Calibrating }},
		{topics.ReverseCommand, "true", false, func() bool { return s.Status().Attributes.Reverse }},
		{topics.ReverseCommand, "sideways", true, func() bool { return s.Status().Attributes.Reverse }},
		{topics.MaxValueCommand, "33.6", false, func() bool { return s.Status().Ceiling == 34 }},
		{topics.MaxValueCommand, "lots", true, func() bool { return s.Status().Ceiling == 34 }},
		{topics.MaxValueCommand, "0", false, func() bool { return s.Status().Ceiling == 1 }},
		{"rotcal/knob/unknown", "1", true, func() bool { return true }},
	}
	for _, tt := range tests {
		err := s.HandleCommand(tt.topic, tt.payload)
		if (err != nil) != tt.wantErr {
			t.Errorf("HandleCommand(%s, %q) err = %v, wantErr %v", tt.topic, tt.payload, err, tt.wantErr)
		}
		if !tt.check() {
			t.Errorf("HandleCommand(%s, %q): unexpected status %+v", tt.topic, tt.payload, s.Status())
		}
	}
}

func TestSensorApply(t *testing.T) {
	s := newTestSensor(t, nil, nil)

	if err := s.Apply(CmdSetReverse, json.RawMessage(`true`)); err != nil {
		t.Fatalf("set_reverse: %v", err)
	}
	if err := s.Apply(CmdSetMaxValue, json.RawMessage(`12`)); err != nil {
		t.Fatalf("set_max_value: %v", err)
	}
	if err := s.Apply(CmdSetReverse, json.RawMessage(`"yes"`)); err == nil {
		t.Error("expected error for non-boolean reverse")
	}
	if err := s.Apply("explode", nil); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}

	st := s.Status()
	if !st.Attributes.Reverse || st.Ceiling != 12 {
		t.Errorf("status = %+v", st)
	}
}
