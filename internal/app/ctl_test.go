package app

import (
	"errors"
	"testing"

	"github.com/relabs-tech/rotation_calibrator/internal/hass"
)

func TestControlMessage(t *testing.T) {
	topics := hass.TopicsFor("rotcal", "knob")

	tests := []struct {
		action, arg    string
		topic, payload string
		wantErr        bool
	}{
		{CtlCalibrate, "start", "rotcal/knob/calibrate/set", "ON", false},
		{CtlCalibrate, "STOP", "rotcal/knob/calibrate/set", "OFF", false},
		{CtlCalibrate, "pause", "", "", true},
		{CtlReverse, "on", "rotcal/knob/reverse/set", "ON", false},
		{CtlReverse, "0", "rotcal/knob/reverse/set", "OFF", false},
		{CtlReverse, "flip", "", "", true},
		{CtlMaxValue, "42.7", "rotcal/knob/max_value/set", "43", false},
		{CtlMaxValue, "1000", "rotcal/knob/max_value/set", "100", false},
		{CtlMaxValue, "-3", "rotcal/knob/max_value/set", "1", false},
		{CtlMaxValue, "many", "", "", true},
	}
	for _, tt := range tests {
		topic, payload, err := ControlMessage(topics, tt.action, tt.arg)
		if (err != nil) != tt.wantErr {
			t.Errorf("ControlMessage(%s, %s) err = %v, wantErr %v", tt.action, tt.arg, err, tt.wantErr)
			continue
		}
		if topic != tt.topic || payload != tt.payload {
			t.Errorf("ControlMessage(%s, %s) = %s %q, want %s %q", tt.action, tt.arg, topic, payload, tt.topic, tt.payload)
		}
	}

	if _, _, err := ControlMessage(topics, "reboot", ""); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestCtlTopicsUnknownSensor(t *testing.T) {
	if _, err := ctlTopics(testConfig(), "ghost"); !errors.Is(err, ErrUnknownSensor) {
		t.Errorf("expected ErrUnknownSensor, got %v", err)
	}
	topics, err := ctlTopics(testConfig(), "rudder")
	if err != nil || topics.State != "rotcal/rudder/state" {
		t.Errorf("ctlTopics(rudder) = %+v, %v", topics, err)
	}
}
