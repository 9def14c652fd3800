package app

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/rotation_calibrator/internal/hass"
)

func TestDisplayDataApply(t *testing.T) {
	topics := hass.TopicsFor("rotcal", "knob")
	d := newDisplayData("Volume")

	msgs := []struct {
		topic   string
		payload string
		wantErr bool
	}{
		{topics.State, "42", false},
		{topics.MaxValueState, "60", false},
		{topics.CalibrateState, "OFF", false},
		{topics.Attributes, `{"min_rotation":1,"max_rotation":9,"delta":8,"calibrated":true,"reverse":true}`, false},
		{topics.State, "forty", true},
		{topics.Attributes, `{`, true},
		{"rotcal/other/state", "1", true},
	}
	for _, m := range msgs {
		err := d.apply(topics, m.topic, []byte(m.payload))
		if (err != nil) != m.wantErr {
			t.Errorf("apply(%s, %q) err = %v, wantErr %v", m.topic, m.payload, err, m.wantErr)
		}
	}

	v := d.snapshot()
	want := displayView{Name: "Volume", Output: 42, HaveOutput: true, MaxValue: 60, Calibrated: true, Reverse: true, Online: true}
	if v != want {
		t.Errorf("snapshot = %+v, want %+v", v, want)
	}

	if err := d.apply(topics, topics.Availability, []byte("offline")); err != nil {
		t.Fatal(err)
	}
	if d.snapshot().Online {
		t.Error("display still online after offline message")
	}
}

func countBar(img *image1bit.VerticalLSB) int {
	n := 0
	y := barTop + barHeight/2
	for x := 2; x < displayWidth-2; x++ {
		if img.BitAt(x, y) {
			n++
		}
	}
	return n
}

func TestRenderSensorBar(t *testing.T) {
	tests := []struct {
		name string
		view displayView
		want int
	}{
		{"empty", displayView{Name: "k", HaveOutput: true, Output: 0, MaxValue: 100, Calibrated: true, Online: true}, 0},
		{"half", displayView{Name: "k", HaveOutput: true, Output: 50, MaxValue: 100, Calibrated: true, Online: true}, 62},
		{"full", displayView{Name: "k", HaveOutput: true, Output: 20, MaxValue: 20, Calibrated: true, Online: true}, 124},
		{"calibrating", displayView{Name: "k", HaveOutput: true, Output: 20, MaxValue: 20, Calibrated: true, Calibrating: true, Online: true}, 0},
		{"uncalibrated", displayView{Name: "k", HaveOutput: true, Output: 20, MaxValue: 20, Online: true}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := countBar(renderSensor(tt.view)); got != tt.want {
				t.Errorf("bar pixels = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRefreshDisplayRedrawsOnChangeAndStops(t *testing.T) {
	topics := hass.TopicsFor("rotcal", "knob")
	d := newDisplayData("Volume")
	draws := make(chan struct{}, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		refreshDisplay(ctx, time.Millisecond, d, func(*image1bit.VerticalLSB) error {
			draws <- struct{}{}
			return nil
		}, zaptest.NewLogger(t).Sugar())
		close(done)
	}()

	waitDraw := func() {
		t.Helper()
		select {
		case <-draws:
		case <-time.After(time.Second):
			t.Fatal("display was not redrawn")
		}
	}
	waitDraw()

	// Unchanged values are not redrawn.
	select {
	case <-draws:
		t.Fatal("redrawn without a change")
	case <-time.After(20 * time.Millisecond):
	}

	if err := d.apply(topics, topics.State, []byte("42")); err != nil {
		t.Fatal(err)
	}
	waitDraw()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresh loop did not stop after cancel")
	}
}
