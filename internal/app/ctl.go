package app

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/rotation_calibrator/internal/calibration"
	"github.com/relabs-tech/rotation_calibrator/internal/config"
	"github.com/relabs-tech/rotation_calibrator/internal/hass"
	"github.com/relabs-tech/rotation_calibrator/internal/logging"
)

// Control actions of rotcalctl.
const (
	CtlCalibrate = "calibrate"
	CtlReverse   = "reverse"
	CtlMaxValue  = "max-value"
)

// ControlMessage builds the command message for action on sensor t. arg is
// start|stop for calibrate, on|off for reverse and a number for max-value.
func ControlMessage(t hass.Topics, action, arg string) (topic string, payload string, err error) {
	switch action {
	case CtlCalibrate:
		switch strings.ToLower(arg) {
		case "start":
			return t.CalibrateCommand, hass.PayloadOn, nil
		case "stop":
			return t.CalibrateCommand, hass.PayloadOff, nil
		}
		return "", "", fmt.Errorf("calibrate takes start or stop, got %q", arg)
	case CtlReverse:
		on, err := hass.ParseSwitch(arg)
		if err != nil {
			return "", "", err
		}
		return t.ReverseCommand, hass.FormatSwitch(on), nil
	case CtlMaxValue:
		v, err := calibration.ParseRaw(arg)
		if err != nil {
			return "", "", fmt.Errorf("max-value %q: %w", arg, err)
		}
		return t.MaxValueCommand, strconv.Itoa(calibration.NewCeiling(0).Set(v)), nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnknownCommand, action)
}

func ctlClient(cfg *config.Config) (mqtt.Client, error) {
	log := logging.Must(cfg.LogLevel, cfg.LogFormat).Named("ctl")
	return connect(newClientOptions(cfg.MQTTBroker, cfg.MQTTClientIDCtl).SetConnectRetry(false), log)
}

func ctlTopics(cfg *config.Config, id string) (hass.Topics, error) {
	if _, ok := cfg.Sensor(id); !ok {
		return hass.Topics{}, fmt.Errorf("%w: %q", ErrUnknownSensor, id)
	}
	return hass.TopicsFor(cfg.TopicPrefix, id), nil
}

// RunControl publishes one control command for sensor id.
func RunControl(id, action, arg string) error {
	cfg := config.Get()
	t, err := ctlTopics(cfg, id)
	if err != nil {
		return err
	}
	topic, payload, err := ControlMessage(t, action, arg)
	if err != nil {
		return err
	}

	client, err := ctlClient(cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	token := client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// RunStatus prints the retained state of sensor id to w, waiting at most
// timeout for the broker to deliver it.
func RunStatus(w io.Writer, id string, timeout time.Duration) error {
	cfg := config.Get()
	t, err := ctlTopics(cfg, id)
	if err != nil {
		return err
	}

	client, err := ctlClient(cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	want := []string{t.State, t.CalibrateState, t.ReverseState, t.MaxValueState, t.Attributes}
	var (
		mu   sync.Mutex
		got  = map[string][]byte{}
		done = make(chan struct{})
	)
	for _, topic := range want {
		if err := subscribe(client, topic, func(_ mqtt.Client, msg mqtt.Message) {
			mu.Lock()
			defer mu.Unlock()
			if _, seen := got[msg.Topic()]; seen {
				return
			}
			got[msg.Topic()] = msg.Payload()
			if len(got) == len(want) {
				close(done)
			}
		}); err != nil {
			return err
		}
	}

	select {
	case <-done:
	case <-time.After(timeout):
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 {
		return fmt.Errorf("no retained state for %q within %s; is the calibrator running?", id, timeout)
	}
	for _, topic := range want {
		payload, ok := got[topic]
		if !ok {
			continue
		}
		if line, ok := consoleLine(cfg.TopicPrefix, topic, payload); ok {
			fmt.Fprintln(w, line)
		}
	}
	return nil
}
