package app

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/rotation_calibrator/internal/calibration"
	"github.com/relabs-tech/rotation_calibrator/internal/config"
	"github.com/relabs-tech/rotation_calibrator/internal/logging"
)

// consoleLine renders one message of a sensor topic for the terminal. ok is
// false for topics the console does not print.
func consoleLine(prefix, topic string, payload []byte) (line string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", false
	}
	id, leaf, found := strings.Cut(rest, "/")
	if !found {
		return "", false
	}

	switch leaf {
	case "state":
		return fmt.Sprintf("[%-10s] VALUE=%s", id, payload), true
	case "calibrate/state":
		return fmt.Sprintf("[%-10s] CAL=%s", id, payload), true
	case "reverse/state":
		return fmt.Sprintf("[%-10s] REVERSE=%s", id, payload), true
	case "max_value/state":
		return fmt.Sprintf("[%-10s] MAX=%s", id, payload), true
	case "attributes":
		var a calibration.Attributes
		if err := json.Unmarshal(payload, &a); err != nil {
			return fmt.Sprintf("[%-10s] bad attributes: %v", id, err), true
		}
		return fmt.Sprintf("[%-10s] MIN=%s MAX=%s DELTA=%s calibrated=%t reverse=%t",
			id, optFloat(a.MinRotation), optFloat(a.MaxRotation), optFloat(a.Delta), a.Calibrated, a.Reverse), true
	}
	return "", false
}

func optFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

// RunConsoleMQTT prints every sensor update published by the calibrator.
func RunConsoleMQTT() error {
	cfg := config.Get()
	log := logging.Must(cfg.LogLevel, cfg.LogFormat).Named("console")
	defer log.Sync()

	client, err := connect(newClientOptions(cfg.MQTTBroker, cfg.MQTTClientIDConsole), log)
	if err != nil {
		return err
	}

	topic := cfg.TopicPrefix + "/#"
	if err := subscribe(client, topic, func(_ mqtt.Client, msg mqtt.Message) {
		if line, ok := consoleLine(cfg.TopicPrefix, msg.Topic(), msg.Payload()); ok {
			fmt.Println(line)
		}
	}); err != nil {
		return err
	}
	log.Infow("subscribed", "topic", topic)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	client.Disconnect(250)
	return nil
}
