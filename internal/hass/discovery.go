// Package hass builds Home Assistant MQTT discovery messages for calibrated
// rotation sensors.
package hass

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relabs-tech/rotation_calibrator/internal/calibration"
)

const (
	Domain       = "rotation_calibrator"
	Manufacturer = "Antek"
	Model        = "Rotation Calibrator"
	SWVersion    = "1.0"

	UnitDegrees              = "°"
	StateClassMeasurementAng = "measurement_angle"

	PayloadOn  = "ON"
	PayloadOff = "OFF"

	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics is the MQTT topic layout of one sensor below the topic prefix.
type Topics struct {
	Base             string
	Availability     string
	State            string
	Attributes       string
	CalibrateState   string
	CalibrateCommand string
	ReverseState     string
	ReverseCommand   string
	MaxValueState    string
	MaxValueCommand  string
}

// AvailabilityTopic carries the online/offline state of the whole
// calibrator, which is also its last will.
func AvailabilityTopic(prefix string) string {
	return prefix + "/availability"
}

// TopicsFor returns the topics of sensor id under prefix.
func TopicsFor(prefix, id string) Topics {
	base := prefix + "/" + id
	return Topics{
		Base:             base,
		Availability:     AvailabilityTopic(prefix),
		State:            base + "/state",
		Attributes:       base + "/attributes",
		CalibrateState:   base + "/calibrate/state",
		CalibrateCommand: base + "/calibrate/set",
		ReverseState:     base + "/reverse/state",
		ReverseCommand:   base + "/reverse/set",
		MaxValueState:    base + "/max_value/state",
		MaxValueCommand:  base + "/max_value/set",
	}
}

// Device groups all entities of one sensor.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// Sensor is the discovery payload of the calibrated output.
type Sensor struct {
	Name                string `json:"name"`
	UniqueID            string `json:"unique_id"`
	StateTopic          string `json:"state_topic"`
	JSONAttributesTopic string `json:"json_attributes_topic"`
	AvailabilityTopic   string `json:"availability_topic"`
	UnitOfMeasurement   string `json:"unit_of_measurement"`
	StateClass          string `json:"state_class"`
	Icon                string `json:"icon,omitempty"`
	Device              Device `json:"device"`
}

// Switch is the discovery payload of an on/off control.
type Switch struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	StateTopic        string `json:"state_topic"`
	CommandTopic      string `json:"command_topic"`
	AvailabilityTopic string `json:"availability_topic"`
	PayloadOn         string `json:"payload_on"`
	PayloadOff        string `json:"payload_off"`
	Icon              string `json:"icon,omitempty"`
	Device            Device `json:"device"`
}

// Number is the discovery payload of the output ceiling.
type Number struct {
	Name              string  `json:"name"`
	UniqueID          string  `json:"unique_id"`
	StateTopic        string  `json:"state_topic"`
	CommandTopic      string  `json:"command_topic"`
	AvailabilityTopic string  `json:"availability_topic"`
	Min               float64 `json:"min"`
	Max               float64 `json:"max"`
	Step              float64 `json:"step"`
	Mode              string  `json:"mode"`
	EntityCategory    string  `json:"entity_category"`
	Icon              string  `json:"icon,omitempty"`
	Device            Device  `json:"device"`
}

// Message is one retained discovery config to publish.
type Message struct {
	Topic   string
	Payload []byte
}

// Messages returns the four discovery configs of one sensor: the calibrated
// value, the calibration switch, the reverse switch and the max value number.
func Messages(discoveryPrefix, topicPrefix, id, name string) ([]Message, error) {
	t := TopicsFor(topicPrefix, id)
	dev := Device{
		Identifiers:  []string{Domain + "_" + id},
		Name:         name,
		Manufacturer: Manufacturer,
		Model:        Model,
		SWVersion:    SWVersion,
	}

	entities := []struct {
		component string
		objectID  string
		payload   any
	}{
		{"sensor", id + "_sensor", Sensor{
			Name:                name + " Calibrated Rotation",
			UniqueID:            id + "_sensor",
			StateTopic:          t.State,
			JSONAttributesTopic: t.Attributes,
			AvailabilityTopic:   t.Availability,
			UnitOfMeasurement:   UnitDegrees,
			StateClass:          StateClassMeasurementAng,
			Icon:                "mdi:rotate-right",
			Device:              dev,
		}},
		{"switch", id + "_switch", Switch{
			Name:              name + " Calibration",
			UniqueID:          id + "_switch",
			StateTopic:        t.CalibrateState,
			CommandTopic:      t.CalibrateCommand,
			AvailabilityTopic: t.Availability,
			PayloadOn:         PayloadOn,
			PayloadOff:        PayloadOff,
			Icon:              "mdi:tune",
			Device:            dev,
		}},
		{"switch", id + "_reverse_switch", Switch{
			Name:              name + " Reverse Direction",
			UniqueID:          id + "_reverse_switch",
			StateTopic:        t.ReverseState,
			CommandTopic:      t.ReverseCommand,
			AvailabilityTopic: t.Availability,
			PayloadOn:         PayloadOn,
			PayloadOff:        PayloadOff,
			Icon:              "mdi:swap-horizontal",
			Device:            dev,
		}},
		{"number", id + "_config", Number{
			Name:              name + " Max Value",
			UniqueID:          id + "_config",
			StateTopic:        t.MaxValueState,
			CommandTopic:      t.MaxValueCommand,
			AvailabilityTopic: t.Availability,
			Min:               calibration.MinCeiling,
			Max:               calibration.MaxCeiling,
			Step:              1,
			Mode:              "box",
			EntityCategory:    "config",
			Device:            dev,
		}},
	}

	msgs := make([]Message, 0, len(entities))
	for _, e := range entities {
		payload, err := json.Marshal(e.payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s discovery: %w", e.objectID, err)
		}
		msgs = append(msgs, Message{
			Topic:   ConfigTopic(discoveryPrefix, e.component, e.objectID),
			Payload: payload,
		})
	}
	return msgs, nil
}

// ConfigTopic is <prefix>/<component>/<domain>/<object id>/config.
func ConfigTopic(discoveryPrefix, component, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", discoveryPrefix, component, Domain, objectID)
}

// FormatSwitch renders a switch state.
func FormatSwitch(on bool) string {
	if on {
		return PayloadOn
	}
	return PayloadOff
}

// ParseSwitch accepts ON/OFF, true/false and 1/0 in any case.
func ParseSwitch(payload string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch payload %q", payload)
}
