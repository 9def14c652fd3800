// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/relabs-tech/rotation_calibrator/internal/calibration"
)

// DefaultPath is the configuration file used by the binaries unless
// ROTCAL_CONFIG names another one.
const DefaultPath = "rotation_config.txt"

// EnvPrefix is the prefix of environment variables overriding file values,
// e.g. ROTCAL_MQTT_BROKER.
const EnvPrefix = "ROTCAL"

var (
	ErrNoSensors      = errors.New("SENSORS is required")
	ErrDuplicateInput = errors.New("input topic is already configured")
)

var sensorIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// SensorConfig describes one calibrated rotation sensor.
type SensorConfig struct {
	ID         string
	Name       string
	InputTopic string
	MaxValue   int // initial ceiling before anything was persisted
}

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker             string
	MQTTClientIDCalibrator string
	MQTTClientIDKnob       string
	MQTTClientIDNMEA       string
	MQTTClientIDConsole    string
	MQTTClientIDDisplay    string
	MQTTClientIDCtl        string
	MQTTClientIDSim        string

	// Topics
	TopicPrefix      string
	DiscoveryEnabled bool
	DiscoveryPrefix  string

	// Sensors, in the order of the SENSORS key
	Sensors []SensorConfig

	// Persistence
	StateDir string

	// Web Server
	WebServerPort int
	WebStaticDir  string

	// Logging
	LogLevel  string
	LogFormat string // "console" or "json"

	// Knob producer (ADS1115 over I2C)
	KnobI2CBus         string
	KnobI2CAddr        uint16
	KnobChannel        int
	KnobMaxMillivolts  int
	KnobSampleInterval int // milliseconds
	KnobTopic          string

	// NMEA producer
	NMEASerialPort string
	NMEABaudRate   int
	NMEASentence   string // "RSA" or "HDT"
	NMEATopic      string

	// Display
	DisplaySensor         string
	DisplayUpdateInterval int // milliseconds

	// Simulated knob
	SimTopic          string
	SimMin            float64
	SimMax            float64
	SimPeriod         int // milliseconds per full sweep
	SimSampleInterval int // milliseconds
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

var knownKeys = map[string]bool{
	"mqtt_broker": true, "mqtt_client_id_calibrator": true, "mqtt_client_id_knob": true,
	"mqtt_client_id_nmea": true, "mqtt_client_id_console": true, "mqtt_client_id_display": true,
	"mqtt_client_id_ctl": true, "mqtt_client_id_sim": true,
	"topic_prefix": true, "discovery_enabled": true, "discovery_prefix": true,
	"sensors": true, "state_dir": true, "web_server_port": true, "web_static_dir": true,
	"log_level": true, "log_format": true,
	"knob_i2c_bus": true, "knob_i2c_addr": true, "knob_channel": true,
	"knob_max_millivolts": true, "knob_sample_interval": true, "knob_topic": true,
	"nmea_serial_port": true, "nmea_baud_rate": true, "nmea_sentence": true, "nmea_topic": true,
	"display_sensor": true, "display_update_interval": true,
	"sim_topic": true, "sim_min": true, "sim_max": true, "sim_period": true, "sim_sample_interval": true,
}

var sensorKeySuffixes = []string{"_name", "_input_topic", "_max_value"}

// Load reads a KEY=VALUE configuration file and returns a Config struct.
// Environment variables prefixed with EnvPrefix override file values.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return fromViper(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("mqtt_client_id_calibrator", "rotation-calibrator")
	v.SetDefault("mqtt_client_id_knob", "rotation-knob-producer")
	v.SetDefault("mqtt_client_id_nmea", "rotation-nmea-producer")
	v.SetDefault("mqtt_client_id_console", "rotation-console")
	v.SetDefault("mqtt_client_id_display", "rotation-display")
	v.SetDefault("mqtt_client_id_ctl", "rotation-ctl")
	v.SetDefault("mqtt_client_id_sim", "rotation-sim-producer")
	v.SetDefault("topic_prefix", "rotation_calibrator")
	v.SetDefault("discovery_enabled", true)
	v.SetDefault("discovery_prefix", "homeassistant")
	v.SetDefault("state_dir", "./state")
	v.SetDefault("web_server_port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("knob_i2c_bus", "1")
	v.SetDefault("knob_i2c_addr", "0x48")
	v.SetDefault("knob_channel", 0)
	v.SetDefault("knob_max_millivolts", 3300)
	v.SetDefault("knob_sample_interval", 100)
	v.SetDefault("knob_topic", "rotation/knob/raw")
	v.SetDefault("nmea_serial_port", "/dev/serial0")
	v.SetDefault("nmea_baud_rate", 4800)
	v.SetDefault("nmea_sentence", "RSA")
	v.SetDefault("nmea_topic", "rotation/nmea/raw")
	v.SetDefault("display_update_interval", 200)
	v.SetDefault("sim_topic", "rotation/sim/raw")
	v.SetDefault("sim_min", 0)
	v.SetDefault("sim_max", 3300)
	v.SetDefault("sim_period", 10000)
	v.SetDefault("sim_sample_interval", 100)
	return v
}

func fromViper(v *viper.Viper) (*Config, error) {
	if err := checkKeys(v.AllKeys()); err != nil {
		return nil, err
	}

	addr, err := parseUint16(v.GetString("knob_i2c_addr"))
	if err != nil {
		return nil, fmt.Errorf("invalid KNOB_I2C_ADDR %q: %w", v.GetString("knob_i2c_addr"), err)
	}

	cfg := &Config{
		MQTTBroker:             v.GetString("mqtt_broker"),
		MQTTClientIDCalibrator: v.GetString("mqtt_client_id_calibrator"),
		MQTTClientIDKnob:       v.GetString("mqtt_client_id_knob"),
		MQTTClientIDNMEA:       v.GetString("mqtt_client_id_nmea"),
		MQTTClientIDConsole:    v.GetString("mqtt_client_id_console"),
		MQTTClientIDDisplay:    v.GetString("mqtt_client_id_display"),
		MQTTClientIDCtl:        v.GetString("mqtt_client_id_ctl"),
		MQTTClientIDSim:        v.GetString("mqtt_client_id_sim"),

		TopicPrefix:      strings.TrimSuffix(v.GetString("topic_prefix"), "/"),
		DiscoveryEnabled: v.GetBool("discovery_enabled"),
		DiscoveryPrefix:  strings.TrimSuffix(v.GetString("discovery_prefix"), "/"),

		StateDir:      v.GetString("state_dir"),
		WebServerPort: v.GetInt("web_server_port"),
		WebStaticDir:  v.GetString("web_static_dir"),

		LogLevel:  strings.ToLower(v.GetString("log_level")),
		LogFormat: strings.ToLower(v.GetString("log_format")),

		KnobI2CBus:         v.GetString("knob_i2c_bus"),
		KnobI2CAddr:        addr,
		KnobChannel:        v.GetInt("knob_channel"),
		KnobMaxMillivolts:  v.GetInt("knob_max_millivolts"),
		KnobSampleInterval: v.GetInt("knob_sample_interval"),
		KnobTopic:          v.GetString("knob_topic"),

		NMEASerialPort: v.GetString("nmea_serial_port"),
		NMEABaudRate:   v.GetInt("nmea_baud_rate"),
		NMEASentence:   strings.ToUpper(v.GetString("nmea_sentence")),
		NMEATopic:      v.GetString("nmea_topic"),

		DisplaySensor:         strings.ToLower(v.GetString("display_sensor")),
		DisplayUpdateInterval: v.GetInt("display_update_interval"),

		SimTopic:          v.GetString("sim_topic"),
		SimMin:            v.GetFloat64("sim_min"),
		SimMax:            v.GetFloat64("sim_max"),
		SimPeriod:         v.GetInt("sim_period"),
		SimSampleInterval: v.GetInt("sim_sample_interval"),
	}

	for _, raw := range strings.Split(v.GetString("sensors"), ",") {
		id := strings.ToLower(strings.TrimSpace(raw))
		if id == "" {
			continue
		}
		key := "sensor_" + id
		v.SetDefault(key+"_name", id)
		v.SetDefault(key+"_max_value", calibration.DefaultCeiling)
		cfg.Sensors = append(cfg.Sensors, SensorConfig{
			ID:         id,
			Name:       v.GetString(key + "_name"),
			InputTopic: v.GetString(key + "_input_topic"),
			MaxValue:   v.GetInt(key + "_max_value"),
		})
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// checkKeys rejects keys that are neither known nor per-sensor keys.
func checkKeys(keys []string) error {
	for _, k := range keys {
		if knownKeys[k] {
			continue
		}
		if strings.HasPrefix(k, "sensor_") && hasSensorSuffix(k) {
			continue
		}
		return fmt.Errorf("unknown config key: %q", strings.ToUpper(k))
	}
	return nil
}

func hasSensorSuffix(k string) bool {
	for _, s := range sensorKeySuffixes {
		if strings.HasSuffix(k, s) && len(k) > len("sensor_")+len(s) {
			return true
		}
	}
	return false
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TopicPrefix == "" {
		return fmt.Errorf("TOPIC_PREFIX must not be empty")
	}
	if len(c.Sensors) == 0 {
		return ErrNoSensors
	}

	seenID := map[string]bool{}
	seenInput := map[string]string{}
	for _, s := range c.Sensors {
		key := "SENSOR_" + strings.ToUpper(s.ID)
		if !sensorIDPattern.MatchString(s.ID) {
			return fmt.Errorf("sensor id %q must match %s", s.ID, sensorIDPattern)
		}
		if seenID[s.ID] {
			return fmt.Errorf("sensor %q listed twice in SENSORS", s.ID)
		}
		seenID[s.ID] = true
		if s.InputTopic == "" {
			return fmt.Errorf("%s_INPUT_TOPIC is required", key)
		}
		if other, ok := seenInput[s.InputTopic]; ok {
			return fmt.Errorf("%s_INPUT_TOPIC %q (also used by %q): %w", key, s.InputTopic, other, ErrDuplicateInput)
		}
		seenInput[s.InputTopic] = s.ID
		if s.MaxValue < calibration.MinCeiling || s.MaxValue > calibration.MaxCeiling {
			return fmt.Errorf("%s_MAX_VALUE must be %d-%d, got %d", key, calibration.MinCeiling, calibration.MaxCeiling, s.MaxValue)
		}
	}

	if c.WebServerPort < 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT must be 0-65535, got %d", c.WebServerPort)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.LogFormat)
	}
	if c.KnobChannel < 0 || c.KnobChannel > 3 {
		return fmt.Errorf("KNOB_CHANNEL must be 0-3, got %d", c.KnobChannel)
	}
	if c.KnobSampleInterval <= 0 {
		return fmt.Errorf("KNOB_SAMPLE_INTERVAL must be positive, got %d", c.KnobSampleInterval)
	}
	switch c.NMEASentence {
	case "RSA", "HDT":
	default:
		return fmt.Errorf("NMEA_SENTENCE must be RSA or HDT, got %q", c.NMEASentence)
	}
	if c.DisplayUpdateInterval <= 0 {
		return fmt.Errorf("DISPLAY_UPDATE_INTERVAL must be positive, got %d", c.DisplayUpdateInterval)
	}
	if c.SimMax <= c.SimMin {
		return fmt.Errorf("SIM_MAX (%g) must be greater than SIM_MIN (%g)", c.SimMax, c.SimMin)
	}
	if c.SimPeriod <= 0 || c.SimSampleInterval <= 0 {
		return fmt.Errorf("SIM_PERIOD and SIM_SAMPLE_INTERVAL must be positive")
	}
	if c.DisplaySensor != "" && !seenID[c.DisplaySensor] {
		return fmt.Errorf("DISPLAY_SENSOR %q is not listed in SENSORS", c.DisplaySensor)
	}
	return nil
}

// Sensor returns the configuration of sensor id.
func (c *Config) Sensor(id string) (SensorConfig, bool) {
	for _, s := range c.Sensors {
		if s.ID == id {
			return s, true
		}
	}
	return SensorConfig{}, false
}

// Path returns the configuration file the binaries should load.
func Path() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

func parseUint16(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}
