// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/relabs-tech/rotation_calibrator/internal/config"
	"github.com/relabs-tech/rotation_calibrator/internal/hass"
	"github.com/relabs-tech/rotation_calibrator/internal/logging"
	"github.com/relabs-tech/rotation_calibrator/internal/store"
)

// Service owns every configured sensor of one calibrator process.
type Service struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	pub     Publisher
	hub     *Hub
	metrics *Metrics

	sensors []*Sensor
	byID    map[string]*Sensor
	byInput map[string]*Sensor
	byCmd   map[string]*Sensor
}

// NewService restores all sensors of cfg. pub may be nil until the MQTT
// client exists; see SetPublisher.
func NewService(cfg *config.Config, st StateStore, pub Publisher, reg prometheus.Registerer, log *zap.SugaredLogger) *Service {
	svc := &Service{
		cfg:     cfg,
		log:     log,
		pub:     pub,
		hub:     NewHub(log.Named("ws")),
		metrics: NewMetrics(reg),
		byID:    make(map[string]*Sensor),
		byInput: make(map[string]*Sensor),
		byCmd:   make(map[string]*Sensor),
	}
	deps := SensorDeps{
		Publisher: publisherFunc(svc.publish),
		Store:     st,
		Metrics:   svc.metrics,
		Hub:       svc.hub,
		Log:       log,
	}
	for _, sc := range cfg.Sensors {
		s := NewSensor(sc, cfg.TopicPrefix, deps)
		svc.sensors = append(svc.sensors, s)
		svc.byID[sc.ID] = s
		svc.byInput[sc.InputTopic] = s
		t := s.Topics()
		for _, topic := range []string{t.CalibrateCommand, t.ReverseCommand, t.MaxValueCommand} {
			svc.byCmd[topic] = s
		}
	}
	return svc
}

type publisherFunc func(topic string, retained bool, payload []byte)

func (f publisherFunc) Publish(topic string, retained bool, payload []byte) { f(topic, retained, payload) }

// SetPublisher replaces the outbound MQTT side. It must be called before
// messages are routed.
func (svc *Service) SetPublisher(pub Publisher) { svc.pub = pub }

func (svc *Service) publish(topic string, retained bool, payload []byte) {
	if svc.pub != nil {
		svc.pub.Publish(topic, retained, payload)
	}
}

// Sensor implements SensorRegistry.
func (svc *Service) Sensor(id string) (*Sensor, bool) {
	s, ok := svc.byID[id]
	return s, ok
}

// Sensors implements SensorRegistry, in configuration order.
func (svc *Service) Sensors() []*Sensor { return svc.sensors }

func (svc *Service) Hub() *Hub { return svc.hub }

// Topics lists every topic the service subscribes to.
func (svc *Service) Topics() []string {
	topics := make([]string, 0, len(svc.byInput)+len(svc.byCmd))
	for _, s := range svc.sensors {
		t := s.Topics()
		topics = append(topics, s.InputTopic(), t.CalibrateCommand, t.ReverseCommand, t.MaxValueCommand)
	}
	return topics
}

// Route dispatches an incoming MQTT message to its sensor.
func (svc *Service) Route(topic string, payload []byte) {
	if s, ok := svc.byInput[topic]; ok {
		s.HandleInput(string(payload))
		return
	}
	if s, ok := svc.byCmd[topic]; ok {
		if err := s.HandleCommand(topic, string(payload)); err != nil {
			svc.log.Warnw("ignoring command", "sensor", s.ID(), "topic", topic, "error", err)
		}
		return
	}
	svc.log.Debugw("message on unexpected topic", "topic", topic)
}

// Announce marks the calibrator online, publishes discovery configs when
// enabled and republishes the retained state of every sensor.
func (svc *Service) Announce() {
	svc.publish(svc.availabilityTopic(), true, []byte(hass.PayloadOnline))
	for _, s := range svc.sensors {
		if svc.cfg.DiscoveryEnabled {
			msgs, err := hass.Messages(svc.cfg.DiscoveryPrefix, svc.cfg.TopicPrefix, s.ID(), s.Name())
			if err != nil {
				svc.log.Errorw("failed to build discovery", "sensor", s.ID(), "error", err)
			}
			for _, m := range msgs {
				svc.publish(m.Topic, true, m.Payload)
			}
		}
		s.Refresh()
	}
}

func (svc *Service) availabilityTopic() string {
	return hass.AvailabilityTopic(svc.cfg.TopicPrefix)
}

// RunCalibrator restores the configured sensors and serves them over MQTT and
// HTTP until SIGINT or SIGTERM.
func RunCalibrator() error {
	cfg := config.Get()
	log := logging.Must(cfg.LogLevel, cfg.LogFormat).Named("calibrator")
	defer log.Sync()

	st, err := store.NewFileStore(cfg.StateDir)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc := NewService(cfg, st, nil, reg, log)

	opts := newClientOptions(cfg.MQTTBroker, cfg.MQTTClientIDCalibrator).
		SetWill(svc.availabilityTopic(), hass.PayloadOffline, 0, true).
		SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
			svc.Route(msg.Topic(), msg.Payload())
		})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		// Runs on every (re)connect, in its own goroutine.
		for _, topic := range svc.Topics() {
			if err := subscribe(c, topic, func(_ mqtt.Client, msg mqtt.Message) {
				svc.Route(msg.Topic(), msg.Payload())
			}); err != nil {
				log.Errorw("subscribe failed", "error", err)
				continue
			}
			log.Debugw("subscribed", "topic", topic)
		}
		svc.Announce()
		log.Infow("calibrator online", "sensors", len(svc.Sensors()))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnw("MQTT connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	svc.SetPublisher(&mqttPublisher{client: client, log: log})
	if err := waitConnect(client.Connect(), cfg.MQTTBroker, connectTimeout); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           NewWebHandler(svc, svc.Hub(), reg, cfg.WebStaticDir, log.Named("web")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infow("web server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err = <-errCh:
		log.Errorw("web server failed", "error", err)
	}

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(ctx); shutdownErr != nil {
		log.Warnw("web server shutdown", "error", shutdownErr)
	}
	token := client.Publish(svc.availabilityTopic(), 0, true, hass.PayloadOffline)
	token.WaitTimeout(2 * time.Second)
	client.Disconnect(500)
	return err
}
