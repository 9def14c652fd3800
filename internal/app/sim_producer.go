// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/relabs-tech/rotation_calibrator/internal/config"
	"github.com/relabs-tech/rotation_calibrator/internal/logging"
)

// sweepSource simulates a knob being turned back and forth between lo and hi.
type sweepSource struct {
	start  time.Time
	now    func() time.Time
	lo, hi float64
	period time.Duration
}

// newSweepSource creates a source that completes one full lo→hi→lo cycle
// every period.
func newSweepSource(lo, hi float64, period time.Duration) *sweepSource {
	return &sweepSource{start: time.Now(), now: time.Now, lo: lo, hi: hi, period: period}
}

func (s *sweepSource) Next() float64 {
	elapsed := s.now().Sub(s.start).Seconds()
	phase := 2 * math.Pi * elapsed / s.period.Seconds()
	mid := (s.lo + s.hi) / 2
	amp := (s.hi - s.lo) / 2
	return mid - amp*math.Cos(phase)
}

// RunSimProducer publishes a simulated rotation so the calibrator can be tried
// without hardware.
func RunSimProducer() error {
	cfg := config.Get()
	log := logging.Must(cfg.LogLevel, cfg.LogFormat).Named("sim")
	defer log.Sync()

	client, err := connect(newClientOptions(cfg.MQTTBroker, cfg.MQTTClientIDSim), log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	pub := &mqttPublisher{client: client, log: log}

	src := newSweepSource(cfg.SimMin, cfg.SimMax, time.Duration(cfg.SimPeriod)*time.Millisecond)
	ticker := time.NewTicker(time.Duration(cfg.SimSampleInterval) * time.Millisecond)
	defer ticker.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("simulating rotation", "topic", cfg.SimTopic, "min", cfg.SimMin, "max", cfg.SimMax)
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-ticker.C:
			v := src.Next()
			pub.Publish(cfg.SimTopic, false, []byte(strconv.FormatFloat(v, 'f', 2, 64)))
			log.Debugw("published", "value", v)
		}
	}
}
