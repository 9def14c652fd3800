// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/rotation_calibrator/internal/config"
	"github.com/relabs-tech/rotation_calibrator/internal/logging"
)

var adsChannels = []ads1x15.Channel{ads1x15.Channel0, ads1x15.Channel1, ads1x15.Channel2, ads1x15.Channel3}

// sampleReader is the part of an ADC pin the producer needs.
type sampleReader interface {
	Read() (analog.Sample, error)
}

// ADS1115 data rates.
const (
	adsMinRate = 8 * physic.Hertz
	adsMaxRate = 860 * physic.Hertz
)

// adsSampleRate returns the ADC data rate for polling every interval: at least
// as fast as the poll, within what the ADS1115 supports.
func adsSampleRate(interval time.Duration) physic.Frequency {
	if interval <= 0 {
		return adsMaxRate
	}
	freq := physic.Frequency(time.Second/interval) * physic.Hertz
	if freq < adsMinRate {
		return adsMinRate
	}
	if freq > adsMaxRate {
		return adsMaxRate
	}
	return freq
}

// formatMillivolts renders a sample as millivolts with one decimal.
func formatMillivolts(s analog.Sample) string {
	mv := float64(s.V) / float64(physic.MilliVolt)
	return strconv.FormatFloat(mv, 'f', 1, 64)
}

// pollKnob reads pin every interval and publishes the voltage to topic until
// ctx is done. Read errors are logged and the sample is skipped.
func pollKnob(ctx context.Context, pin sampleReader, interval time.Duration, topic string, pub Publisher, log *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s, err := pin.Read()
		if err != nil {
			log.Warnw("read error", "error", err)
			continue
		}
		pub.Publish(topic, false, []byte(formatMillivolts(s)))
	}
}

// RunKnobProducer samples a potentiometer on an ADS1115 channel and publishes
// the raw voltage, in millivolts, as a sensor input.
func RunKnobProducer() error {
	cfg := config.Get()
	log := logging.Must(cfg.LogLevel, cfg.LogFormat).Named("knob")
	defer log.Sync()

	// Initialize periph host.
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init failed: %w", err)
	}

	bus, err := i2creg.Open(cfg.KnobI2CBus)
	if err != nil {
		return fmt.Errorf("i2c open failed on bus %s: %w", cfg.KnobI2CBus, err)
	}
	defer bus.Close()

	adc, err := ads1x15.NewADS1115(bus, &ads1x15.Opts{I2cAddress: cfg.KnobI2CAddr})
	if err != nil {
		return fmt.Errorf("ads1115 init failed: %w", err)
	}
	defer adc.Halt()

	interval := time.Duration(cfg.KnobSampleInterval) * time.Millisecond
	maxV := physic.ElectricPotential(cfg.KnobMaxMillivolts) * physic.MilliVolt
	pin, err := adc.PinForChannel(adsChannels[cfg.KnobChannel], maxV, adsSampleRate(interval), ads1x15.SaveEnergy)
	if err != nil {
		return fmt.Errorf("ads1115 channel %d: %w", cfg.KnobChannel, err)
	}
	defer pin.Halt()
	log.Infow("ADC ready", "addr", fmt.Sprintf("0x%X", cfg.KnobI2CAddr), "channel", cfg.KnobChannel, "pin", pin.String())

	client, err := connect(newClientOptions(cfg.MQTTBroker, cfg.MQTTClientIDKnob), log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("producer started", "topic", cfg.KnobTopic, "interval", interval)
	pollKnob(ctx, pin, interval, cfg.KnobTopic, &mqttPublisher{client: client, log: log}, log)
	log.Info("shutting down")
	return nil
}
