// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Publisher sends one MQTT message. Implementations must not block on the
// broker acknowledgement, since they are called from message handlers.
type Publisher interface {
	Publish(topic string, retained bool, payload []byte)
}

// mqttPublisher publishes with QoS 0 and reports failures asynchronously.
type mqttPublisher struct {
	client mqtt.Client
	log    *zap.SugaredLogger
}

func (p *mqttPublisher) Publish(topic string, retained bool, payload []byte) {
	token := p.client.Publish(topic, 0, retained, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			p.log.Warnw("publish failed", "topic", topic, "error", err)
		}
	}()
}

// newClientOptions returns the options shared by every binary: broker,
// client id and automatic reconnects. Messages are delivered in order, one at
// a time, so handlers must not block.
func newClientOptions(broker, clientID string) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
}

// connect blocks until the first connection attempt finishes.
func connect(opts *mqtt.ClientOptions, log *zap.SugaredLogger) (mqtt.Client, error) {
	client := mqtt.NewClient(opts)
	broker := opts.Servers[0].String()
	if err := waitConnect(client.Connect(), broker, connectTimeout); err != nil {
		return nil, err
	}
	log.Infow("connected to MQTT broker", "broker", broker)
	return client, nil
}

const connectTimeout = 30 * time.Second

// waitConnect waits for a connect token. With connect retry enabled the token
// stays pending while the broker is unreachable, which is reported as a
// timeout.
func waitConnect(token mqtt.Token, broker string, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out after %s connecting to MQTT broker %s", timeout, broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, err)
	}
	return nil
}

// subscribe waits for the broker to acknowledge topic.
func subscribe(client mqtt.Client, topic string, handler mqtt.MessageHandler) error {
	token := client.Subscribe(topic, 0, handler)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}
