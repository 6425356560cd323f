// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// connectMQTT connects to broker and keeps reconnecting in the background.
// The session is kept so subscriptions survive a reconnect.
func connectMQTT(broker, clientID string, logger *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", broker, "client_id", clientID)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return client, nil
}

// publishJSON publishes payload and logs instead of failing; a missed
// status update is superseded by the next one.
func publishJSON(client mqtt.Client, topic string, retained bool, payload []byte, logger *slog.Logger) {
	token := client.Publish(topic, 0, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}
