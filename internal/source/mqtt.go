// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/mylocations/internal/gps"
	"github.com/relabs-tech/mylocations/internal/refiner"
)

// MQTTSource receives gps.Event messages published by the GPS producer.
type MQTTSource struct {
	client mqtt.Client
	topic  string
	logger *slog.Logger

	mu         sync.Mutex
	subscribed bool
}

// NewMQTTSource creates a source on an already connected client.
func NewMQTTSource(client mqtt.Client, topic string, logger *slog.Logger) *MQTTSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTSource{client: client, topic: topic, logger: logger}
}

// ServicesEnabled reports whether the broker connection is up.
func (s *MQTTSource) ServicesEnabled() bool {
	return s.client.IsConnectionOpen()
}

// Authorization is always granted; access control lives on the broker.
func (s *MQTTSource) Authorization() refiner.Authorization {
	return refiner.AuthAuthorized
}

func (s *MQTTSource) Start(sink refiner.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed {
		return errors.New("mqtt source already started")
	}

	token := s.client.Subscribe(s.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		s.deliver(msg.Payload(), sink)
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	s.subscribed = true
	s.logger.Info("mqtt source subscribed", "topic", s.topic)
	return nil
}

func (s *MQTTSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.subscribed {
		return
	}
	s.subscribed = false

	token := s.client.Unsubscribe(s.topic)
	token.Wait()
	if err := token.Error(); err != nil {
		s.logger.Warn("mqtt unsubscribe failed", "topic", s.topic, "error", err)
	}
}

func (s *MQTTSource) deliver(payload []byte, sink refiner.Sink) {
	r, err := DecodeEvent(payload)
	switch {
	case errors.Is(err, errMalformedEvent):
		s.logger.Warn("gps event dropped", "topic", s.topic, "error", err)
	case err != nil:
		sink.Failure(err)
	default:
		sink.Reading(r)
	}
}

var errMalformedEvent = errors.New("malformed gps event")

// DecodeEvent unpacks a gps.Event payload. A failure event is returned as
// an error; transient failures wrap refiner.ErrLocationUnknown.
func DecodeEvent(payload []byte) (gps.Reading, error) {
	var ev gps.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return gps.Reading{}, fmt.Errorf("%w: %w", errMalformedEvent, err)
	}

	switch ev.Kind {
	case gps.EventReading:
		if ev.Reading == nil {
			return gps.Reading{}, fmt.Errorf("%w: reading event without reading", errMalformedEvent)
		}
		return *ev.Reading, nil
	case gps.EventFailure:
		if ev.Transient {
			return gps.Reading{}, fmt.Errorf("%w: %s", refiner.ErrLocationUnknown, ev.Failure)
		}
		return gps.Reading{}, fmt.Errorf("gps producer: %s", ev.Failure)
	default:
		return gps.Reading{}, fmt.Errorf("%w: unknown kind %q", errMalformedEvent, ev.Kind)
	}
}
