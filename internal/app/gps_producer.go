// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/mylocations/internal/config"
	"github.com/relabs-tech/mylocations/internal/gps"
	"github.com/relabs-tech/mylocations/internal/refiner"
	"github.com/relabs-tech/mylocations/internal/source"
)

// RunGPSProducer opens the GPS serial port, assembles readings from the
// NMEA sentences, and publishes them as gps.Event JSON on the reading topic.
func RunGPSProducer(logger *slog.Logger) error {
	cfg := config.Get()

	// ---- 1) Connect to MQTT broker ----
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDGPS, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	// ---- 2) Open GPS serial port ----
	var src *source.NMEASource
	if cfg.GPSSource == config.SourceReplay {
		src = source.NewReplaySource(cfg.GPSReplayFile, cfg.GPSUERE, logger)
	} else {
		src = source.NewSerialSource(cfg.GPSSerialPort, cfg.GPSBaudRate, cfg.GPSUERE, logger)
	}

	pub := &eventPublisher{
		publish: func(payload []byte) {
			publishJSON(client, cfg.TopicGPSReading, false, payload, logger)
		},
		logger: logger,
		fatal:  make(chan error, 1),
	}
	if err := src.Start(pub); err != nil {
		return err
	}
	defer src.Stop()
	logger.Info("gps producer publishing", "topic", cfg.TopicGPSReading, "port", cfg.GPSSerialPort)

	// ---- 3) Run until Ctrl+C or the receiver goes away ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("gps producer: shutting down")
		return nil
	case err := <-pub.fatal:
		return err
	}
}

// eventPublisher is the sink of the producer's NMEA source.
type eventPublisher struct {
	publish func(payload []byte)
	logger  *slog.Logger
	fatal   chan error
}

func (p *eventPublisher) Reading(r gps.Reading) {
	p.send(gps.Event{Kind: gps.EventReading, Reading: &r})
}

// Failure publishes the error for remote refiners. A terminal error also
// stops the producer.
func (p *eventPublisher) Failure(err error) {
	transient := refiner.IsTransient(err)
	p.send(gps.Event{Kind: gps.EventFailure, Failure: err.Error(), Transient: transient})
	if !transient {
		select {
		case p.fatal <- err:
		default:
		}
	}
}

func (p *eventPublisher) send(ev gps.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("gps event marshal", "error", err)
		return
	}
	p.publish(payload)
}
