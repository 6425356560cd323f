// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log/slog"
	"net/http"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/mylocations/internal/config"
	"github.com/relabs-tech/mylocations/internal/geocode"
	"github.com/relabs-tech/mylocations/internal/refiner"
	"github.com/relabs-tech/mylocations/internal/source"
)

// newPositionSource builds the configured position source. client is only
// used by the mqtt source and may be nil otherwise.
func newPositionSource(cfg *config.Config, client mqtt.Client, logger *slog.Logger) (refiner.PositionSource, error) {
	logger = logger.With("component", "source", "kind", cfg.GPSSource)
	switch cfg.GPSSource {
	case config.SourceSerial:
		return source.NewSerialSource(cfg.GPSSerialPort, cfg.GPSBaudRate, cfg.GPSUERE, logger), nil
	case config.SourceReplay:
		return source.NewReplaySource(cfg.GPSReplayFile, cfg.GPSUERE, logger), nil
	case config.SourceMQTT:
		if client == nil {
			return nil, fmt.Errorf("GPS_SOURCE=mqtt needs a broker connection")
		}
		return source.NewMQTTSource(client, cfg.TopicGPSReading, logger), nil
	case config.SourceSimulated:
		return source.NewSimulatedSource(source.DefaultSimulatedOptions()), nil
	default:
		return nil, fmt.Errorf("unknown GPS source %q", cfg.GPSSource)
	}
}

// NewGeocoder builds the configured reverse geocoder.
func NewGeocoder(cfg *config.Config) (geocode.Resolver, error) {
	switch cfg.Geocoder {
	case config.GeocoderNominatim:
		return geocode.NewNominatim(geocode.NominatimOptions{
			BaseURL:   cfg.NominatimURL,
			UserAgent: cfg.NominatimUserAgent,
			Client:    &http.Client{Timeout: cfg.GeocodeTimeout},
			Backoff: geocode.Backoff{
				MaxRetries: cfg.GeocodeMaxRetries,
			},
		}), nil
	case config.GeocoderGoogle:
		return geocode.NewGoogle(cfg.GoogleAPIKey), nil
	case config.GeocoderNone, "":
		return geocode.Offline{}, nil
	default:
		return nil, fmt.Errorf("unknown geocoder %q", cfg.Geocoder)
	}
}
