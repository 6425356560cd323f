// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/mylocations/internal/refiner"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.GPSSource != SourceSimulated || cfg.Geocoder != GeocoderNone {
		t.Errorf("defaults: source=%q geocoder=%q", cfg.GPSSource, cfg.Geocoder)
	}
	if got, want := cfg.RefinerConfig(), refiner.DefaultConfig(); got != want {
		t.Errorf("RefinerConfig: got %+v, want %+v", got, want)
	}
}

func TestParse_Values(t *testing.T) {
	input := `
# receiver
GPS_SOURCE=serial
GPS_SERIAL_PORT=/dev/ttyUSB0
GPS_BAUD_RATE=38400
GPS_UERE_METERS=3.5

DESIRED_ACCURACY_METERS=25
ACQUISITION_TIMEOUT=90s
MAX_READING_AGE=2s
CONVERGE_DISTANCE_METERS=2
CONVERGE_AFTER=15s
TIMEOUT_ABANDONS_COARSE_FIX=true

GEOCODER=nominatim
NOMINATIM_URL="http://localhost:8088"
GEOCODE_TIMEOUT=5s
GEOCODE_MAX_RETRIES=0

WEB_SERVER_PORT=9090
AUTO_ACQUIRE_INTERVAL=10m
LOG_LEVEL=debug
APP_ENV=prod
DISPLAY_I2C_ADDR=0x3c
`
	cfg, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.GPSSource != SourceSerial || cfg.GPSSerialPort != "/dev/ttyUSB0" || cfg.GPSBaudRate != 38400 {
		t.Errorf("gps: got %q %q %d", cfg.GPSSource, cfg.GPSSerialPort, cfg.GPSBaudRate)
	}
	if cfg.GPSUERE != 3.5 {
		t.Errorf("GPSUERE: got %v", cfg.GPSUERE)
	}
	want := refiner.Config{
		DesiredAccuracy:          25,
		Timeout:                  90 * time.Second,
		MaxReadingAge:            2 * time.Second,
		ConvergeDistance:         2,
		ConvergeAfter:            15 * time.Second,
		AddressTimeout:           5 * time.Second,
		TimeoutAbandonsCoarseFix: true,
	}
	if got := cfg.RefinerConfig(); got != want {
		t.Errorf("RefinerConfig: got %+v, want %+v", got, want)
	}
	if cfg.NominatimURL != "http://localhost:8088" || cfg.GeocodeMaxRetries != 0 {
		t.Errorf("nominatim: got %q retries=%d", cfg.NominatimURL, cfg.GeocodeMaxRetries)
	}
	if cfg.WebServerPort != 9090 || cfg.AutoAcquireInterval != 10*time.Minute {
		t.Errorf("web: port=%d auto=%v", cfg.WebServerPort, cfg.AutoAcquireInterval)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.AppEnv != "prod" {
		t.Errorf("logging: level=%v env=%q", cfg.LogLevel, cfg.AppEnv)
	}
	if cfg.DisplayI2CAddr != SSD1306Addr {
		t.Errorf("DisplayI2CAddr: got %#x", cfg.DisplayI2CAddr)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unknown key", "COLOUR=blue"},
		{"bad source", "GPS_SOURCE=glonass"},
		{"bad geocoder", "GEOCODER=bing"},
		{"negative accuracy", "DESIRED_ACCURACY_METERS=-1"},
		{"bad duration", "ACQUISITION_TIMEOUT=sixty"},
		{"zero timeout", "ACQUISITION_TIMEOUT=0s"},
		{"bad bool", "TIMEOUT_ABANDONS_COARSE_FIX=maybe"},
		{"bad log level", "LOG_LEVEL=loud"},
		{"replay without file", "GPS_SOURCE=replay"},
		{"google without key", "GEOCODER=google"},
		{"port out of range", "WEB_SERVER_PORT=70000"},
		{"empty broker", "MQTT_BROKER="},
		{"unsupported display address", "DISPLAY_I2C_ADDR=0x3D"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tc.input)); err == nil {
				t.Errorf("Parse(%q): want error", tc.input)
			}
		})
	}
}

func TestInitGlobal(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath)
	if err := os.WriteFile(path, []byte("GPS_SOURCE=mock\nWEB_SERVER_PORT=8181\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := InitGlobal(path); err != nil {
		t.Fatalf("InitGlobal: %v", err)
	}
	cfg := Get()
	if cfg == nil || cfg.WebServerPort != 8181 {
		t.Fatalf("Get: got %+v", cfg)
	}
	// later calls keep the first configuration
	if err := InitGlobal(filepath.Join(t.TempDir(), "missing.txt")); err != nil {
		t.Errorf("second InitGlobal: %v", err)
	}
	if Get() != cfg {
		t.Error("Get changed after second InitGlobal")
	}
}
