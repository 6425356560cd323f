// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/relabs-tech/mylocations/internal/geocode"
	"github.com/relabs-tech/mylocations/internal/refiner"
)

// DefaultPath is the configuration file read by the commands.
const DefaultPath = "mylocations_config.txt"

// GPS source kinds.
const (
	SourceSerial    = "serial"
	SourceReplay    = "replay"
	SourceMQTT      = "mqtt"
	SourceSimulated = "mock"
)

// SSD1306Addr is the only OLED address the ssd1306 driver talks to.
const SSD1306Addr = 0x3C

// Geocoder kinds.
const (
	GeocoderNominatim = "nominatim"
	GeocoderGoogle    = "google"
	GeocoderNone      = "none"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDGPS     string
	MQTTClientIDRefiner string
	MQTTClientIDConsole string
	MQTTClientIDDisplay string

	// Topics
	TopicGPSReading   string
	TopicRefinerState string

	// GPS
	GPSSource     string // serial, replay, mqtt or mock
	GPSSerialPort string
	GPSBaudRate   int
	GPSReplayFile string
	GPSUERE       float64 // metres, scales HDOP into an accuracy radius

	// Refiner thresholds
	DesiredAccuracy          float64 // metres
	AcquisitionTimeout       time.Duration
	MaxReadingAge            time.Duration
	ConvergeDistance         float64 // metres
	ConvergeAfter            time.Duration
	TimeoutAbandonsCoarseFix bool

	// Geocoding
	Geocoder           string // nominatim, google or none
	NominatimURL       string
	NominatimUserAgent string
	GoogleAPIKey       string
	GeocodeTimeout     time.Duration
	GeocodeMaxRetries  int

	// Web Server
	WebServerPort       int
	StaticDir           string
	AutoAcquireInterval time.Duration // 0 disables periodic acquisition

	// Storage
	DBPath string

	// Logging
	AppEnv   string // dev or prod
	LogLevel slog.Level

	// Display
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a configuration usable without a file: simulated
// receiver, no geocoder, local broker.
func Default() *Config {
	rc := refiner.DefaultConfig()
	return &Config{
		MQTTBroker:          "tcp://localhost:1883",
		MQTTClientIDGPS:     "mylocations-gps-producer",
		MQTTClientIDRefiner: "mylocations-refiner",
		MQTTClientIDConsole: "mylocations-console",
		MQTTClientIDDisplay: "mylocations-display",

		TopicGPSReading:   "mylocations/gps/reading",
		TopicRefinerState: "mylocations/refiner/state",

		GPSSource:     SourceSimulated,
		GPSSerialPort: "/dev/serial0",
		GPSBaudRate:   9600,
		GPSUERE:       5,

		DesiredAccuracy:          rc.DesiredAccuracy,
		AcquisitionTimeout:       rc.Timeout,
		MaxReadingAge:            rc.MaxReadingAge,
		ConvergeDistance:         rc.ConvergeDistance,
		ConvergeAfter:            rc.ConvergeAfter,
		TimeoutAbandonsCoarseFix: rc.TimeoutAbandonsCoarseFix,

		Geocoder:           GeocoderNone,
		NominatimURL:       geocode.DefaultNominatimURL,
		NominatimUserAgent: "mylocations/1.0",
		GeocodeTimeout:     rc.AddressTimeout,
		GeocodeMaxRetries:  3,

		WebServerPort: 8080,
		StaticDir:     "web/static",

		DBPath: "data/mylocations.db",

		AppEnv:   "dev",
		LogLevel: slog.LevelInfo,

		DisplayI2CAddr:        SSD1306Addr,
		DisplayUpdateInterval: 500,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines on top of the defaults. Comments, blank
// lines, quoting and "export" prefixes follow dotenv rules.
func Parse(r io.Reader) (*Config, error) {
	values, err := godotenv.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := Default()
	for key, value := range values {
		if err := cfg.setValue(key, strings.TrimSpace(value)); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_GPS":
		c.MQTTClientIDGPS = value
	case "MQTT_CLIENT_ID_REFINER":
		c.MQTTClientIDRefiner = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_GPS_READING":
		c.TopicGPSReading = value
	case "TOPIC_REFINER_STATE":
		c.TopicRefinerState = value

	// GPS
	case "GPS_SOURCE":
		switch value {
		case SourceSerial, SourceReplay, SourceMQTT, SourceSimulated:
			c.GPSSource = value
		default:
			return fmt.Errorf("GPS_SOURCE must be serial, replay, mqtt or mock, got %q", value)
		}
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GPS_BAUD_RATE %q: %w", value, err)
		}
		c.GPSBaudRate = rate
	case "GPS_REPLAY_FILE":
		c.GPSReplayFile = value
	case "GPS_UERE_METERS":
		c.GPSUERE, err = parsePositive(key, value)

	// Refiner thresholds
	case "DESIRED_ACCURACY_METERS":
		c.DesiredAccuracy, err = parsePositive(key, value)
	case "ACQUISITION_TIMEOUT":
		c.AcquisitionTimeout, err = parseDuration(key, value)
	case "MAX_READING_AGE":
		c.MaxReadingAge, err = parseDuration(key, value)
	case "CONVERGE_DISTANCE_METERS":
		c.ConvergeDistance, err = parsePositive(key, value)
	case "CONVERGE_AFTER":
		c.ConvergeAfter, err = parseDuration(key, value)
	case "TIMEOUT_ABANDONS_COARSE_FIX":
		b, perr := strconv.ParseBool(value)
		if perr != nil {
			return fmt.Errorf("invalid TIMEOUT_ABANDONS_COARSE_FIX %q: %w", value, perr)
		}
		c.TimeoutAbandonsCoarseFix = b

	// Geocoding
	case "GEOCODER":
		switch value {
		case GeocoderNominatim, GeocoderGoogle, GeocoderNone:
			c.Geocoder = value
		default:
			return fmt.Errorf("GEOCODER must be nominatim, google or none, got %q", value)
		}
	case "NOMINATIM_URL":
		c.NominatimURL = value
	case "NOMINATIM_USER_AGENT":
		c.NominatimUserAgent = value
	case "GOOGLE_GEOCODING_API_KEY":
		c.GoogleAPIKey = value
	case "GEOCODE_TIMEOUT":
		c.GeocodeTimeout, err = parseDuration(key, value)
	case "GEOCODE_MAX_RETRIES":
		n, perr := strconv.Atoi(value)
		if perr != nil || n < 0 {
			return fmt.Errorf("invalid GEOCODE_MAX_RETRIES %q", value)
		}
		c.GeocodeMaxRetries = n

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port
	case "STATIC_DIR":
		c.StaticDir = value
	case "AUTO_ACQUIRE_INTERVAL":
		d, perr := time.ParseDuration(value)
		if perr != nil || d < 0 {
			return fmt.Errorf("invalid AUTO_ACQUIRE_INTERVAL %q", value)
		}
		c.AutoAcquireInterval = d

	// Storage
	case "DB_PATH":
		c.DBPath = value

	// Logging
	case "APP_ENV":
		if value != "dev" && value != "prod" {
			return fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", value)
		}
		c.AppEnv = value
	case "LOG_LEVEL":
		c.LogLevel, err = parseLogLevel(value)

	// Display
	case "DISPLAY_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, err)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL %q: %w", value, err)
		}
		c.DisplayUpdateInterval = interval

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func parsePositive(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if f <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, f)
	}
	return f, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

// validate checks that the fields required by the selected components are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	switch c.GPSSource {
	case SourceSerial:
		if c.GPSSerialPort == "" {
			return fmt.Errorf("GPS_SERIAL_PORT is required for GPS_SOURCE=serial")
		}
		if c.GPSBaudRate <= 0 {
			return fmt.Errorf("GPS_BAUD_RATE is required for GPS_SOURCE=serial")
		}
	case SourceReplay:
		if c.GPSReplayFile == "" {
			return fmt.Errorf("GPS_REPLAY_FILE is required for GPS_SOURCE=replay")
		}
	case SourceMQTT:
		if c.TopicGPSReading == "" {
			return fmt.Errorf("TOPIC_GPS_READING is required for GPS_SOURCE=mqtt")
		}
	}
	if c.Geocoder == GeocoderGoogle && c.GoogleAPIKey == "" {
		return fmt.Errorf("GOOGLE_GEOCODING_API_KEY is required for GEOCODER=google")
	}
	if c.WebServerPort <= 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", c.WebServerPort)
	}
	if c.DisplayI2CAddr != SSD1306Addr {
		return fmt.Errorf("DISPLAY_I2C_ADDR must be %#x, got %#x", SSD1306Addr, c.DisplayI2CAddr)
	}
	return nil
}

// RefinerConfig returns the refinement thresholds.
func (c *Config) RefinerConfig() refiner.Config {
	return refiner.Config{
		DesiredAccuracy:          c.DesiredAccuracy,
		Timeout:                  c.AcquisitionTimeout,
		MaxReadingAge:            c.MaxReadingAge,
		ConvergeDistance:         c.ConvergeDistance,
		ConvergeAfter:            c.ConvergeAfter,
		AddressTimeout:           c.GeocodeTimeout,
		TimeoutAbandonsCoarseFix: c.TimeoutAbandonsCoarseFix,
	}
}

// InitGlobal initializes the global configuration from file.
// Only the first call has any effect.
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
