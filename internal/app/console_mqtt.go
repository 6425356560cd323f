// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/mylocations/internal/config"
	"github.com/relabs-tech/mylocations/internal/gps"
	"github.com/relabs-tech/mylocations/internal/refiner"
)

// RunConsoleMQTT prints GPS events and refiner state published on MQTT.
func RunConsoleMQTT(logger *slog.Logger) error {
	cfg := config.Get()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	// Subscribe to GPS readings
	gpsToken := client.Subscribe(cfg.TopicGPSReading, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var ev gps.Event
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			logger.Warn("console: gps event unmarshal error", "error", err)
			return
		}
		printEvent(os.Stdout, ev)
	})
	gpsToken.Wait()
	if gpsToken.Error() != nil {
		return gpsToken.Error()
	}
	logger.Info("console: subscribed", "topic", cfg.TopicGPSReading)

	// Subscribe to refiner state
	stateToken := client.Subscribe(cfg.TopicRefinerState, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var st refiner.Status
		if err := json.Unmarshal(msg.Payload(), &st); err != nil {
			logger.Warn("console: state unmarshal error", "error", err)
			return
		}
		printStatus(os.Stdout, st)
	})
	stateToken.Wait()
	if stateToken.Error() != nil {
		return stateToken.Error()
	}
	logger.Info("console: subscribed", "topic", cfg.TopicRefinerState)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("console: shutting down")
	return nil
}

func printEvent(w io.Writer, ev gps.Event) {
	switch {
	case ev.Kind == gps.EventReading && ev.Reading != nil:
		r := ev.Reading
		fmt.Fprintf(w, "[GPS ]  time=%s lat=%.6f lon=%.6f alt=%.1fm acc=%.1fm\n",
			r.Timestamp.Format("15:04:05"), r.Latitude, r.Longitude, r.Altitude, r.HorizontalAccuracy)
	case ev.Kind == gps.EventFailure:
		kind := "error"
		if ev.Transient {
			kind = "no fix"
		}
		fmt.Fprintf(w, "[GPS ]  %s: %s\n", kind, ev.Failure)
	}
}

func printStatus(w io.Writer, st refiner.Status) {
	fmt.Fprintf(w, "[LOC ]  #%d %-9s", st.Cycle, st.Phase)
	if st.Best != nil {
		fmt.Fprintf(w, " lat=%.8f lon=%.8f acc=%.1fm", st.Best.Latitude, st.Best.Longitude, st.Best.HorizontalAccuracy)
	}
	if st.Message != "" {
		fmt.Fprintf(w, "  %s", st.Message)
	}
	fmt.Fprintln(w)
	if st.AddressText != "" {
		for _, line := range strings.Split(st.AddressText, "\n") {
			fmt.Fprintf(w, "        %s\n", line)
		}
	}
}
