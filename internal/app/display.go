// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/mylocations/internal/config"
	"github.com/relabs-tech/mylocations/internal/refiner"
)

const (
	displayWidth  = 128
	displayHeight = 64
	displayChars  = displayWidth / 7 // basicfont.Face7x13 advance
)

// displayState holds the latest refiner status for the OLED.
type displayState struct {
	mu     sync.RWMutex
	status refiner.Status
	have   bool
}

func (d *displayState) set(st refiner.Status) {
	d.mu.Lock()
	d.status = st
	d.have = true
	d.mu.Unlock()
}

func (d *displayState) get() (refiner.Status, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status, d.have
}

// RunDisplay renders the refiner state published on MQTT to an SSD1306 OLED.
func RunDisplay(logger *slog.Logger) error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	opts := ssd1306.DefaultOpts
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	logger.Info("display: initialized", "addr", fmt.Sprintf("0x%02X", cfg.DisplayI2CAddr))

	if err := drawImage(dev, renderSplash()); err != nil {
		logger.Warn("display: error showing splash", "error", err)
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDDisplay, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	data := &displayState{}
	token := client.Subscribe(cfg.TopicRefinerState, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var st refiner.Status
		if err := json.Unmarshal(msg.Payload(), &st); err != nil {
			logger.Warn("display: state unmarshal error", "error", err)
			return
		}
		data.set(st)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	logger.Info("display: subscribed", "topic", cfg.TopicRefinerState)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			logger.Info("display: shutting down")
			return dev.Halt()
		case <-ticker.C:
			st, have := data.get()
			if err := drawImage(dev, renderStatus(st, have)); err != nil {
				logger.Warn("display: error updating display", "error", err)
			}
		}
	}
}

func drawImage(dev *ssd1306.Dev, img *image1bit.VerticalLSB) error {
	return dev.Draw(dev.Bounds(), img, image.Point{})
}

// renderLines draws up to four lines of text, one per 13 px row.
func renderLines(lines ...string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if i >= 4 {
			break
		}
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawString(truncate(line, displayChars))
	}
	return img
}

func renderSplash() *image1bit.VerticalLSB {
	return renderLines("  MyLocations", "", "  Looking for", "     sats")
}

// displayLines picks the text shown for st.
func displayLines(st refiner.Status, have bool) []string {
	if !have {
		return []string{"MyLocations", "Waiting..."}
	}
	if st.Best == nil {
		head := st.Message
		if head == "" {
			head = st.Phase
		}
		return []string{head, "", st.Error}
	}

	head := st.Message
	if head == "" || st.Active {
		head = fmt.Sprintf("%s +/-%.0fm", shortPhase(st), st.Best.HorizontalAccuracy)
	}
	addr, _, _ := strings.Cut(st.AddressText, "\n")
	return []string{
		head,
		formatCoord(st.Best.Latitude, "N", "S"),
		formatCoord(st.Best.Longitude, "E", "W"),
		addr,
	}
}

func shortPhase(st refiner.Status) string {
	if st.Active {
		return "Fix"
	}
	switch st.Phase {
	case "done":
		return "Done"
	case "timed_out":
		return "Coarse"
	default:
		return "Last"
	}
}

func renderStatus(st refiner.Status, have bool) *image1bit.VerticalLSB {
	return renderLines(displayLines(st, have)...)
}

func formatCoord(v float64, pos, neg string) string {
	dir := pos
	if v < 0 {
		dir = neg
		v = -v
	}
	return fmt.Sprintf("%.6f%s", v, dir)
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
