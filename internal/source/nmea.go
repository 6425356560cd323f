// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package source provides position sources for the refiner.
package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/mylocations/internal/gps"
	"github.com/relabs-tech/mylocations/internal/refiner"
)

// Opener opens the byte stream carrying NMEA sentences.
type Opener func() (io.ReadCloser, error)

// NMEASource reads NMEA sentences from a serial port or a recorded log
// and emits the readings assembled from them.
type NMEASource struct {
	path   string
	open   Opener
	uere   float64
	logger *slog.Logger

	// replay re-stamps readings with the current time and paces them by
	// their recorded spacing. The end of the recording is not an error.
	replay bool
	now    func() time.Time

	// stopWait bounds how long Stop waits for a reader blocked in a read
	// that Close does not interrupt.
	stopWait time.Duration

	mu      sync.Mutex
	rc      io.ReadCloser
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewNMEASource creates a source reading from open. path is the device or
// file behind it and is used for the availability checks; it may be empty.
func NewNMEASource(path string, open Opener, uere float64, logger *slog.Logger) *NMEASource {
	if logger == nil {
		logger = slog.Default()
	}
	return &NMEASource{
		path:     path,
		open:     open,
		uere:     uere,
		logger:   logger,
		now:      time.Now,
		stopWait: time.Second,
	}
}

// NewSerialSource reads a GPS receiver attached to a serial port.
func NewSerialSource(port string, baud int, uere float64, logger *slog.Logger) *NMEASource {
	open := func() (io.ReadCloser, error) {
		return serial.Open(serial.OpenOptions{
			PortName:              port,
			BaudRate:              uint(baud),
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       1,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: 0,
		})
	}
	return NewNMEASource(port, open, uere, logger)
}

// NewReplaySource plays back a file of recorded NMEA sentences.
func NewReplaySource(path string, uere float64, logger *slog.Logger) *NMEASource {
	open := func() (io.ReadCloser, error) { return os.Open(path) }
	src := NewNMEASource(path, open, uere, logger)
	src.replay = true
	return src
}

// ServicesEnabled reports whether the device or file exists.
func (s *NMEASource) ServicesEnabled() bool {
	if s.path == "" {
		return true
	}
	_, err := os.Stat(s.path)
	return err == nil
}

// Authorization probes read access to the device.
func (s *NMEASource) Authorization() refiner.Authorization {
	if s.path == "" {
		return refiner.AuthAuthorized
	}
	f, err := os.OpenFile(s.path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return refiner.AuthDenied
		}
		return refiner.AuthNotDetermined
	}
	_ = f.Close()
	return refiner.AuthAuthorized
}

// Start opens the stream and emits readings until Stop or a read error.
func (s *NMEASource) Start(sink refiner.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("nmea source already running")
	}

	rc, err := s.open()
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %v", refiner.ErrPermissionDenied, err)
		}
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	s.rc = rc
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.logger.Info("nmea source started", "path", s.path, "replay", s.replay)

	go s.readLoop(rc, sink, s.stop, s.done)
	return nil
}

// Stop closes the stream and waits a bounded time for the reader to exit.
// A reader still blocked after that is abandoned; it emits nothing more.
func (s *NMEASource) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	rc, stop, done := s.rc, s.stop, s.done
	s.mu.Unlock()

	close(stop)
	if err := rc.Close(); err != nil {
		s.logger.Warn("nmea source close", "error", err)
	}
	select {
	case <-done:
	case <-time.After(s.stopWait):
		s.logger.Warn("nmea reader still blocked after close", "path", s.path)
	}
	s.logger.Info("nmea source stopped", "path", s.path)
}

func (s *NMEASource) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *NMEASource) readLoop(rc io.Reader, sink refiner.Sink, stop, done chan struct{}) {
	defer close(done)

	asm := gps.Assembler{UERE: s.uere, Now: s.now}
	reader := bufio.NewReader(rc)
	var last time.Time

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			if !s.feed(&asm, line, sink, stop, &last) {
				return
			}
		}
		if err != nil {
			if !s.isRunning() {
				return
			}
			if errors.Is(err, io.EOF) {
				if s.replay {
					s.logger.Info("nmea replay finished", "path", s.path)
					return
				}
				err = fmt.Errorf("gps stream ended: %w", err)
			}
			s.logger.Error("gps read error", "error", err)
			sink.Failure(err)
			return
		}
	}
}

// feed handles one line and reports false once the source was stopped.
func (s *NMEASource) feed(asm *gps.Assembler, line string, sink refiner.Sink, stop chan struct{}, last *time.Time) bool {
	select {
	case <-stop:
		return false
	default:
	}
	r, ok, err := asm.Feed(line)
	switch {
	case errors.Is(err, gps.ErrNoFix):
		sink.Failure(fmt.Errorf("%w: %w", refiner.ErrLocationUnknown, err))
	case err != nil:
		// noisy receivers and partial sentences
		s.logger.Debug("nmea sentence skipped", "error", err)
	case ok:
		if s.replay {
			if !last.IsZero() {
				if gap := r.Timestamp.Sub(*last); gap > 0 {
					select {
					case <-time.After(min(gap, 5*time.Second)):
					case <-stop:
						return false
					}
				}
			}
			*last = r.Timestamp
			r.Timestamp = s.now()
		}
		sink.Reading(r)
	}
	return true
}
