// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package source

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/relabs-tech/mylocations/internal/gps"
	"github.com/relabs-tech/mylocations/internal/refiner"
)

// SimulatedOptions describes the synthetic receiver.
type SimulatedOptions struct {
	Latitude  float64
	Longitude float64
	Altitude  float64

	Interval        time.Duration // time between readings
	InitialAccuracy float64       // metres, first reading
	FinalAccuracy   float64       // metres, floor the accuracy settles on
	Decay           float64       // accuracy multiplier per reading, 0 < Decay < 1
}

// DefaultSimulatedOptions converges on Apple Park from 150 m down to 5 m.
func DefaultSimulatedOptions() SimulatedOptions {
	return SimulatedOptions{
		Latitude:        37.3349,
		Longitude:       -122.0090,
		Altitude:        50,
		Interval:        time.Second,
		InitialAccuracy: 150,
		FinalAccuracy:   5,
		Decay:           0.6,
	}
}

// SimulatedSource generates readings that spiral in on a fixed point
// with shrinking accuracy. Used for demos and hardware-less runs.
type SimulatedSource struct {
	opts SimulatedOptions
	now  func() time.Time

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	sample int
}

// NewSimulatedSource creates a simulated receiver.
func NewSimulatedSource(opts SimulatedOptions) *SimulatedSource {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Decay <= 0 || opts.Decay >= 1 {
		opts.Decay = 0.6
	}
	return &SimulatedSource{opts: opts, now: time.Now}
}

func (s *SimulatedSource) ServicesEnabled() bool { return true }

func (s *SimulatedSource) Authorization() refiner.Authorization { return refiner.AuthAuthorized }

func (s *SimulatedSource) Start(sink refiner.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return errors.New("simulated source already started")
	}
	s.sample = 0
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(sink, s.stop, s.done)
	return nil
}

func (s *SimulatedSource) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *SimulatedSource) run(sink refiner.Sink, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	sink.Reading(s.next())
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sink.Reading(s.next())
		}
	}
}

// next returns the following sample. The error offset equals the reported
// accuracy so the readings visibly settle on the target.
func (s *SimulatedSource) next() gps.Reading {
	n := s.sample
	s.sample++

	acc := math.Max(s.opts.InitialAccuracy*math.Pow(s.opts.Decay, float64(n)), s.opts.FinalAccuracy)
	bearing := math.Mod(float64(n)*137.5, 360)
	target := orb.Point{s.opts.Longitude, s.opts.Latitude}
	p := geo.PointAtBearingAndDistance(target, bearing, acc)

	return gps.Reading{
		Latitude:           p.Lat(),
		Longitude:          p.Lon(),
		Altitude:           s.opts.Altitude,
		HorizontalAccuracy: acc,
		Timestamp:          s.now(),
	}
}
