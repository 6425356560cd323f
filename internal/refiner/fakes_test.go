// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package refiner

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/relabs-tech/mylocations/internal/geocode"
	"github.com/relabs-tech/mylocations/internal/gps"
)

// fakeClock is a virtual clock. Timers fire synchronously from Advance.
type fakeClock struct {
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	f       func()
	fired   bool
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, time.January, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
	due := make([]*fakeTimer, 0, len(c.timers))
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.at.After(c.now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fired = true
		t.f()
	}
}

func (c *fakeClock) armed() int {
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// fakeSource records start/stop calls and lets the test emit events.
type fakeSource struct {
	starts   int
	stops    int
	sink     Sink
	startErr error
	enabled  bool
	auth     Authorization
}

func newFakeSource() *fakeSource {
	return &fakeSource{enabled: true, auth: AuthAuthorized}
}

func (s *fakeSource) Start(sink Sink) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.starts++
	s.sink = sink
	return nil
}

func (s *fakeSource) Stop()                        { s.stops++ }
func (s *fakeSource) ServicesEnabled() bool        { return s.enabled }
func (s *fakeSource) Authorization() Authorization { return s.auth }

// fakeResolver keeps lookups pending until the test completes them.
type fakeResolver struct {
	pending []pendingLookup
}

type pendingLookup struct {
	reading gps.Reading
	done    func(geocode.Address, error)
}

func (f *fakeResolver) ResolveAddress(_ context.Context, r gps.Reading, done func(geocode.Address, error)) {
	f.pending = append(f.pending, pendingLookup{reading: r, done: done})
}

func (f *fakeResolver) complete(t *testing.T, addr geocode.Address, err error) {
	t.Helper()
	if len(f.pending) == 0 {
		t.Fatal("no pending lookup")
	}
	p := f.pending[0]
	f.pending = f.pending[1:]
	p.done(addr, err)
}

type harness struct {
	clock    *fakeClock
	source   *fakeSource
	resolver *fakeResolver
	refiner  *Refiner
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		clock:    newFakeClock(),
		source:   newFakeSource(),
		resolver: &fakeResolver{},
	}
	h.refiner = New(cfg, h.source, h.resolver,
		WithClock(h.clock),
		WithDispatcher(Inline),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return h
}

// reading returns a fresh reading at the base point shifted north by
// northMetres (roughly).
func (h *harness) reading(acc, northMetres float64) gps.Reading {
	return gps.Reading{
		Latitude:           48.137154 + northMetres/111_320,
		Longitude:          11.576124,
		HorizontalAccuracy: acc,
		Timestamp:          h.clock.Now(),
	}
}

func (h *harness) emit(r gps.Reading) {
	h.source.sink.Reading(r)
}
