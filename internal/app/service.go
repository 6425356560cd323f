// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/relabs-tech/mylocations/internal/geocode"
	"github.com/relabs-tech/mylocations/internal/refiner"
)

// LocationService owns a refiner and the loop it runs on. Its methods are
// safe for concurrent use.
type LocationService struct {
	loop   *refiner.Loop
	ref    *refiner.Refiner
	src    refiner.PositionSource
	logger *slog.Logger

	mu   sync.RWMutex
	last refiner.Snapshot
}

// NewLocationService wires a refiner to src and geo. geo may be nil.
// Run must be called for the service to process events.
func NewLocationService(ctx context.Context, cfg refiner.Config, src refiner.PositionSource, geo geocode.Resolver, logger *slog.Logger, opts ...refiner.Option) *LocationService {
	loop := refiner.NewLoop(256)

	var resolver refiner.AddressResolver
	if geo != nil {
		resolver = refiner.AsyncResolver(geo)
	}

	base := []refiner.Option{
		refiner.WithDispatcher(loop.Dispatcher()),
		refiner.WithLogger(logger.With("component", "refiner")),
		refiner.WithContext(ctx),
	}
	s := &LocationService{
		loop:   loop,
		ref:    refiner.New(cfg, src, resolver, append(base, opts...)...),
		src:    src,
		logger: logger,
	}
	s.ref.Subscribe(func(snap refiner.Snapshot) {
		s.mu.Lock()
		s.last = snap
		s.mu.Unlock()
	})
	return s
}

// Run processes refiner events until ctx is done, then stops any running cycle.
func (s *LocationService) Run(ctx context.Context) error {
	err := s.loop.Run(ctx)
	s.ref.Stop()
	return err
}

// Start checks the source preconditions and begins a new cycle.
func (s *LocationService) Start(ctx context.Context) error {
	var startErr error
	if err := s.loop.Do(ctx, func() { startErr = s.start() }); err != nil {
		return err
	}
	return startErr
}

func (s *LocationService) start() error {
	if err := refiner.Authorize(s.src); err != nil {
		s.logger.Warn("position source unavailable", "error", err)
		s.ref.Reject(err)
		return err
	}
	return s.ref.Start()
}

// Stop ends the running cycle, if any.
func (s *LocationService) Stop(ctx context.Context) error {
	return s.loop.Do(ctx, s.ref.Stop)
}

// Toggle stops a running cycle or starts a new one.
func (s *LocationService) Toggle(ctx context.Context) error {
	var startErr error
	err := s.loop.Do(ctx, func() {
		if s.ref.Snapshot().Active {
			s.ref.Stop()
			return
		}
		startErr = s.start()
	})
	if err != nil {
		return err
	}
	return startErr
}

// Snapshot returns the state after the most recent change.
func (s *LocationService) Snapshot() refiner.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Subscribe calls fn on the refiner goroutine after every state change.
// fn must not block.
func (s *LocationService) Subscribe(ctx context.Context, fn func(refiner.Snapshot)) (cancel func(), err error) {
	err = s.loop.Do(ctx, func() { cancel = s.ref.Subscribe(fn) })
	if err != nil {
		return nil, err
	}
	return func() { s.loop.Post(cancel) }, nil
}
