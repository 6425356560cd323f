// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package refiner

import (
	"context"
	"errors"
	"sync"
)

// ErrLoopClosed is returned when posting to a loop that has stopped running.
var ErrLoopClosed = errors.New("refiner loop closed")

// Dispatcher schedules f on the refiner's event goroutine.
type Dispatcher func(f func())

// Inline runs events on the calling goroutine. Only for callers that
// already serialize every event themselves, such as tests.
func Inline(f func()) { f() }

// Loop serializes events from the position source, the address resolver,
// the timeout timer and API callers onto one goroutine.
type Loop struct {
	events chan func()
	done   chan struct{}
	once   sync.Once
}

// NewLoop creates a loop with room for buffer pending events.
func NewLoop(buffer int) *Loop {
	return &Loop{
		events: make(chan func(), buffer),
		done:   make(chan struct{}),
	}
}

// Post queues f. It blocks while the queue is full and drops f once the
// loop has stopped.
func (l *Loop) Post(f func()) {
	select {
	case l.events <- f:
	case <-l.done:
	}
}

// Dispatcher returns Post as a Dispatcher.
func (l *Loop) Dispatcher() Dispatcher { return l.Post }

// Do runs f on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	select {
	case l.events <- func() { f(); close(finished) }:
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes events until ctx is done. Events still queued at that point
// are discarded.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-l.events:
			f()
		}
	}
}
