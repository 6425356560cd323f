// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package refiner turns a stream of position readings of varying accuracy
// into one "current" location per acquisition cycle.
//
// A cycle starts the position source and waits for readings. Every reading
// that is fresh, valid and strictly more accurate than the current best
// replaces it. The cycle ends when a reading meets the desired accuracy,
// when readings stop improving at the same spot, when the source fails, or
// when nothing usable arrived before the timeout. The best reading of each
// cycle is reverse geocoded with at most one lookup in flight.
//
// All methods of Refiner must run on one goroutine. Callbacks from the
// source, the resolver and the timer are posted through the Dispatcher;
// Loop provides that goroutine in production.
package refiner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/relabs-tech/mylocations/internal/geocode"
	"github.com/relabs-tech/mylocations/internal/gps"
)

// Phase is the refiner's position in the acquisition state machine.
type Phase int

const (
	PhaseIdle      Phase = iota // no cycle running
	PhaseAcquiring              // source started, no reading accepted yet
	PhaseRefining               // best reading set, waiting for a better one
	PhaseDone                   // desired accuracy reached or converged
	PhaseTimedOut               // nothing accepted before the timeout
	PhaseFailed                 // the source reported a terminal error
)

var phaseNames = [...]string{"idle", "acquiring", "refining", "done", "timed_out", "failed"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Authorization mirrors the platform permission states of a position source.
type Authorization int

const (
	AuthNotDetermined Authorization = iota
	AuthRestricted
	AuthDenied
	AuthAuthorized
)

// Sink receives events from a PositionSource. Implementations may be
// called from any goroutine.
type Sink interface {
	Reading(r gps.Reading)
	Failure(err error)
}

// PositionSource emits readings between Start and Stop.
type PositionSource interface {
	Start(sink Sink) error
	Stop()
	ServicesEnabled() bool
	Authorization() Authorization
}

// AddressResolver resolves the address of a reading asynchronously and
// calls done exactly once, from any goroutine.
type AddressResolver interface {
	ResolveAddress(ctx context.Context, r gps.Reading, done func(geocode.Address, error))
}

// Config holds the refinement thresholds.
type Config struct {
	// DesiredAccuracy ends the cycle once a reading is at least this accurate (metres).
	DesiredAccuracy float64
	// Timeout ends a cycle in which no reading was accepted.
	Timeout time.Duration
	// MaxReadingAge rejects readings older than this, typically cached fixes.
	MaxReadingAge time.Duration
	// ConvergeDistance and ConvergeAfter force the cycle to finish when a
	// non-improving reading lands this close to the best one this long after it.
	ConvergeDistance float64
	ConvergeAfter    time.Duration
	// AddressTimeout bounds a single reverse-geocode lookup.
	AddressTimeout time.Duration
	// TimeoutAbandonsCoarseFix makes the timeout end the cycle even when a
	// reading has been accepted, keeping that reading for display.
	TimeoutAbandonsCoarseFix bool
}

// DefaultConfig returns the thresholds of the original application.
func DefaultConfig() Config {
	return Config{
		DesiredAccuracy:  10,
		Timeout:          60 * time.Second,
		MaxReadingAge:    5 * time.Second,
		ConvergeDistance: 1,
		ConvergeAfter:    10 * time.Second,
		AddressTimeout:   15 * time.Second,
	}
}

// Snapshot is a copy of the refiner state handed to observers.
type Snapshot struct {
	Cycle            uint64
	Phase            Phase
	Active           bool
	StartedAt        time.Time
	Best             *gps.Reading
	LastError        error
	ResolvingAddress bool
	Address          *geocode.Address
	AddressError     error
}

func (s Snapshot) clone() Snapshot {
	if s.Best != nil {
		b := *s.Best
		s.Best = &b
	}
	if s.Address != nil {
		a := *s.Address
		s.Address = &a
	}
	return s
}

// Option customizes a Refiner.
type Option func(*Refiner)

// WithClock replaces the system clock.
func WithClock(c Clock) Option { return func(r *Refiner) { r.clock = c } }

// WithDispatcher sets how callbacks are posted to the refiner goroutine.
func WithDispatcher(d Dispatcher) Option { return func(r *Refiner) { r.dispatch = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Refiner) { r.logger = l } }

// WithContext sets the parent context of address lookups.
func WithContext(ctx context.Context) Option { return func(r *Refiner) { r.ctx = ctx } }

type observer struct {
	id int
	fn func(Snapshot)
}

// Refiner is the location refinement state machine.
type Refiner struct {
	cfg      Config
	source   PositionSource
	resolver AddressResolver
	clock    Clock
	dispatch Dispatcher
	logger   *slog.Logger
	ctx      context.Context

	state     Snapshot
	timer     Timer
	observers []observer
	nextID    int
}

// New creates an idle refiner. resolver may be nil to skip address lookups.
func New(cfg Config, source PositionSource, resolver AddressResolver, opts ...Option) *Refiner {
	r := &Refiner{
		cfg:      cfg,
		source:   source,
		resolver: resolver,
		clock:    SystemClock(),
		dispatch: Inline,
		logger:   slog.Default(),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot returns a copy of the current state.
func (r *Refiner) Snapshot() Snapshot {
	return r.state.clone()
}

// Subscribe registers fn to be called after every state change. The
// returned function removes the subscription.
func (r *Refiner) Subscribe(fn func(Snapshot)) (cancel func()) {
	r.nextID++
	id := r.nextID
	r.observers = append(r.observers, observer{id: id, fn: fn})
	return func() {
		for i, o := range r.observers {
			if o.id == id {
				r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
				return
			}
		}
	}
}

func (r *Refiner) notify() {
	snap := r.state.clone()
	for _, o := range r.observers {
		o.fn(snap)
	}
}

// Authorize checks the preconditions callers must verify before Start.
func Authorize(src PositionSource) error {
	if !src.ServicesEnabled() {
		return ErrServicesDisabled
	}
	switch src.Authorization() {
	case AuthAuthorized:
		return nil
	case AuthNotDetermined:
		return ErrAuthorizationPending
	default:
		return ErrPermissionDenied
	}
}

// Start begins a new acquisition cycle. A running cycle is stopped first.
func (r *Refiner) Start() error {
	if r.state.Active {
		r.finish(PhaseIdle)
	}

	r.state.Cycle++
	cycle := r.state.Cycle
	r.state.Best = nil
	r.state.LastError = nil
	r.state.Address = nil
	r.state.AddressError = nil
	r.state.Phase = PhaseAcquiring
	r.state.StartedAt = r.clock.Now()
	r.state.Active = true

	if err := r.source.Start(&cycleSink{r: r, cycle: cycle}); err != nil {
		r.state.Active = false
		r.state.Phase = PhaseFailed
		r.state.LastError = fmt.Errorf("start position source: %w", err)
		r.logger.Error("position source start failed", "cycle", cycle, "error", err)
		r.notify()
		return r.state.LastError
	}

	// The source may already have finished the cycle from within Start.
	if r.state.Active && r.state.Cycle == cycle {
		r.timer = r.clock.AfterFunc(r.cfg.Timeout, func() {
			r.dispatch(func() { r.handleTimeout(cycle) })
		})
	}

	r.logger.Info("acquisition started", "cycle", cycle, "desired_accuracy_m", r.cfg.DesiredAccuracy)
	r.notify()
	return nil
}

// Reject records a failed Authorize check so observers can show it. A
// running cycle is stopped, as Start would have done.
func (r *Refiner) Reject(err error) {
	if r.state.Active {
		r.finish(PhaseIdle)
	}
	r.state.Phase = PhaseFailed
	r.state.LastError = err
	r.notify()
}

// Stop ends the running cycle. Calling it without a running cycle is a no-op.
func (r *Refiner) Stop() {
	if !r.state.Active {
		return
	}
	r.finish(PhaseIdle)
	r.logger.Info("acquisition stopped", "cycle", r.state.Cycle)
	r.notify()
}

// Toggle stops a running cycle or starts a new one.
func (r *Refiner) Toggle() error {
	if r.state.Active {
		r.Stop()
		return nil
	}
	return r.Start()
}

// finish stops the source and disarms the timeout.
func (r *Refiner) finish(phase Phase) {
	if r.state.Active {
		r.source.Stop()
		r.state.Active = false
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.state.Phase = phase
}

// HandleReading processes one reading from the position source.
func (r *Refiner) HandleReading(rd gps.Reading) {
	if !r.state.Active {
		return
	}
	log := r.logger.With("cycle", r.state.Cycle, "accuracy_m", rd.HorizontalAccuracy)

	if age := r.clock.Now().Sub(rd.Timestamp); age > r.cfg.MaxReadingAge {
		log.Debug("reading rejected: stale", "age", age)
		return
	}
	if rd.HorizontalAccuracy < 0 {
		log.Debug("reading rejected: invalid accuracy")
		return
	}

	best := r.state.Best
	distance := math.MaxFloat64
	if best != nil {
		distance = gps.Distance(*best, rd)
	}

	if best == nil || rd.HorizontalAccuracy < best.HorizontalAccuracy {
		accepted := rd
		r.state.Best = &accepted
		r.state.LastError = nil
		r.state.Phase = PhaseRefining
		log.Debug("reading accepted", "lat", rd.Latitude, "lon", rd.Longitude)

		if rd.HorizontalAccuracy <= r.cfg.DesiredAccuracy {
			r.finish(PhaseDone)
			log.Info("desired accuracy reached")
		}
		if !r.state.ResolvingAddress {
			r.resolveAddress(accepted)
		}
		r.notify()
		return
	}

	if distance < r.cfg.ConvergeDistance && rd.Timestamp.Sub(best.Timestamp) > r.cfg.ConvergeAfter {
		r.finish(PhaseDone)
		log.Info("readings converged, forcing done", "best_accuracy_m", best.HorizontalAccuracy)
		r.notify()
	}
}

// HandleFailure processes an error reported by the position source.
func (r *Refiner) HandleFailure(err error) {
	if !r.state.Active {
		return
	}
	if IsTransient(err) {
		r.logger.Debug("transient source error ignored", "cycle", r.state.Cycle, "error", err)
		return
	}

	r.state.LastError = err
	r.finish(PhaseFailed)
	r.logger.Warn("acquisition failed", "cycle", r.state.Cycle, "error", err)
	r.notify()
}

func (r *Refiner) handleTimeout(cycle uint64) {
	if !r.state.Active || r.state.Cycle != cycle {
		return
	}
	r.timer = nil
	if r.state.Best != nil && !r.cfg.TimeoutAbandonsCoarseFix {
		return
	}

	r.state.LastError = ErrTimedOut
	r.finish(PhaseTimedOut)
	r.logger.Warn("acquisition timed out", "cycle", cycle, "have_reading", r.state.Best != nil)
	r.notify()
}

func (r *Refiner) resolveAddress(rd gps.Reading) {
	if r.resolver == nil {
		return
	}
	r.state.ResolvingAddress = true

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.AddressTimeout)
	r.resolver.ResolveAddress(ctx, rd, func(addr geocode.Address, err error) {
		cancel()
		r.dispatch(func() { r.handleAddress(addr, err) })
	})
}

// handleAddress applies a lookup result. It runs even after the cycle has
// ended and never touches the source or the timer.
func (r *Refiner) handleAddress(addr geocode.Address, err error) {
	r.state.ResolvingAddress = false
	switch {
	case err == nil:
		r.state.Address = &addr
		r.state.AddressError = nil
	case errors.Is(err, geocode.ErrNoAddress):
		r.state.Address = nil
		r.state.AddressError = nil
	default:
		r.state.Address = nil
		r.state.AddressError = &AddressResolutionError{Err: err}
		r.logger.Warn("address resolution failed", "error", err)
	}
	r.notify()
}

// cycleSink forwards source events of one cycle onto the refiner goroutine.
type cycleSink struct {
	r     *Refiner
	cycle uint64
}

func (s *cycleSink) Reading(rd gps.Reading) {
	s.r.dispatch(func() {
		if s.r.state.Cycle == s.cycle {
			s.r.HandleReading(rd)
		}
	})
}

func (s *cycleSink) Failure(err error) {
	s.r.dispatch(func() {
		if s.r.state.Cycle == s.cycle {
			s.r.HandleFailure(err)
		}
	})
}

// AsyncResolver adapts a blocking geocode.Resolver, running each lookup on
// its own goroutine.
func AsyncResolver(res geocode.Resolver) AddressResolver {
	return asyncResolver{res: res}
}

type asyncResolver struct {
	res geocode.Resolver
}

func (a asyncResolver) ResolveAddress(ctx context.Context, rd gps.Reading, done func(geocode.Address, error)) {
	go func() {
		addr, err := a.res.Reverse(ctx, rd.Latitude, rd.Longitude)
		done(addr, err)
	}()
}
