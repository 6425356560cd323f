// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package refiner

import (
	"errors"
	"testing"
	"time"

	"github.com/relabs-tech/mylocations/internal/geocode"
)

func startCycle(t *testing.T, h *harness) {
	t.Helper()
	if err := h.refiner.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestStart_InitialState(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)

	s := h.refiner.Snapshot()
	if !s.Active || s.Phase != PhaseAcquiring {
		t.Fatalf("after Start: active=%v phase=%v", s.Active, s.Phase)
	}
	if s.Best != nil || s.LastError != nil {
		t.Fatalf("after Start: best=%v lastError=%v, want both nil", s.Best, s.LastError)
	}
	if h.source.starts != 1 {
		t.Fatalf("source starts: got %d, want 1", h.source.starts)
	}
	if h.clock.armed() != 1 {
		t.Fatalf("armed timers: got %d, want 1", h.clock.armed())
	}
}

func TestScenario_ConvergesToDesiredAccuracy(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)

	h.emit(h.reading(100, 0))
	h.emit(h.reading(50, 0))
	h.emit(h.reading(5, 0))

	s := h.refiner.Snapshot()
	if s.Best == nil || s.Best.HorizontalAccuracy != 5 {
		t.Fatalf("best: got %+v, want accuracy 5", s.Best)
	}
	if s.Active || s.Phase != PhaseDone {
		t.Fatalf("active=%v phase=%v, want inactive done", s.Active, s.Phase)
	}
	if h.source.stops != 1 {
		t.Fatalf("source stops: got %d, want 1", h.source.stops)
	}

	h.clock.Advance(61 * time.Second)
	s = h.refiner.Snapshot()
	if s.Phase != PhaseDone || s.LastError != nil {
		t.Fatalf("after 61s: phase=%v lastError=%v, want done without error", s.Phase, s.LastError)
	}
}

func TestScenario_TimeoutAbandonsCoarseFix(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeoutAbandonsCoarseFix = true
	h := newHarness(t, cfg)
	startCycle(t, h)

	h.emit(h.reading(100, 0))
	h.clock.Advance(61 * time.Second)

	s := h.refiner.Snapshot()
	if s.Phase != PhaseTimedOut || s.Active {
		t.Fatalf("phase=%v active=%v, want timed out and inactive", s.Phase, s.Active)
	}
	if !errors.Is(s.LastError, ErrTimedOut) {
		t.Fatalf("lastError: got %v, want ErrTimedOut", s.LastError)
	}
	if s.Best == nil || s.Best.HorizontalAccuracy != 100 {
		t.Fatalf("best: got %+v, want accuracy 100 retained", s.Best)
	}
	if h.source.stops != 1 {
		t.Fatalf("source stops: got %d, want 1", h.source.stops)
	}
}

func TestTimeout_NoReading(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)

	h.clock.Advance(59 * time.Second)
	if s := h.refiner.Snapshot(); s.Phase != PhaseAcquiring {
		t.Fatalf("before timeout: phase=%v", s.Phase)
	}

	h.clock.Advance(2 * time.Second)
	s := h.refiner.Snapshot()
	if s.Phase != PhaseTimedOut || s.Active {
		t.Fatalf("phase=%v active=%v, want timed out", s.Phase, s.Active)
	}
	if s.LastError == nil || !errors.Is(s.LastError, ErrTimedOut) {
		t.Fatalf("lastError: got %v, want ErrTimedOut", s.LastError)
	}
	if h.source.stops != 1 {
		t.Fatalf("source stops: got %d, want 1", h.source.stops)
	}
}

func TestTimeout_NoOpWithBestReading(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)

	h.emit(h.reading(100, 0))
	before := h.refiner.Snapshot()
	h.clock.Advance(61 * time.Second)
	after := h.refiner.Snapshot()

	if after.Phase != PhaseRefining || !after.Active || after.LastError != nil {
		t.Fatalf("after timeout: phase=%v active=%v lastError=%v, want unchanged", after.Phase, after.Active, after.LastError)
	}
	if *after.Best != *before.Best {
		t.Fatalf("best changed: %+v -> %+v", before.Best, after.Best)
	}
	if h.source.stops != 0 {
		t.Fatalf("source stops: got %d, want 0", h.source.stops)
	}
}

func TestReading_StrictlyDecreasingAccuracyAlwaysAccepted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DesiredAccuracy = 0.5
	h := newHarness(t, cfg)
	startCycle(t, h)

	for i, acc := range []float64{400, 250, 120, 80, 33, 12, 4, 1} {
		r := h.reading(acc, float64(i)*3)
		h.emit(r)
		if got := h.refiner.Snapshot().Best; got == nil || *got != r {
			t.Fatalf("step %d: best %+v, want %+v", i, got, r)
		}
		h.clock.Advance(time.Second)
	}
}

func TestReading_EqualAccuracyNotAccepted(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)

	first := h.reading(50, 0)
	h.emit(first)
	h.clock.Advance(time.Second)
	h.emit(h.reading(50, 20))

	if got := h.refiner.Snapshot().Best; *got != first {
		t.Fatalf("best: got %+v, want %+v", got, first)
	}
}

func TestReading_StaleRejected(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)

	stale := h.reading(20, 0)
	stale.Timestamp = h.clock.Now().Add(-6 * time.Second)
	h.emit(stale)

	s := h.refiner.Snapshot()
	if s.Best != nil || s.Phase != PhaseAcquiring {
		t.Fatalf("stale reading accepted: best=%+v phase=%v", s.Best, s.Phase)
	}

	edge := h.reading(20, 0)
	edge.Timestamp = h.clock.Now().Add(-5 * time.Second)
	h.emit(edge)
	if h.refiner.Snapshot().Best == nil {
		t.Fatal("reading exactly at the age limit was rejected")
	}
}

func TestReading_NegativeAccuracyRejected(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)

	h.emit(h.reading(-1, 0))
	if s := h.refiner.Snapshot(); s.Best != nil {
		t.Fatalf("invalid reading accepted: %+v", s.Best)
	}
	if len(h.resolver.pending) != 0 {
		t.Fatal("address lookup started for an invalid reading")
	}
}

func TestReading_NoMutationAfterDone(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)
	sink := h.source.sink

	h.emit(h.reading(8, 0))
	done := h.refiner.Snapshot()
	sink.Reading(h.reading(2, 0))
	h.refiner.HandleReading(h.reading(1, 0))

	if got := h.refiner.Snapshot().Best; *got != *done.Best {
		t.Fatalf("best mutated after done: %+v", got)
	}
	if h.source.stops != 1 {
		t.Fatalf("source stops: got %d, want 1", h.source.stops)
	}
}

func TestReading_ForcedConvergence(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)

	h.emit(h.reading(50, 0))

	h.clock.Advance(9 * time.Second)
	h.emit(h.reading(60, 0))
	if s := h.refiner.Snapshot(); !s.Active {
		t.Fatal("forced done before the convergence window elapsed")
	}

	h.clock.Advance(2 * time.Second)
	h.emit(h.reading(60, 0))
	s := h.refiner.Snapshot()
	if s.Active || s.Phase != PhaseDone {
		t.Fatalf("active=%v phase=%v, want forced done", s.Active, s.Phase)
	}
	if s.Best.HorizontalAccuracy != 50 {
		t.Fatalf("best accuracy: got %f, want 50", s.Best.HorizontalAccuracy)
	}
	if s.LastError != nil {
		t.Fatalf("lastError: got %v, want nil", s.LastError)
	}
}

func TestReading_NoConvergenceWhenMoving(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)

	h.emit(h.reading(50, 0))
	h.clock.Advance(11 * time.Second)
	h.emit(h.reading(60, 5))

	if s := h.refiner.Snapshot(); !s.Active {
		t.Fatal("forced done although the reading moved")
	}
}

func TestFailure_TransientIgnored(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)

	h.source.sink.Failure(ErrLocationUnknown)
	s := h.refiner.Snapshot()
	if !s.Active || s.LastError != nil {
		t.Fatalf("transient error changed state: active=%v lastError=%v", s.Active, s.LastError)
	}
}

func TestFailure_TerminalStopsCycle(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)

	h.source.sink.Failure(ErrPermissionDenied)
	s := h.refiner.Snapshot()
	if s.Active || s.Phase != PhaseFailed {
		t.Fatalf("active=%v phase=%v, want failed", s.Active, s.Phase)
	}
	if !errors.Is(s.LastError, ErrPermissionDenied) {
		t.Fatalf("lastError: got %v", s.LastError)
	}
	if h.source.stops != 1 || h.clock.armed() != 0 {
		t.Fatalf("stops=%d armed=%d, want 1 and 0", h.source.stops, h.clock.armed())
	}

	h.clock.Advance(2 * time.Minute)
	if s := h.refiner.Snapshot(); !errors.Is(s.LastError, ErrPermissionDenied) {
		t.Fatalf("timeout overwrote failure: %v", s.LastError)
	}
}

func TestAcceptedReadingClearsLastError(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)
	h.refiner.state.LastError = errors.New("left over")

	h.emit(h.reading(30, 0))
	if s := h.refiner.Snapshot(); s.LastError != nil {
		t.Fatalf("lastError: got %v, want nil", s.LastError)
	}
}

func TestStop_Idempotent(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)

	h.refiner.Stop()
	h.refiner.Stop()

	s := h.refiner.Snapshot()
	if s.Active || s.Phase != PhaseIdle {
		t.Fatalf("active=%v phase=%v, want idle", s.Active, s.Phase)
	}
	if h.source.stops != 1 {
		t.Fatalf("source stops: got %d, want 1", h.source.stops)
	}
	if h.clock.armed() != 0 {
		t.Fatalf("armed timers: got %d, want 0", h.clock.armed())
	}
}

func TestStop_TimerCancelAfterFireIsNoOp(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)
	h.clock.Advance(61 * time.Second)
	h.refiner.Stop()

	if s := h.refiner.Snapshot(); s.Phase != PhaseTimedOut {
		t.Fatalf("phase: got %v, want timed out", s.Phase)
	}
}

func TestStart_NewCycleResetsState(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)
	oldSink := h.source.sink

	h.emit(h.reading(40, 0))
	h.resolver.complete(t, geocode.Address{Street: "Marienplatz"}, nil)
	h.refiner.Stop()

	startCycle(t, h)
	s := h.refiner.Snapshot()
	if s.Best != nil || s.Address != nil || s.AddressError != nil || s.LastError != nil {
		t.Fatalf("state not reset: %+v", s)
	}
	if s.Cycle != 2 {
		t.Fatalf("cycle: got %d, want 2", s.Cycle)
	}

	// Late events of the first cycle are dropped.
	oldSink.Reading(h.reading(3, 0))
	oldSink.Failure(errors.New("old"))
	s = h.refiner.Snapshot()
	if s.Best != nil || s.LastError != nil || !s.Active {
		t.Fatalf("old cycle event applied: %+v", s)
	}

	// The first cycle's timer must not end the second cycle.
	h.clock.Advance(30 * time.Second)
	h.emit(h.reading(40, 0))
	h.clock.Advance(31 * time.Second)
	if s := h.refiner.Snapshot(); !s.Active {
		t.Fatal("stale timer ended the new cycle")
	}
}

func TestStart_WhileActiveRestarts(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)
	h.emit(h.reading(40, 0))
	startCycle(t, h)

	if h.source.stops != 1 || h.source.starts != 2 {
		t.Fatalf("stops=%d starts=%d, want 1 and 2", h.source.stops, h.source.starts)
	}
	if s := h.refiner.Snapshot(); s.Best != nil || !s.Active {
		t.Fatalf("after restart: %+v", s)
	}
}

func TestStart_SourceError(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.source.startErr = errors.New("no such device")

	if err := h.refiner.Start(); err == nil {
		t.Fatal("Start: expected error")
	}
	s := h.refiner.Snapshot()
	if s.Active || s.Phase != PhaseFailed || s.LastError == nil {
		t.Fatalf("after failed start: %+v", s)
	}
	if h.clock.armed() != 0 {
		t.Fatal("timeout armed for a failed start")
	}
}

func TestToggle(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	if err := h.refiner.Toggle(); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if !h.refiner.Snapshot().Active {
		t.Fatal("Toggle did not start")
	}
	if err := h.refiner.Toggle(); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if h.refiner.Snapshot().Active {
		t.Fatal("Toggle did not stop")
	}
}

func TestAddress_AtMostOneInFlight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DesiredAccuracy = 1
	h := newHarness(t, cfg)
	startCycle(t, h)

	h.emit(h.reading(100, 0))
	if s := h.refiner.Snapshot(); !s.ResolvingAddress {
		t.Fatal("lookup not started for the first accepted reading")
	}
	h.emit(h.reading(50, 0))
	h.emit(h.reading(20, 0))
	if n := len(h.resolver.pending); n != 1 {
		t.Fatalf("pending lookups: got %d, want 1", n)
	}

	h.resolver.complete(t, geocode.Address{StreetNumber: "8", Street: "Marienplatz"}, nil)
	s := h.refiner.Snapshot()
	if s.ResolvingAddress || s.Address == nil || s.Address.Street != "Marienplatz" {
		t.Fatalf("after completion: resolving=%v address=%+v", s.ResolvingAddress, s.Address)
	}

	h.emit(h.reading(10, 0))
	if n := len(h.resolver.pending); n != 1 {
		t.Fatalf("pending lookups after next accepted reading: got %d, want 1", n)
	}
	if got := h.resolver.pending[0].reading.HorizontalAccuracy; got != 10 {
		t.Fatalf("lookup reading accuracy: got %f, want 10", got)
	}
}

func TestAddress_CompletionAfterStop(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)

	h.emit(h.reading(30, 0))
	h.refiner.Stop()
	armed := h.clock.armed()

	h.resolver.complete(t, geocode.Address{Locality: "Munich"}, nil)
	s := h.refiner.Snapshot()
	if s.Address == nil || s.Address.Locality != "Munich" {
		t.Fatalf("address not applied after stop: %+v", s.Address)
	}
	if s.Active || h.source.starts != 1 || h.clock.armed() != armed {
		t.Fatalf("completion had side effects: active=%v starts=%d armed=%d", s.Active, h.source.starts, h.clock.armed())
	}
}

func TestAddress_Errors(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)

	h.emit(h.reading(30, 0))
	boom := errors.New("network unreachable")
	h.resolver.complete(t, geocode.Address{}, boom)

	s := h.refiner.Snapshot()
	var are *AddressResolutionError
	if !errors.As(s.AddressError, &are) || !errors.Is(s.AddressError, boom) {
		t.Fatalf("addressError: got %v", s.AddressError)
	}
	if !s.Active || s.LastError != nil {
		t.Fatalf("address error ended the cycle: active=%v lastError=%v", s.Active, s.LastError)
	}
	if got := AddressMessage(s); got != MsgAddressError {
		t.Fatalf("AddressMessage: got %q", got)
	}

	h.emit(h.reading(20, 0))
	h.resolver.complete(t, geocode.Address{}, geocode.ErrNoAddress)
	s = h.refiner.Snapshot()
	if s.Address != nil || s.AddressError != nil {
		t.Fatalf("no-address result: address=%+v err=%v", s.Address, s.AddressError)
	}
	if got := AddressMessage(s); got != MsgNoAddress {
		t.Fatalf("AddressMessage: got %q", got)
	}
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	var phases []Phase
	cancel := h.refiner.Subscribe(func(s Snapshot) { phases = append(phases, s.Phase) })

	startCycle(t, h)
	h.emit(h.reading(50, 0))
	h.resolver.complete(t, geocode.Address{Street: "Kaufingerstraße"}, nil)
	h.emit(h.reading(5, 0))

	want := []Phase{PhaseAcquiring, PhaseRefining, PhaseRefining, PhaseDone}
	if len(phases) != len(want) {
		t.Fatalf("notifications: got %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("notification %d: got %v, want %v", i, phases[i], want[i])
		}
	}

	cancel()
	h.refiner.Stop()
	startCycle(t, h)
	if len(phases) != len(want) {
		t.Fatalf("notified after cancel: %v", phases)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)
	h.emit(h.reading(50, 0))

	s := h.refiner.Snapshot()
	s.Best.HorizontalAccuracy = 1
	if h.refiner.Snapshot().Best.HorizontalAccuracy != 50 {
		t.Fatal("snapshot shares memory with refiner state")
	}
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		auth    Authorization
		want    error
	}{
		{"authorized", true, AuthAuthorized, nil},
		{"disabled", false, AuthAuthorized, ErrServicesDisabled},
		{"denied", true, AuthDenied, ErrPermissionDenied},
		{"restricted", true, AuthRestricted, ErrPermissionDenied},
		{"not determined", true, AuthNotDetermined, ErrAuthorizationPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{enabled: tt.enabled, auth: tt.auth}
			if err := Authorize(src); !errors.Is(err, tt.want) {
				t.Fatalf("Authorize: got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReject_RecordsPreconditionError(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	startCycle(t, h)
	h.emit(h.reading(100, 0))

	var seen []Snapshot
	h.refiner.Subscribe(func(s Snapshot) { seen = append(seen, s) })
	h.refiner.Reject(ErrServicesDisabled)

	s := h.refiner.Snapshot()
	if s.Active || s.Phase != PhaseFailed || !errors.Is(s.LastError, ErrServicesDisabled) {
		t.Fatalf("active=%v phase=%v lastError=%v", s.Active, s.Phase, s.LastError)
	}
	if h.source.stops != 1 || h.clock.armed() != 0 {
		t.Fatalf("stops=%d armed=%d, want running cycle ended", h.source.stops, h.clock.armed())
	}
	if len(seen) != 1 || StatusMessage(seen[0]) != MsgServicesDisabled {
		t.Fatalf("observed %d snapshots, message %q", len(seen), StatusMessage(s))
	}
}
