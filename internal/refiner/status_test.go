// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package refiner

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/relabs-tech/mylocations/internal/geocode"
	"github.com/relabs-tech/mylocations/internal/gps"
)

func TestStatusMessage(t *testing.T) {
	best := &gps.Reading{HorizontalAccuracy: 10}
	tests := []struct {
		name string
		s    Snapshot
		want string
	}{
		{"idle", Snapshot{}, MsgStart},
		{"searching", Snapshot{Active: true}, MsgSearching},
		{"searching with best", Snapshot{Active: true, Best: best}, MsgSearching},
		{"done", Snapshot{Best: best, Phase: PhaseDone}, ""},
		{"denied", Snapshot{LastError: fmt.Errorf("wrapped: %w", ErrPermissionDenied)}, MsgServicesDisabled},
		{"disabled", Snapshot{LastError: ErrServicesDisabled}, MsgServicesDisabled},
		{"timed out", Snapshot{LastError: ErrTimedOut, Best: best}, MsgLocationError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusMessage(tt.s); got != tt.want {
				t.Fatalf("StatusMessage: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddressMessage(t *testing.T) {
	best := &gps.Reading{HorizontalAccuracy: 10}
	addr := &geocode.Address{StreetNumber: "8", Street: "Marienplatz", Locality: "Munich"}

	if got := AddressMessage(Snapshot{}); got != "" {
		t.Errorf("no reading: got %q", got)
	}
	if got := AddressMessage(Snapshot{Best: best, ResolvingAddress: true}); got != MsgSearchingAddress {
		t.Errorf("resolving: got %q", got)
	}
	if got := AddressMessage(Snapshot{Best: best, Address: addr, ResolvingAddress: true}); got != "8 Marienplatz\nMunich" {
		t.Errorf("address: got %q", got)
	}
}

func TestSnapshotStatusJSON(t *testing.T) {
	s := Snapshot{
		Cycle:        3,
		Phase:        PhaseFailed,
		Best:         &gps.Reading{Latitude: 1, Longitude: 2, HorizontalAccuracy: 30},
		LastError:    ErrTimedOut,
		AddressError: &AddressResolutionError{Err: fmt.Errorf("boom")},
	}
	b, err := json.Marshal(s.Status())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out := string(b)
	for _, want := range []string{`"phase":"failed"`, `"cycle":3`, `"button":"Get My Location"`, `"error":"timed out acquiring location"`, `"address_text":"Error Finding Address"`} {
		if !strings.Contains(out, want) {
			t.Errorf("status JSON %s missing %s", out, want)
		}
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseTimedOut.String() != "timed_out" {
		t.Fatalf("got %q", PhaseTimedOut.String())
	}
	if Phase(42).String() != "phase(42)" {
		t.Fatalf("got %q", Phase(42).String())
	}
}
