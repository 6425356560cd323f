// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package geocode maps coordinates to postal addresses.
package geocode

import (
	"context"
	"errors"
	"strings"
)

// ErrNoAddress is returned when the provider has no address for a coordinate.
var ErrNoAddress = errors.New("geocode: no address found")

// Address is a reverse-geocoded place. Immutable once returned by a Resolver.
type Address struct {
	StreetNumber string `json:"street_number,omitempty"`
	Street       string `json:"street,omitempty"`
	Locality     string `json:"locality,omitempty"`
	Region       string `json:"region,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	Country      string `json:"country,omitempty"`

	// Coordinate the address was resolved for.
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Lines formats the address into two display lines:
// "<number> <street>" and "<locality> <region> <postal code>".
func (a Address) Lines() (string, string) {
	return joinNonEmpty(a.StreetNumber, a.Street), joinNonEmpty(a.Locality, a.Region, a.PostalCode)
}

// String returns both display lines separated by a newline.
func (a Address) String() string {
	l1, l2 := a.Lines()
	switch {
	case l1 == "":
		return l2
	case l2 == "":
		return l1
	}
	return l1 + "\n" + l2
}

// Empty reports whether no place field is set.
func (a Address) Empty() bool {
	return a.StreetNumber == "" && a.Street == "" && a.Locality == "" &&
		a.Region == "" && a.PostalCode == "" && a.Country == ""
}

// Resolver performs reverse geocoding. Reverse blocks until the lookup
// completes or ctx is done.
type Resolver interface {
	Name() string
	Reverse(ctx context.Context, lat, lon float64) (Address, error)
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// Offline never finds an address. Used when no provider is configured.
type Offline struct{}

func (Offline) Name() string { return "none" }

func (Offline) Reverse(ctx context.Context, lat, lon float64) (Address, error) {
	if err := ctx.Err(); err != nil {
		return Address{}, err
	}
	return Address{}, ErrNoAddress
}
