// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package geocode

import (
	"context"
	"fmt"
	"sync"

	"github.com/kelvins/geocoder"
)

// The geocoder package keeps its API key in a package variable.
var googleKeyMu sync.Mutex

// Google resolves addresses with the Google Geocoding API.
type Google struct {
	apiKey string
}

// NewGoogle returns a Google resolver using apiKey.
func NewGoogle(apiKey string) *Google {
	return &Google{apiKey: apiKey}
}

func (g *Google) Name() string { return "google" }

// Reverse looks up the address of a coordinate. The underlying client is
// not context aware; ctx is only checked before and after the call.
func (g *Google) Reverse(ctx context.Context, lat, lon float64) (Address, error) {
	if err := ctx.Err(); err != nil {
		return Address{}, err
	}

	googleKeyMu.Lock()
	geocoder.ApiKey = g.apiKey
	results, err := geocoder.GeocodingReverse(geocoder.Location{Latitude: lat, Longitude: lon})
	googleKeyMu.Unlock()

	if err != nil {
		return Address{}, fmt.Errorf("google reverse: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Address{}, err
	}
	if len(results) == 0 {
		return Address{}, ErrNoAddress
	}

	addr := fromGoogle(results[0])
	addr.Latitude, addr.Longitude = lat, lon
	if addr.Empty() {
		return Address{}, ErrNoAddress
	}
	return addr, nil
}

func fromGoogle(a geocoder.Address) Address {
	number := fmt.Sprint(a.Number)
	if number == "0" {
		number = ""
	}
	return Address{
		StreetNumber: number,
		Street:       a.Street,
		Locality:     a.City,
		Region:       a.State,
		PostalCode:   a.PostalCode,
		Country:      a.Country,
	}
}
