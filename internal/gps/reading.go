// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Reading is a single timestamped position sample with an accuracy radius.
// It is suitable for JSON and MQTT.
type Reading struct {
	Latitude           float64   `json:"lat"`     // decimal degrees
	Longitude          float64   `json:"lon"`     // decimal degrees
	Altitude           float64   `json:"alt_m"`   // metres above MSL
	HorizontalAccuracy float64   `json:"h_acc_m"` // metres, negative = invalid fix
	Timestamp          time.Time `json:"time"`
}

// Valid reports whether the reading carries a usable accuracy radius.
func (r Reading) Valid() bool {
	return r.HorizontalAccuracy >= 0
}

// Point returns the reading as an orb point (lon, lat).
func (r Reading) Point() orb.Point {
	return orb.Point{r.Longitude, r.Latitude}
}

// Distance returns the great-circle distance between two readings in metres.
func Distance(a, b Reading) float64 {
	return geo.Distance(a.Point(), b.Point())
}

// Event kinds carried on the GPS reading topic.
const (
	EventReading = "reading"
	EventFailure = "failure"
)

// Event is the MQTT envelope published by the GPS producer. It carries
// either a reading or a failure description.
type Event struct {
	Kind      string   `json:"kind"`
	Reading   *Reading `json:"reading,omitempty"`
	Failure   string   `json:"failure,omitempty"`
	Transient bool     `json:"transient,omitempty"` // e.g. no satellite fix yet
}
