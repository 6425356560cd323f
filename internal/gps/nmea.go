// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// DefaultUERE is the user equivalent range error used to turn HDOP into
// metres when the receiver does not send GST.
const DefaultUERE = 5.0

var (
	// ErrNoFix is returned for a GGA sentence that reports no position fix.
	ErrNoFix = errors.New("gps: no fix")

	// ErrNotNMEA is returned for lines that are not NMEA sentences.
	ErrNotNMEA = errors.New("gps: not an NMEA sentence")
)

// TypeGST is the GNSS pseudorange error statistics sentence.
const TypeGST = "GST"

// GST holds the error estimate a receiver reports for one epoch.
// Standard deviations are in metres.
type GST struct {
	nmea.BaseSentence
	Time       nmea.Time
	RMS        float64
	StdDevLat  float64
	StdDevLong float64
	StdDevAlt  float64
}

func newGST(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	p.AssertType(TypeGST)
	return GST{
		BaseSentence: s,
		Time:         p.Time(0, "time"),
		RMS:          p.Float64(1, "range rms"),
		StdDevLat:    p.Float64(5, "latitude std dev"),
		StdDevLong:   p.Float64(6, "longitude std dev"),
		StdDevAlt:    p.Float64(7, "altitude std dev"),
	}, p.Err()
}

func newSentenceParser() *nmea.SentenceParser {
	return &nmea.SentenceParser{
		CustomParsers: map[string]nmea.ParserFunc{TypeGST: newGST},
	}
}

// Assembler combines RMC, GGA and GST sentences into readings.
// A reading is produced for every GGA with a valid fix.
// Not safe for concurrent use.
type Assembler struct {
	// UERE in metres per HDOP unit. Zero means DefaultUERE.
	UERE float64

	// Now supplies the date until an RMC has been seen. Nil means time.Now.
	Now func() time.Time

	parser *nmea.SentenceParser

	date     nmea.Date
	haveDate bool

	gst     GST
	haveGST bool
}

// Feed parses one line. ok is true when the line completed a reading.
// Sentences that only update context (RMC, GST) and unknown sentence types
// return ok == false and a nil error.
func (a *Assembler) Feed(line string) (r Reading, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "$") {
		return Reading{}, false, ErrNotNMEA
	}

	if a.parser == nil {
		a.parser = newSentenceParser()
	}
	sentence, err := a.parser.Parse(line)
	if err != nil {
		return Reading{}, false, fmt.Errorf("parse %q: %w", line, err)
	}

	switch sentence.DataType() {
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		if m.Date.Valid {
			a.date = m.Date
			a.haveDate = true
		}
		return Reading{}, false, nil

	case TypeGST:
		a.gst = sentence.(GST)
		a.haveGST = true
		return Reading{}, false, nil

	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		if m.FixQuality == nmea.Invalid || m.FixQuality == "" {
			return Reading{}, false, ErrNoFix
		}
		return Reading{
			Latitude:           m.Latitude,
			Longitude:          m.Longitude,
			Altitude:           m.Altitude,
			HorizontalAccuracy: a.accuracy(m),
			Timestamp:          a.timestamp(m.Time),
		}, true, nil

	default:
		return Reading{}, false, nil
	}
}

func (a *Assembler) accuracy(m nmea.GGA) float64 {
	if a.haveGST && a.gst.Time == m.Time {
		if acc := math.Hypot(a.gst.StdDevLat, a.gst.StdDevLong); acc > 0 {
			return acc
		}
	}
	if m.HDOP <= 0 {
		return -1
	}
	uere := a.UERE
	if uere <= 0 {
		uere = DefaultUERE
	}
	return m.HDOP * uere
}

func (a *Assembler) timestamp(t nmea.Time) time.Time {
	var year, day int
	var month time.Month
	if a.haveDate {
		year, month, day = 2000+a.date.YY, time.Month(a.date.MM), a.date.DD
	} else {
		now := time.Now
		if a.Now != nil {
			now = a.Now
		}
		year, month, day = now().UTC().Date()
	}
	return time.Date(year, month, day, t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}
