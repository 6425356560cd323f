// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// DefaultNominatimURL is the public OpenStreetMap Nominatim server.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errUnexpected  = errors.New("unexpected status code")
	errCircuitOpen = errors.New("circuit breaker open")
)

// Backoff controls retries of failed lookups.
type Backoff struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// NominatimOptions configures a Nominatim resolver.
type NominatimOptions struct {
	BaseURL   string // server root; "/reverse" is appended
	UserAgent string // required by the OSM usage policy
	Language  string
	Client    *http.Client
	Backoff   Backoff
}

// Nominatim resolves addresses with the OpenStreetMap Nominatim API.
type Nominatim struct {
	opts     NominatimOptions
	endpoint string
	circuit  *gobreaker.CircuitBreaker
}

// NewNominatim returns a resolver with defaults filled in.
func NewNominatim(opts NominatimOptions) *Nominatim {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultNominatimURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "mylocations/1.0"
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Backoff.InitialInterval <= 0 {
		opts.Backoff.InitialInterval = 500 * time.Millisecond
	}
	if opts.Backoff.MaxInterval <= 0 {
		opts.Backoff.MaxInterval = 5 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "nominatim",
		MaxRequests: 1,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Nominatim{opts: opts, endpoint: reverseEndpoint(opts.BaseURL), circuit: cb}
}

// reverseEndpoint returns the /reverse URL under base. A base that already
// names the endpoint is used as is.
func reverseEndpoint(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/reverse") {
		return base
	}
	u, err := url.JoinPath(base, "reverse")
	if err != nil {
		return base + "/reverse"
	}
	return u
}

func (n *Nominatim) Name() string { return "nominatim" }

type nominatimResponse struct {
	Error   string `json:"error"`
	Address struct {
		HouseNumber  string `json:"house_number"`
		Road         string `json:"road"`
		Pedestrian   string `json:"pedestrian"`
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
		State        string `json:"state"`
		Postcode     string `json:"postcode"`
		Country      string `json:"country"`
	} `json:"address"`
}

// Reverse looks up the address of a coordinate.
func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (Address, error) {
	values := url.Values{}
	values.Set("format", "jsonv2")
	values.Set("lat", strconv.FormatFloat(lat, 'f', 7, 64))
	values.Set("lon", strconv.FormatFloat(lon, 'f', 7, 64))
	values.Set("addressdetails", "1")
	u := n.endpoint + "?" + values.Encode()

	body, err := n.fetch(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", n.opts.UserAgent)
		req.Header.Set("Accept", "application/json")
		if n.opts.Language != "" {
			req.Header.Set("Accept-Language", n.opts.Language)
		}
		return req, nil
	})
	if err != nil {
		return Address{}, fmt.Errorf("nominatim reverse: %w", err)
	}

	var payload nominatimResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Address{}, fmt.Errorf("nominatim decode: %w", err)
	}
	if payload.Error != "" {
		// "Unable to geocode" is how Nominatim reports open sea and similar.
		return Address{}, ErrNoAddress
	}

	a := payload.Address
	addr := Address{
		StreetNumber: a.HouseNumber,
		Street:       firstNonEmpty(a.Road, a.Pedestrian),
		Locality:     firstNonEmpty(a.City, a.Town, a.Village, a.Municipality),
		Region:       a.State,
		PostalCode:   a.Postcode,
		Country:      a.Country,
		Latitude:     lat,
		Longitude:    lon,
	}
	if addr.Empty() {
		return Address{}, ErrNoAddress
	}
	return addr, nil
}

// fetch executes the request with retries, exponential backoff and the
// circuit breaker, and returns the response body.
func (n *Nominatim) fetch(ctx context.Context, buildRequest func() (*http.Request, error)) ([]byte, error) {
	var attempt int

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}
		req = req.WithContext(ctx)

		result, err := n.circuit.Execute(func() (interface{}, error) {
			resp, err := n.opts.Client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusTooManyRequests {
				return nil, errRateLimited
			}
			if resp.StatusCode >= 500 {
				return nil, errServerError
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
			}
			return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		})
		if err == nil {
			body, ok := result.([]byte)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return body, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		if errors.Is(err, errUnexpected) || attempt >= n.opts.Backoff.MaxRetries {
			return nil, err
		}

		delay := n.opts.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > n.opts.Backoff.MaxInterval {
			delay = n.opts.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
