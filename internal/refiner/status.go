// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package refiner

import (
	"github.com/relabs-tech/mylocations/internal/geocode"
	"github.com/relabs-tech/mylocations/internal/gps"
)

// Display strings shown by the presenters.
const (
	MsgStart            = "Tap 'Get My Location' to Start"
	MsgSearching        = "Searching..."
	MsgServicesDisabled = "Location Services Disabled"
	MsgLocationError    = "Error Getting Location"

	MsgSearchingAddress = "Searching for Address..."
	MsgAddressError     = "Error Finding Address"
	MsgNoAddress        = "No Address Found"

	ButtonGet  = "Get My Location"
	ButtonStop = "Stop"
)

// StatusMessage returns the one-line status for s.
func StatusMessage(s Snapshot) string {
	switch {
	case s.LastError != nil && IsPermission(s.LastError):
		return MsgServicesDisabled
	case s.LastError != nil:
		return MsgLocationError
	case s.Active:
		return MsgSearching
	case s.Best != nil:
		return ""
	default:
		return MsgStart
	}
}

// AddressMessage returns the address text for s.
func AddressMessage(s Snapshot) string {
	switch {
	case s.Address != nil:
		return s.Address.String()
	case s.ResolvingAddress:
		return MsgSearchingAddress
	case s.AddressError != nil:
		return MsgAddressError
	case s.Best == nil:
		return ""
	default:
		return MsgNoAddress
	}
}

// ButtonTitle returns the label of the get/stop control.
func ButtonTitle(s Snapshot) string {
	if s.Active {
		return ButtonStop
	}
	return ButtonGet
}

// Status is the JSON view of a Snapshot published to MQTT and WebSocket clients.
type Status struct {
	Cycle            uint64           `json:"cycle"`
	Phase            string           `json:"phase"`
	Active           bool             `json:"active"`
	Best             *gps.Reading     `json:"best,omitempty"`
	Error            string           `json:"error,omitempty"`
	ResolvingAddress bool             `json:"resolving_address"`
	Address          *geocode.Address `json:"address,omitempty"`
	AddressError     string           `json:"address_error,omitempty"`
	Message          string           `json:"message"`
	AddressText      string           `json:"address_text"`
	Button           string           `json:"button"`
}

// Status converts s for presentation.
func (s Snapshot) Status() Status {
	st := Status{
		Cycle:            s.Cycle,
		Phase:            s.Phase.String(),
		Active:           s.Active,
		Best:             s.Best,
		ResolvingAddress: s.ResolvingAddress,
		Address:          s.Address,
		Message:          StatusMessage(s),
		AddressText:      AddressMessage(s),
		Button:           ButtonTitle(s),
	}
	if s.LastError != nil {
		st.Error = s.LastError.Error()
	}
	if s.AddressError != nil {
		st.AddressError = s.AddressError.Error()
	}
	return st
}
