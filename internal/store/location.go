// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package store

import (
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/relabs-tech/mylocations/internal/geocode"
	"github.com/relabs-tech/mylocations/internal/gps"
)

// DefaultCategory is used when a location is tagged without a category.
const DefaultCategory = "No Category"

// Categories lists the tags a saved location can carry.
var Categories = []string{
	DefaultCategory,
	"Apple Store",
	"Bar",
	"Bookstore",
	"Club",
	"Grocery Store",
	"Historic Building",
	"House",
	"Icecream Vendor",
	"Landmark",
	"Park",
}

// Location is a tagged position saved by the user.
type Location struct {
	ID          uuid.UUID        `json:"id"`
	Latitude    float64          `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude   float64          `json:"longitude" validate:"gte=-180,lte=180"`
	Date        time.Time        `json:"date" validate:"required"`
	Description string           `json:"description" validate:"max=200"`
	Category    string           `json:"category" validate:"category"`
	Placemark   *geocode.Address `json:"placemark,omitempty"`
}

// NewLocation tags a reading with a fresh id. addr may be nil.
func NewLocation(r gps.Reading, addr *geocode.Address, description, category string) *Location {
	if category == "" {
		category = DefaultCategory
	}
	date := r.Timestamp
	if date.IsZero() {
		date = time.Now()
	}
	return &Location{
		ID:          uuid.New(),
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Date:        date.UTC(),
		Description: description,
		Category:    category,
		Placemark:   addr,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return slices.Contains(Categories, fl.Field().String())
	})
	return v
}

// Validate checks coordinates, description length and category.
func (l *Location) Validate() error {
	return validate.Struct(l)
}
