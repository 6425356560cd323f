// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/relabs-tech/mylocations/internal/geocode"
	"github.com/relabs-tech/mylocations/internal/gps"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return s
}

func reading(lat, lon float64, ts time.Time) gps.Reading {
	return gps.Reading{Latitude: lat, Longitude: lon, HorizontalAccuracy: 5, Timestamp: ts}
}

func TestSaveAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ts := time.Date(2026, time.May, 4, 10, 30, 0, 123000000, time.UTC)
	addr := &geocode.Address{StreetNumber: "1", Street: "Infinite Loop", Locality: "Cupertino", Region: "CA", PostalCode: "95014"}
	loc := NewLocation(reading(37.3318, -122.0312, ts), addr, "Old campus", "Landmark")

	if err := s.Save(ctx, loc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, loc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != loc.ID || got.Latitude != 37.3318 || got.Longitude != -122.0312 {
		t.Errorf("Get: got %+v", got)
	}
	if !got.Date.Equal(ts) {
		t.Errorf("Date: got %v, want %v", got.Date, ts)
	}
	if got.Description != "Old campus" || got.Category != "Landmark" {
		t.Errorf("tags: got %q/%q", got.Description, got.Category)
	}
	if got.Placemark == nil || got.Placemark.String() != "1 Infinite Loop\nCupertino CA 95014" {
		t.Errorf("Placemark: got %+v", got.Placemark)
	}
}

func TestSave_DefaultsCategoryAndAllowsNoPlacemark(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	loc := NewLocation(reading(1, 2, time.Now()), nil, "", "")
	if err := s.Save(ctx, loc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Get(ctx, loc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Category != DefaultCategory {
		t.Errorf("Category: got %q, want %q", got.Category, DefaultCategory)
	}
	if got.Placemark != nil {
		t.Errorf("Placemark: got %+v, want nil", got.Placemark)
	}
}

func TestSave_Validation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name string
		loc  *Location
	}{
		{"unknown category", NewLocation(reading(1, 2, now), nil, "", "Casino")},
		{"description too long", NewLocation(reading(1, 2, now), nil, strings.Repeat("x", 201), "")},
		{"latitude out of range", NewLocation(reading(91, 2, now), nil, "", "")},
		{"longitude out of range", NewLocation(reading(1, -181, now), nil, "", "")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := s.Save(ctx, tc.loc)
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Save: got %v, want validation errors", err)
			}
		})
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("List: got %d locations after rejected saves, want 0", len(all))
	}
}

func TestList_SortedByDate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)

	// half a second sorts before the whole second that follows it
	order := []time.Duration{2 * time.Second, 500 * time.Millisecond, 0, time.Second}
	for i, d := range order {
		loc := NewLocation(reading(float64(i), 0, base.Add(d)), nil, "", "")
		if err := s.Save(ctx, loc); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != len(order) {
		t.Fatalf("List: got %d, want %d", len(all), len(order))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Date.Before(all[i-1].Date) {
			t.Errorf("List: %v listed after %v", all[i].Date, all[i-1].Date)
		}
	}
}

func TestList_Empty(t *testing.T) {
	s := setupTestStore(t)
	all, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if all == nil || len(all) != 0 {
		t.Errorf("List: got %#v, want empty slice", all)
	}
}

func TestUpdate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	loc := NewLocation(reading(1, 2, time.Now()), nil, "", "")
	if err := s.Save(ctx, loc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	updated, err := s.Update(ctx, loc.ID, "Corner bar", "Bar")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Description != "Corner bar" || updated.Category != "Bar" {
		t.Errorf("Update: got %+v", updated)
	}

	got, err := s.Get(ctx, loc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Description != "Corner bar" || got.Category != "Bar" {
		t.Errorf("stored: got %q/%q", got.Description, got.Category)
	}

	if _, err := s.Update(ctx, loc.ID, "", "Casino"); err == nil {
		t.Error("Update with unknown category: want error")
	}
	if _, err := s.Update(ctx, uuid.New(), "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update missing: got %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	loc := NewLocation(reading(1, 2, time.Now()), nil, "", "")
	if err := s.Save(ctx, loc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(ctx, loc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, loc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete: got %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, loc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: got %v, want ErrNotFound", err)
	}
}

func TestOpen_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "locations.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	loc := NewLocation(reading(1, 2, time.Now()), nil, "kept", "")
	if err := s.Save(context.Background(), loc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Get(context.Background(), loc.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Description != "kept" {
		t.Errorf("Description: got %q", got.Description)
	}
}
