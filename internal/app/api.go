// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/relabs-tech/mylocations/internal/gps"
	"github.com/relabs-tech/mylocations/internal/refiner"
	"github.com/relabs-tech/mylocations/internal/store"
)

// Locator is the part of LocationService the HTTP API drives.
type Locator interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Toggle(ctx context.Context) error
	Snapshot() refiner.Snapshot
}

// LocationStore is the saved-location repository used by the HTTP API.
type LocationStore interface {
	Save(ctx context.Context, loc *store.Location) error
	Get(ctx context.Context, id uuid.UUID) (*store.Location, error)
	List(ctx context.Context) ([]store.Location, error)
	Update(ctx context.Context, id uuid.UUID, description, category string) (*store.Location, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type api struct {
	locator Locator
	store   LocationStore
	logger  *slog.Logger
}

// NewHandler returns the HTTP API. ws and staticDir are optional.
func NewHandler(locator Locator, st LocationStore, ws http.Handler, staticDir string, logger *slog.Logger) http.Handler {
	a := &api{locator: locator, store: st, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)

	mux.HandleFunc("GET /api/location", a.handleStatus)
	mux.HandleFunc("POST /api/location/start", a.handleControl(locator.Start))
	mux.HandleFunc("POST /api/location/stop", a.handleControl(locator.Stop))
	mux.HandleFunc("POST /api/location/toggle", a.handleControl(locator.Toggle))

	mux.HandleFunc("GET /api/categories", a.handleCategories)
	mux.HandleFunc("GET /api/locations", a.handleList)
	mux.HandleFunc("POST /api/locations", a.handleTag)
	mux.HandleFunc("GET /api/locations/{id}", a.handleGet)
	mux.HandleFunc("PUT /api/locations/{id}", a.handleUpdate)
	mux.HandleFunc("DELETE /api/locations/{id}", a.handleDelete)

	if ws != nil {
		mux.Handle("GET /ws", ws)
	}
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return requestLogger(logger, mux)
}

func (a *api) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.locator.Snapshot().Status())
}

func (a *api) handleControl(action func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := action(ctx); err != nil {
			status := http.StatusServiceUnavailable
			switch {
			case errors.Is(err, refiner.ErrPermissionDenied):
				status = http.StatusForbidden
			case errors.Is(err, refiner.ErrServicesDisabled), errors.Is(err, refiner.ErrAuthorizationPending):
				status = http.StatusConflict
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, a.locator.Snapshot().Status())
	}
}

func (a *api) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, store.Categories)
}

func (a *api) handleList(w http.ResponseWriter, r *http.Request) {
	locs, err := a.store.List(r.Context())
	if err != nil {
		a.logger.Error("list locations", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list locations")
		return
	}
	writeJSON(w, http.StatusOK, locs)
}

// tagRequest saves the current location, or an explicit coordinate when
// both latitude and longitude are given.
type tagRequest struct {
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

func (a *api) handleTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var loc *store.Location
	switch {
	case req.Latitude != nil && req.Longitude != nil:
		rd := gps.Reading{Latitude: *req.Latitude, Longitude: *req.Longitude, Timestamp: time.Now()}
		loc = store.NewLocation(rd, nil, req.Description, req.Category)
	case req.Latitude != nil || req.Longitude != nil:
		writeError(w, http.StatusBadRequest, "latitude and longitude must be given together")
		return
	default:
		snap := a.locator.Snapshot()
		if snap.Best == nil {
			writeError(w, http.StatusConflict, "no location acquired yet")
			return
		}
		loc = store.NewLocation(*snap.Best, snap.Address, req.Description, req.Category)
	}

	if err := a.store.Save(r.Context(), loc); err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loc)
}

func (a *api) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	loc, err := a.store.Get(r.Context(), id)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (a *api) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	loc, err := a.store.Update(r.Context(), id, req.Description, req.Category)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (a *api) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.store.Delete(r.Context(), id); err != nil {
		a.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid location id")
		return uuid.Nil, false
	}
	return id, true
}

func (a *api) writeStoreError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verrs):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error("location store", "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": msg,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			// the upgrade needs the original ResponseWriter
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
