// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package store persists tagged locations in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/relabs-tech/mylocations/internal/geocode"
)

//go:embed sql/schema.sql
var schemaSQL string

// timeLayout has a fixed width so recorded_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when no location has the given id.
var ErrNotFound = errors.New("location not found")

// Store is the saved-location repository.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	// one writer; also keeps a :memory: database on a single connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and applies the schema.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func buildDSN(path string) (string, error) {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// Save validates and inserts loc.
func (s *Store) Save(ctx context.Context, loc *Location) error {
	if loc.ID == uuid.Nil {
		loc.ID = uuid.New()
	}
	if err := loc.Validate(); err != nil {
		return fmt.Errorf("invalid location: %w", err)
	}
	placemark, err := encodePlacemark(loc.Placemark)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO locations (id, latitude, longitude, recorded_at, description, category, placemark)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		loc.ID.String(), loc.Latitude, loc.Longitude, formatTime(loc.Date),
		loc.Description, loc.Category, placemark,
	)
	if err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	return nil
}

// Get returns the location with the given id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Location, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, latitude, longitude, recorded_at, description, category, placemark
		 FROM locations WHERE id = ?`, id.String())
	loc, err := scanLocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return loc, err
}

// List returns all locations, oldest first.
func (s *Store) List(ctx context.Context) ([]Location, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, latitude, longitude, recorded_at, description, category, placemark
		 FROM locations ORDER BY recorded_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close location rows", "error", err)
		}
	}()

	out := []Location{}
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *loc)
	}
	return out, rows.Err()
}

// Update changes the description and category of a saved location.
func (s *Store) Update(ctx context.Context, id uuid.UUID, description, category string) (*Location, error) {
	loc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if category == "" {
		category = DefaultCategory
	}
	loc.Description = description
	loc.Category = category
	if err := loc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid location: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE locations SET description = ?, category = ? WHERE id = ?`,
		loc.Description, loc.Category, id.String())
	if err != nil {
		return nil, fmt.Errorf("update location: %w", err)
	}
	return loc, nil
}

// Delete removes a saved location.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM locations WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete location: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete location: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLocation(sc scanner) (*Location, error) {
	var (
		loc       Location
		id, ts    string
		placemark sql.NullString
	)
	if err := sc.Scan(&id, &loc.Latitude, &loc.Longitude, &ts, &loc.Description, &loc.Category, &placemark); err != nil {
		return nil, err
	}

	var err error
	if loc.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("location id %q: %w", id, err)
	}
	if loc.Date, err = time.Parse(timeLayout, ts); err != nil {
		return nil, fmt.Errorf("location %s date %q: %w", id, ts, err)
	}
	if placemark.Valid && placemark.String != "" {
		var addr geocode.Address
		if err := json.Unmarshal([]byte(placemark.String), &addr); err != nil {
			return nil, fmt.Errorf("location %s placemark: %w", id, err)
		}
		loc.Placemark = &addr
	}
	return &loc, nil
}

func encodePlacemark(addr *geocode.Address) (sql.NullString, error) {
	if addr == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(addr)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode placemark: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
