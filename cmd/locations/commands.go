// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/mylocations/internal/app"
	"github.com/relabs-tech/mylocations/internal/config"
	"github.com/relabs-tech/mylocations/internal/geocode"
	"github.com/relabs-tech/mylocations/internal/gps"
	"github.com/relabs-tech/mylocations/internal/store"
)

var (
	description string
	category    string
	resolve     bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved locations, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		locs, err := st.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list locations: %w", err)
		}
		if len(locs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No saved locations.")
			return nil
		}
		return printLocations(cmd.OutOrStdout(), locs)
	},
}

var addCmd = &cobra.Command{
	Use:   "add <latitude> <longitude>",
	Short: "Save a location at the given coordinates",
	Long: `Save a location at the given coordinates.

Put negative coordinates after "--", for example:
  locations add -c Park -- 37.3318 -122.0312`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid latitude %q", args[0])
		}
		lon, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid longitude %q", args[1])
		}

		st, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		var addr *geocode.Address
		if resolve {
			addr, err = reverse(cmd.Context(), cfg, lat, lon)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "address lookup failed: %v\n", err)
			}
		}

		r := gps.Reading{Latitude: lat, Longitude: lon, Timestamp: time.Now()}
		loc := store.NewLocation(r, addr, description, category)
		if err := st.Save(cmd.Context(), loc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved location: %s\n", loc.ID)
		return nil
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag <id>",
	Short: "Change the description or category of a saved location",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		if !cmd.Flags().Changed("description") && !cmd.Flags().Changed("category") {
			return errors.New("nothing to change: give --description or --category")
		}
		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		// Keep the stored value of any field whose flag was not given.
		loc, err := st.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		desc, cat := loc.Description, loc.Category
		if cmd.Flags().Changed("description") {
			desc = description
		}
		if cmd.Flags().Changed("category") {
			cat = category
		}

		loc, err = st.Update(cmd.Context(), id, desc, cat)
		if err != nil {
			return err
		}
		return printLocations(cmd.OutOrStdout(), []store.Location{*loc})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a saved location",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		st, _, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Delete(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted location: %s\n", id)
		return nil
	},
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the categories a location can be tagged with",
	Run: func(cmd *cobra.Command, args []string) {
		for _, c := range store.Categories {
			fmt.Fprintln(cmd.OutOrStdout(), c)
		}
	},
}

func init() {
	for _, c := range []*cobra.Command{addCmd, tagCmd} {
		c.Flags().StringVarP(&description, "description", "d", "", "free-form description")
		c.Flags().StringVarP(&category, "category", "c", store.DefaultCategory, "category (see 'locations categories')")
	}
	addCmd.Flags().BoolVar(&resolve, "resolve", false, "reverse-geocode the coordinates with the configured geocoder")
}

// openStore loads the configuration, falling back to defaults when the
// file does not exist, and opens the database.
func openStore() (*store.Store, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return st, cfg, nil
}

func reverse(ctx context.Context, cfg *config.Config, lat, lon float64) (*geocode.Address, error) {
	geo, err := app.NewGeocoder(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.GeocodeTimeout)
	defer cancel()

	addr, err := geo.Reverse(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

func printLocations(out io.Writer, locs []store.Location) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tLATITUDE\tLONGITUDE\tCATEGORY\tDESCRIPTION\tADDRESS")
	for _, l := range locs {
		addr := ""
		if l.Placemark != nil {
			addr = strings.ReplaceAll(l.Placemark.String(), "\n", ", ")
		}
		fmt.Fprintf(w, "%s\t%s\t%.6f\t%.6f\t%s\t%s\t%s\n",
			l.ID, l.Date.Local().Format("2006-01-02 15:04"),
			l.Latitude, l.Longitude, l.Category, l.Description, addr)
	}
	return w.Flush()
}
