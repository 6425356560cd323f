// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/relabs-tech/mylocations/internal/config"
	"github.com/relabs-tech/mylocations/internal/refiner"
)

// RunConsole runs a refiner against the configured source without a broker
// and prints every state change. Enter toggles acquisition, q quits.
func RunConsole(logger *slog.Logger) error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := newPositionSource(cfg, nil, logger)
	if err != nil {
		return err
	}
	geo, err := NewGeocoder(cfg)
	if err != nil {
		return err
	}

	svc := NewLocationService(ctx, cfg.RefinerConfig(), src, geo, logger)
	loopDone := make(chan error, 1)
	go func() { loopDone <- svc.Run(ctx) }()

	if _, err := svc.Subscribe(ctx, func(s refiner.Snapshot) {
		printStatus(os.Stdout, s.Status())
	}); err != nil {
		return err
	}

	if err := svc.Start(ctx); err != nil {
		logger.Warn("console: acquisition not started", "error", err)
	}

	go func() {
		if err := readCommands(ctx, os.Stdin, os.Stdout, svc); err != nil {
			logger.Warn("console: input error", "error", err)
		}
		stop()
	}()

	<-ctx.Done()
	logger.Info("console: shutting down")
	<-loopDone
	return nil
}

// readCommands toggles acquisition on every empty line and returns on "q" or EOF.
func readCommands(ctx context.Context, r io.Reader, w io.Writer, loc Locator) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		switch strings.TrimSpace(sc.Text()) {
		case "q", "quit":
			return nil
		case "":
			if err := loc.Toggle(ctx); err != nil {
				if errors.Is(err, refiner.ErrLoopClosed) {
					return err
				}
				fmt.Fprintf(w, "cannot start: %v\n", err)
			}
		}
	}
	return sc.Err()
}
