// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"fmt"
	"os"

	"github.com/relabs-tech/mylocations/internal/app"
	"github.com/relabs-tech/mylocations/internal/config"
	"github.com/relabs-tech/mylocations/internal/logging"
)

var version = "dev"

func main() {
	if err := config.InitGlobal(config.DefaultPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(config.Get(), version, "mylocations-console-mqtt")
	logger.Info("starting MQTT console")

	if err := app.RunConsoleMQTT(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}
