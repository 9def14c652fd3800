// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"github.com/relabs-tech/rotation_calibrator/internal/app"
	"github.com/relabs-tech/rotation_calibrator/internal/config"
	"github.com/relabs-tech/rotation_calibrator/internal/logging"
)

func main() {
	log := logging.Must("info", "console")
	log.Info("starting rotation calibrator (MQTT + web)")

	// Load configuration
	if err := config.InitGlobal(config.Path()); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunCalibrator(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
