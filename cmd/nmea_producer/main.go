package main

import (
	"github.com/relabs-tech/rotation_calibrator/internal/app"
	"github.com/relabs-tech/rotation_calibrator/internal/config"
	"github.com/relabs-tech/rotation_calibrator/internal/logging"
)

func main() {
	log := logging.Must("info", "console")
	log.Info("starting NMEA producer (RSA/HDT → MQTT)")

	// Load configuration
	if err := config.InitGlobal(config.Path()); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunNMEAProducer(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
