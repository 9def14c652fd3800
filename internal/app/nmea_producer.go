package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/rotation_calibrator/internal/config"
	"github.com/relabs-tech/rotation_calibrator/internal/logging"
)

// errNoAngle marks sentences that parse but carry no usable angle.
var errNoAngle = errors.New("no valid angle")

// angleFromSentence extracts the rotation reading from one NMEA line. want is
// "RSA" (starboard rudder angle) or "HDT" (true heading). Lines of other types
// return errNoAngle.
func angleFromSentence(line, want string) (float64, error) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		return 0, err
	}
	if sentence.DataType() != want {
		return 0, errNoAngle
	}

	switch m := sentence.(type) {
	case nmea.RSA:
		if m.StarboardRudderAngleStatus != "A" {
			return 0, fmt.Errorf("%w: rudder status %q", errNoAngle, m.StarboardRudderAngleStatus)
		}
		return m.StarboardRudderAngle, nil
	case nmea.HDT:
		return m.Heading, nil
	}
	return 0, errNoAngle
}

// pumpNMEA reads sentences from r until it fails and publishes every angle
// found to topic.
func pumpNMEA(r io.Reader, want, topic string, pub Publisher, log *zap.SugaredLogger) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("NMEA read error: %w", err)
		}

		line = strings.TrimSpace(line)
		// NMEA sentences start with '$'
		if !strings.HasPrefix(line, "$") {
			continue
		}

		angle, err := angleFromSentence(line, want)
		if err != nil {
			if !errors.Is(err, errNoAngle) {
				log.Debugw("NMEA parse error", "line", line, "error", err)
			}
			continue
		}
		pub.Publish(topic, false, []byte(strconv.FormatFloat(angle, 'f', -1, 64)))
	}
}

// RunNMEAProducer opens the serial port and publishes RSA or HDT angles as
// plain numbers, ready to be a sensor input topic.
func RunNMEAProducer() error {
	cfg := config.Get()
	log := logging.Must(cfg.LogLevel, cfg.LogFormat).Named("nmea")
	defer log.Sync()

	client, err := connect(newClientOptions(cfg.MQTTBroker, cfg.MQTTClientIDNMEA), log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	serialOpts := serial.OpenOptions{
		PortName:              cfg.NMEASerialPort,
		BaudRate:              uint(cfg.NMEABaudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(serialOpts)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", serialOpts.PortName, err)
	}
	defer port.Close()
	log.Infow("serial port opened", "port", serialOpts.PortName, "baud", serialOpts.BaudRate,
		"sentence", cfg.NMEASentence, "topic", cfg.NMEATopic)

	return pumpNMEA(port, cfg.NMEASentence, cfg.NMEATopic, &mqttPublisher{client: client, log: log}, log)
}
