package app

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/rotation_calibrator/internal/calibration"
	"github.com/relabs-tech/rotation_calibrator/internal/config"
	"github.com/relabs-tech/rotation_calibrator/internal/hass"
	"github.com/relabs-tech/rotation_calibrator/internal/logging"
)

const (
	displayWidth  = 128
	displayHeight = 64
)

// DisplayData holds the latest retained values of the displayed sensor.
type DisplayData struct {
	mu sync.RWMutex

	name        string
	output      int
	haveOutput  bool
	maxValue    int
	calibrating bool
	attrs       calibration.Attributes
	online      bool
}

func newDisplayData(name string) *DisplayData {
	return &DisplayData{name: name, maxValue: calibration.DefaultCeiling, online: true}
}

// displayView is an unlocked copy of DisplayData.
type displayView struct {
	Name        string
	Output      int
	HaveOutput  bool
	MaxValue    int
	Calibrating bool
	Calibrated  bool
	Reverse     bool
	Online      bool
}

func (d *DisplayData) snapshot() displayView {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return displayView{
		Name:        d.name,
		Output:      d.output,
		HaveOutput:  d.haveOutput,
		MaxValue:    d.maxValue,
		Calibrating: d.calibrating,
		Calibrated:  d.attrs.Calibrated,
		Reverse:     d.attrs.Reverse,
		Online:      d.online,
	}
}

// apply stores a message from one of the sensor topics.
func (d *DisplayData) apply(t hass.Topics, topic string, payload []byte) error {
	text := strings.TrimSpace(string(payload))
	d.mu.Lock()
	defer d.mu.Unlock()

	switch topic {
	case t.State:
		n, err := strconv.Atoi(text)
		if err != nil {
			return fmt.Errorf("state %q: %w", text, err)
		}
		d.output, d.haveOutput = n, true
	case t.MaxValueState:
		n, err := strconv.Atoi(text)
		if err != nil {
			return fmt.Errorf("max value %q: %w", text, err)
		}
		d.maxValue = calibration.ClampCeiling(n)
	case t.CalibrateState:
		on, err := hass.ParseSwitch(text)
		if err != nil {
			return err
		}
		d.calibrating = on
	case t.Attributes:
		var attrs calibration.Attributes
		if err := json.Unmarshal(payload, &attrs); err != nil {
			return fmt.Errorf("attributes: %w", err)
		}
		d.attrs = attrs
	case t.Availability:
		d.online = text == hass.PayloadOnline
	default:
		return fmt.Errorf("unexpected topic %s", topic)
	}
	return nil
}

// RunDisplay shows the calibrated value of DISPLAY_SENSOR on an SSD1306.
func RunDisplay() error {
	cfg := config.Get()
	log := logging.Must(cfg.LogLevel, cfg.LogFormat).Named("display")
	defer log.Sync()

	id := cfg.DisplaySensor
	if id == "" {
		id = cfg.Sensors[0].ID
	}
	sc, _ := cfg.Sensor(id)

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Infow("display initialized", "sensor", id)

	if err := dev.Draw(dev.Bounds(), renderSplash(sc.Name), image.Point{}); err != nil {
		log.Warnw("error showing splash", "error", err)
	}

	data := newDisplayData(sc.Name)
	topics := hass.TopicsFor(cfg.TopicPrefix, id)

	client, err := connect(newClientOptions(cfg.MQTTBroker, cfg.MQTTClientIDDisplay), log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		if err := data.apply(topics, msg.Topic(), msg.Payload()); err != nil {
			log.Debugw("ignoring message", "error", err)
		}
	}
	for _, topic := range []string{topics.State, topics.Attributes, topics.CalibrateState, topics.MaxValueState, topics.Availability} {
		if err := subscribe(client, topic, handler); err != nil {
			return err
		}
		log.Debugw("subscribed", "topic", topic)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting update loop")
	refreshDisplay(ctx, time.Duration(cfg.DisplayUpdateInterval)*time.Millisecond, data, func(img *image1bit.VerticalLSB) error {
		return dev.Draw(dev.Bounds(), img, image.Point{})
	}, log)
	log.Info("shutting down")
	return nil
}

// refreshDisplay redraws whenever the displayed values change, checking every
// interval until ctx is done. A failed draw is retried on the next tick.
func refreshDisplay(ctx context.Context, interval time.Duration, data *DisplayData, draw func(*image1bit.VerticalLSB) error, log *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last  displayView
		drawn bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		view := data.snapshot()
		if drawn && view == last {
			continue
		}
		if err := draw(renderSensor(view)); err != nil {
			log.Warnw("error updating display", "error", err)
			continue
		}
		last, drawn = view, true
	}
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func renderSplash(name string) *image1bit.VerticalLSB {
	img, drawer := newCanvas()
	drawer.Dot = fixed.P(10, 26)
	drawer.DrawBytes([]byte("Rotation Cal"))
	drawer.Dot = fixed.P(10, 43)
	drawer.DrawBytes([]byte(name))
	return img
}

// barTop and barHeight place the output bar below the text lines.
const (
	barTop    = 44
	barHeight = 12
)

func renderSensor(v displayView) *image1bit.VerticalLSB {
	img, drawer := newCanvas()

	drawer.Dot = fixed.P(0, 13)
	drawer.DrawBytes([]byte(v.Name))

	switch {
	case !v.Online:
		drawer.Dot = fixed.P(0, 32)
		drawer.DrawBytes([]byte("Offline"))
		return img
	case v.Calibrating:
		drawer.Dot = fixed.P(0, 32)
		drawer.DrawBytes([]byte("CAL  turn fully"))
		return img
	case !v.Calibrated:
		drawer.Dot = fixed.P(0, 32)
		drawer.DrawBytes([]byte("Not calibrated"))
		return img
	case !v.HaveOutput:
		drawer.Dot = fixed.P(0, 32)
		drawer.DrawBytes([]byte("Waiting..."))
		return img
	}

	dir := ""
	if v.Reverse {
		dir = " REV"
	}
	drawer.Dot = fixed.P(0, 32)
	drawer.DrawBytes([]byte(fmt.Sprintf("%3d / %d%s", v.Output, v.MaxValue, dir)))

	drawBar(img, v.Output, v.MaxValue)
	return img
}

// drawBar draws an outlined bar filled in proportion to value/ceiling.
func drawBar(img *image1bit.VerticalLSB, value, ceiling int) {
	if ceiling <= 0 {
		ceiling = calibration.DefaultCeiling
	}
	right := displayWidth - 1
	bottom := barTop + barHeight - 1
	for x := 0; x <= right; x++ {
		img.SetBit(x, barTop, image1bit.On)
		img.SetBit(x, bottom, image1bit.On)
	}
	for y := barTop; y <= bottom; y++ {
		img.SetBit(0, y, image1bit.On)
		img.SetBit(right, y, image1bit.On)
	}

	fill := value * (displayWidth - 4) / ceiling
	for x := 2; x < 2+fill; x++ {
		for y := barTop + 2; y <= bottom-2; y++ {
			img.SetBit(x, y, image1bit.On)
		}
	}
}
