package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relabs-tech/rotation_calibrator/internal/calibration"
)

// SensorView is the JSON shape of one sensor in the HTTP API.
type SensorView struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	InputTopic string             `json:"input_topic"`
	Status     calibration.Status `json:"status"`
}

type valueRequest struct {
	Value json.RawMessage `json:"value"`
}

// NewWebHandler serves the sensor API, the websocket endpoint, metrics and,
// when staticDir is not empty, static files.
func NewWebHandler(reg SensorRegistry, hub *Hub, gatherer prometheus.Gatherer, staticDir string, log *zap.SugaredLogger) http.Handler {
	mux := http.NewServeMux()

	// JSON API endpoint: all sensors
	mux.HandleFunc("GET /api/sensors", func(w http.ResponseWriter, r *http.Request) {
		sensors := reg.Sensors()
		views := make([]SensorView, 0, len(sensors))
		for _, s := range sensors {
			views = append(views, viewOf(s))
		}
		writeJSON(w, http.StatusOK, views, log)
	})

	mux.HandleFunc("GET /api/sensors/{id}", func(w http.ResponseWriter, r *http.Request) {
		s, ok := reg.Sensor(r.PathValue("id"))
		if !ok {
			http.Error(w, ErrUnknownSensor.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(s), log)
	})

	command := func(action string, withValue bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			s, ok := reg.Sensor(r.PathValue("id"))
			if !ok {
				http.Error(w, ErrUnknownSensor.Error(), http.StatusNotFound)
				return
			}
			var req valueRequest
			if withValue {
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
					return
				}
			}
			if err := s.Apply(action, req.Value); err != nil {
				status := http.StatusBadRequest
				if errors.Is(err, ErrUnknownCommand) {
					status = http.StatusNotFound
				}
				http.Error(w, err.Error(), status)
				return
			}
			writeJSON(w, http.StatusOK, viewOf(s), log)
		}
	}
	mux.HandleFunc("POST /api/sensors/{id}/calibration/start", command(CmdStartCalibration, false))
	mux.HandleFunc("POST /api/sensors/{id}/calibration/stop", command(CmdStopCalibration, false))
	mux.HandleFunc("POST /api/sensors/{id}/reverse", command(CmdSetReverse, true))
	mux.HandleFunc("POST /api/sensors/{id}/max_value", command(CmdSetMaxValue, true))

	mux.HandleFunc("GET /ws", hub.HandleWS(reg))
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Static files as the root
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

func viewOf(s *Sensor) SensorView {
	return SensorView{
		ID:         s.ID(),
		Name:       s.Name(),
		InputTopic: s.InputTopic(),
		Status:     s.Status(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any, log *zap.SugaredLogger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnw("json encode error", "error", err)
	}
}
