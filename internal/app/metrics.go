package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relabs-tech/rotation_calibrator/internal/calibration"
)

const metricsNamespace = "rotation_calibrator"

// Metrics holds the per-sensor Prometheus series of the calibrator.
type Metrics struct {
	Output      *prometheus.GaugeVec
	Raw         *prometheus.GaugeVec
	MinRotation *prometheus.GaugeVec
	MaxRotation *prometheus.GaugeVec
	Calibrating *prometheus.GaugeVec
	Reverse     *prometheus.GaugeVec
	MaxValue    *prometheus.GaugeVec

	Readings *prometheus.CounterVec
	Rejected *prometheus.CounterVec
	Commands *prometheus.CounterVec
}

// NewMetrics registers all series with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	gauge := func(name, help string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, []string{"sensor"})
	}
	return &Metrics{
		Output:      gauge("output", "Calibrated output value."),
		Raw:         gauge("raw", "Last raw reading."),
		MinRotation: gauge("min_rotation", "Lowest raw reading learned during calibration."),
		MaxRotation: gauge("max_rotation", "Highest raw reading learned during calibration."),
		Calibrating: gauge("calibrating", "1 while a calibration pass is running."),
		Reverse:     gauge("reverse", "1 when the output direction is reversed."),
		MaxValue:    gauge("max_value", "Upper end of the calibrated output range."),
		Readings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "readings_total",
			Help:      "Raw readings accepted.",
		}, []string{"sensor"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "readings_rejected_total",
			Help:      "Raw readings dropped because they were not numeric.",
		}, []string{"sensor"}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Control commands applied, by command.",
		}, []string{"sensor", "command"}),
	}
}

// observe copies a status into the gauges of sensor id.
func (m *Metrics) observe(id string, st calibration.Status) {
	if m == nil {
		return
	}
	m.Output.WithLabelValues(id).Set(float64(st.Output))
	m.MaxValue.WithLabelValues(id).Set(float64(st.Ceiling))
	m.Calibrating.WithLabelValues(id).Set(boolGauge(st.Calibrating))
	m.Reverse.WithLabelValues(id).Set(boolGauge(st.Attributes.Reverse))
	if st.CurrentRaw != nil {
		m.Raw.WithLabelValues(id).Set(*st.CurrentRaw)
	}
	if st.Attributes.MinRotation != nil {
		m.MinRotation.WithLabelValues(id).Set(*st.Attributes.MinRotation)
	} else {
		m.MinRotation.DeleteLabelValues(id)
	}
	if st.Attributes.MaxRotation != nil {
		m.MaxRotation.WithLabelValues(id).Set(*st.Attributes.MaxRotation)
	} else {
		m.MaxRotation.DeleteLabelValues(id)
	}
}

func (m *Metrics) reading(id string, accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.Readings.WithLabelValues(id).Inc()
	} else {
		m.Rejected.WithLabelValues(id).Inc()
	}
}

func (m *Metrics) command(id, name string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(id, name).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
