// Package metrics exports sensor readings to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/womat/hm3301/internal/capture"
	"github.com/womat/hm3301/pkg/protocol"
)

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler serving reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// SensorMetrics are the metrics of one sensor.
type SensorMetrics struct {
	Concentration  *prometheus.GaugeVec   // labels: channel
	ScansTotal     *prometheus.CounterVec // labels: result=ok|error
	LastScan       prometheus.Gauge
	CleaningPeriod prometheus.Gauge
}

// NewSensorMetrics registers and returns the sensor metrics.
func NewSensorMetrics(reg prometheus.Registerer) *SensorMetrics {
	m := &SensorMetrics{
		Concentration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hm3301_mass_concentration_ug_m3",
			Help: "Mass concentration of particulate matter in µg/m³.",
		}, []string{"channel"}),
		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hm3301_scans_total",
			Help: "Sensor reads by result.",
		}, []string{"result"}),
		LastScan: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hm3301_last_scan_timestamp_seconds",
			Help: "Unix time of the last successful read.",
		}),
		CleaningPeriod: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hm3301_cleaning_period_seconds",
			Help: "Auto-cleaning period of the fan, 0 if disabled.",
		}),
	}
	reg.MustRegister(m.Concentration, m.ScansTotal, m.LastScan, m.CleaningPeriod)
	return m
}

// Observe records a successful scan.
func (m *SensorMetrics) Observe(s capture.Scan) {
	for c, v := range s.Values {
		m.Concentration.WithLabelValues(protocol.Channel(c).String()).Set(v.Float64())
	}
	m.ScansTotal.WithLabelValues("ok").Inc()
	m.LastScan.Set(float64(s.Time.UnixNano()) / 1e9)
}

// Failed records a failed read.
func (m *SensorMetrics) Failed(error) {
	m.ScansTotal.WithLabelValues("error").Inc()
}
