// Copyright (C) 2024 Clyso GmbH
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes, per device, the same Prometheus families the
// teacher's diskhealthmetrics/prometheus.go exposes, fed from the check
// engine's cached smartval after each cycle rather than a second
// smartctl run (spec.md §4.9).
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry owns every smartd Prometheus collector. Each smartd process
// has exactly one, registered into its own prometheus.Registry (not the
// global default) so unit tests can construct disposable instances.
type Registry struct {
	reg *prometheus.Registry

	temperature      *prometheus.GaugeVec
	pendingSectors   *prometheus.GaugeVec
	reallocSectors   *prometheus.GaugeVec
	powerOnHours     *prometheus.GaugeVec
	ssdLifeUsed      *prometheus.GaugeVec
	errorCounts      *prometheus.GaugeVec
	smartAttributes  *prometheus.GaugeVec
	warningsTotal    *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.temperature = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "disk_temperature_celsius", Help: "Disk temperature in Celsius",
	}, []string{"device"})
	r.pendingSectors = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "disk_pending_sectors", Help: "Number of pending (unreadable) sectors",
	}, []string{"device"})
	r.reallocSectors = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "disk_reallocated_sectors", Help: "Number of reallocated sectors",
	}, []string{"device"})
	r.powerOnHours = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "disk_power_on_hours", Help: "Hours the disk has been powered on",
	}, []string{"device"})
	r.ssdLifeUsed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ssd_life_used_percentage", Help: "Percentage of SSD life used",
	}, []string{"device"})
	r.errorCounts = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "disk_error_counts", Help: "Error log / self-test log counters",
	}, []string{"device", "error_type"})
	r.smartAttributes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "smart_attributes", Help: "Raw SMART attribute values",
	}, []string{"device", "attribute_id"})
	r.warningsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smartd_warnings_total", Help: "Notifier warnings dispatched, by device/failure class/severity",
	}, []string{"device", "failure_class", "severity"})

	r.reg.MustRegister(r.temperature, r.pendingSectors, r.reallocSectors,
		r.powerOnHours, r.ssdLifeUsed, r.errorCounts, r.smartAttributes, r.warningsTotal)
	return r
}

// ObserveCycle records the per-device gauges after a check-engine cycle
// completes, reusing the cached attribute table rather than a second
// smartctl invocation.
func (r *Registry) ObserveCycle(dev string, temperature int, currentPending, reallocated int, errorLogCount, selfTestLogCount int) {
	r.temperature.WithLabelValues(dev).Set(float64(temperature))
	r.pendingSectors.WithLabelValues(dev).Set(float64(currentPending))
	r.reallocSectors.WithLabelValues(dev).Set(float64(reallocated))
	r.errorCounts.WithLabelValues(dev, "ata_error_log").Set(float64(errorLogCount))
	r.errorCounts.WithLabelValues(dev, "self_test_log").Set(float64(selfTestLogCount))
}

// ObserveAttribute records one raw SMART attribute value.
func (r *Registry) ObserveAttribute(dev string, attributeID int, rawValue uint64) {
	r.smartAttributes.WithLabelValues(dev, fmt.Sprintf("%d", attributeID)).Set(float64(rawValue))
}

// IncWarning increments the warnings counter the notifier's Prometheus
// side channel feeds (spec.md §4.4 additions).
func (r *Registry) IncWarning(dev string, failureClass int, severity string) {
	r.warningsTotal.WithLabelValues(dev, fmt.Sprintf("%d", failureClass), severity).Inc()
}

// Serve starts the /metrics HTTP endpoint in the background, the same
// pattern as the teacher's StartPrometheusServer.
func (r *Registry) Serve(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	go func() {
		log.Info().Int("port", port).Msg("starting prometheus metrics server")
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			log.Error().Err(err).Msg("prometheus metrics server stopped")
		}
	}()
}
