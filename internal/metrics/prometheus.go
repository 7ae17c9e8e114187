// Package metrics exposes Prometheus collectors for the batch runner.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Unit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

var (
	UnitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "county_risk_units_total",
			Help: "County-year assessments attempted, by outcome",
		},
		[]string{"outcome"},
	)

	UnitRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "county_risk_unit_write_retries_total",
			Help: "Assessment writes retried after a transient error",
		},
	)

	YearDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "county_risk_year_duration_seconds",
			Help:    "Wall time of one year batch",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	YearsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "county_risk_years_total",
			Help: "Year batches run, by outcome",
		},
		[]string{"outcome"},
	)

	LastComposite = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "county_risk_year_mean_composite",
			Help: "Mean composite score of the most recent batch for a year",
		},
		[]string{"year"},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(UnitsTotal)
		prometheus.MustRegister(UnitRetries)
		prometheus.MustRegister(YearDuration)
		prometheus.MustRegister(YearsTotal)
		prometheus.MustRegister(LastComposite)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
