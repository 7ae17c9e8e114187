package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Init()
		Init()
	})
}

func TestHandler_ServesCollectors(t *testing.T) {
	Init()
	UnitsTotal.WithLabelValues(OutcomeFailed).Inc()
	YearsTotal.WithLabelValues(OutcomeSuccess).Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `county_risk_units_total{outcome="failed"}`)
	assert.Contains(t, rec.Body.String(), "county_risk_years_total")
}
