package resilience

import (
	"time"

	"github.com/county-risk/risk-engine/internal/model"
)

// Error types recorded in the failure ledger.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// ClassifyError categorizes an error as transient or permanent.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}

// NewUnitFailure builds the ledger entry for a county-year whose assessment failed.
func NewUnitFailure(countyCode string, year int, err error, attempts int, at time.Time) model.UnitFailure {
	f := model.UnitFailure{
		CountyCode:   countyCode,
		Year:         year,
		ErrorType:    ClassifyError(err),
		Attempts:     attempts,
		LastFailedAt: at.UTC(),
	}
	if err != nil {
		f.Error = err.Error()
	}
	return f
}

// FailureFilter selects ledger entries for a retry pass.
type FailureFilter struct {
	Year      int    `json:"year,omitempty"`       // 0 for all years
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	Limit     int    `json:"limit,omitempty"`
}

// Matches reports whether f passes the filter's year and type criteria.
func (ff FailureFilter) Matches(f model.UnitFailure) bool {
	if ff.Year != 0 && f.Year != ff.Year {
		return false
	}
	if ff.ErrorType != "" && f.ErrorType != ff.ErrorType {
		return false
	}
	return true
}
