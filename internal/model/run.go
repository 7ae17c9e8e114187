package model

import "time"

// RunStatus represents the state of a recorded calculation run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// CalcRun is one entry in the calculation run log. A run covers one year.
type CalcRun struct {
	ID          string     `json:"id"`
	Year        int        `json:"year"`
	Status      RunStatus  `json:"status"`
	Success     int        `json:"success"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// UnitFailure records a county-year that could not be assessed.
type UnitFailure struct {
	CountyCode   string    `json:"county_code"`
	Year         int       `json:"year"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"` // "transient" or "permanent"
	Attempts     int       `json:"attempts"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// YearCoverage summarises source data and assessments for one year.
type YearCoverage struct {
	Year          int  `json:"year"`
	HasSourceData bool `json:"has_source_data"`
	Assessed      int  `json:"assessed"`
}
