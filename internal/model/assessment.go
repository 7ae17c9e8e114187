package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// RiskLevel is one of five ordered risk tiers.
type RiskLevel string

// Tiers from highest to lowest risk.
const (
	RiskHigh       RiskLevel = "high"
	RiskMediumHigh RiskLevel = "medium_high"
	RiskMedium     RiskLevel = "medium"
	RiskMediumLow  RiskLevel = "medium_low"
	RiskLow        RiskLevel = "low"
)

var riskLabels = map[RiskLevel]string{
	RiskHigh:       "高风险",
	RiskMediumHigh: "中高风险",
	RiskMedium:     "中风险",
	RiskMediumLow:  "中低风险",
	RiskLow:        "低风险",
}

// AllRiskLevels returns the tiers ordered from highest to lowest risk.
func AllRiskLevels() []RiskLevel {
	return []RiskLevel{RiskHigh, RiskMediumHigh, RiskMedium, RiskMediumLow, RiskLow}
}

// Rank returns 5 for the highest tier down to 1 for the lowest, 0 if unknown.
func (l RiskLevel) Rank() int {
	for i, lvl := range AllRiskLevels() {
		if lvl == l {
			return 5 - i
		}
	}
	return 0
}

// Label returns the display label used by reporting screens.
func (l RiskLevel) Label() string {
	return riskLabels[l]
}

// ParseRiskLevel accepts either the enum value or its display label.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for lvl, label := range riskLabels {
		if s == string(lvl) || s == label {
			return lvl, nil
		}
	}
	return "", eris.Errorf("model: unknown risk level %q", s)
}

// DimensionScores holds the five sub-scores, each in [0,100].
type DimensionScores struct {
	Economic    float64 `json:"economic"`
	Social      float64 `json:"social"`
	Environment float64 `json:"environment"`
	Governance  float64 `json:"governance"`
	Development float64 `json:"development"`
}

// Set stores score under the given category.
func (d *DimensionScores) Set(c Category, score float64) {
	switch c {
	case CategoryEconomic:
		d.Economic = score
	case CategorySocial:
		d.Social = score
	case CategoryEnvironment:
		d.Environment = score
	case CategoryGovernance:
		d.Governance = score
	case CategoryDevelopment:
		d.Development = score
	}
}

// Values returns the scores in AllCategories order.
func (d DimensionScores) Values() [5]float64 {
	return [5]float64{d.Economic, d.Social, d.Environment, d.Governance, d.Development}
}

// Assessment is the persisted result for one county-year.
type Assessment struct {
	CountyCode string          `json:"county_code"`
	Year       int             `json:"year"`
	Scores     DimensionScores `json:"scores"`
	Composite  float64         `json:"composite"`
	Level      RiskLevel       `json:"risk_level"`
	AssessedAt time.Time       `json:"assessed_at"`
}
