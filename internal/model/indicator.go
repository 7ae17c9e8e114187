// Package model defines the domain types shared by the risk engine.
package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Category is one of the five risk dimensions.
type Category string

const (
	CategoryEconomic    Category = "economic"
	CategorySocial      Category = "social"
	CategoryEnvironment Category = "environment"
	CategoryGovernance  Category = "governance"
	CategoryDevelopment Category = "development"
)

// AllCategories returns the five dimensions in their fixed reporting order.
func AllCategories() []Category {
	return []Category{
		CategoryEconomic,
		CategorySocial,
		CategoryEnvironment,
		CategoryGovernance,
		CategoryDevelopment,
	}
}

var categoryLabels = map[Category]string{
	CategoryEconomic:    "经济风险",
	CategorySocial:      "社会风险",
	CategoryEnvironment: "环境风险",
	CategoryGovernance:  "治理风险",
	CategoryDevelopment: "发展风险",
}

// Label returns the display name used by the reporting screens.
func (c Category) Label() string { return categoryLabels[c] }

// ParseCategory converts a stored category tag into a Category. Both the
// English tags and the display labels are accepted.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	c := Category(strings.ToLower(s))
	for _, known := range AllCategories() {
		if c == known || s == known.Label() {
			return known, nil
		}
	}
	return "", eris.Errorf("model: unknown category %q", s)
}

// Direction tells the item ladder which side of a threshold is riskier.
type Direction string

const (
	GreaterIsRiskier Direction = "GREATER_IS_RISKIER"
	LessIsRiskier    Direction = "LESS_IS_RISKIER"
)

// ParseDirection accepts the long names as well as the short GT/LT operators
// used by the indicator admin screens.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GT", string(GreaterIsRiskier):
		return GreaterIsRiskier, nil
	case "LT", string(LessIsRiskier):
		return LessIsRiskier, nil
	}
	return "", eris.Errorf("model: unknown comparison direction %q", s)
}

// Operator returns the short form stored in the indicator table.
func (d Direction) Operator() string {
	if d == GreaterIsRiskier {
		return "GT"
	}
	return "LT"
}

// Indicator is one configured risk indicator.
type Indicator struct {
	Code            string    `json:"code" yaml:"code"`
	Name            string    `json:"name" yaml:"name"`
	Category        Category  `json:"category" yaml:"category"`
	Unit            string    `json:"unit,omitempty" yaml:"unit"`
	Weight          float64   `json:"weight" yaml:"weight"`
	ThresholdHigh   float64   `json:"threshold_high" yaml:"threshold_high"`
	ThresholdMedium float64   `json:"threshold_medium" yaml:"threshold_medium"`
	ThresholdLow    float64   `json:"threshold_low" yaml:"threshold_low"`
	Direction       Direction `json:"direction" yaml:"direction"`
	Enabled         bool      `json:"enabled" yaml:"enabled"`
}

// ThresholdsOrdered reports whether the three thresholds are ordered the way
// the ladder expects for the indicator's direction: descending for
// GREATER_IS_RISKIER, ascending for LESS_IS_RISKIER.
func (i Indicator) ThresholdsOrdered() bool {
	if i.Direction == LessIsRiskier {
		return i.ThresholdHigh <= i.ThresholdMedium && i.ThresholdMedium <= i.ThresholdLow
	}
	return i.ThresholdHigh >= i.ThresholdMedium && i.ThresholdMedium >= i.ThresholdLow
}
