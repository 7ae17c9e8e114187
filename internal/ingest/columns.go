package ingest

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/county-risk/risk-engine/internal/model"
)

// Identity columns. county_code and year are required.
const (
	ColCountyCode = "county_code"
	ColYear       = "year"
	ColCountyName = "county_name"
	ColProvince   = "province_name"
)

type setter func(s *model.Snapshot, v float64)

// valueColumns maps a source field column to the snapshot field it fills.
// Column names match the source table columns.
var valueColumns = map[string]setter{
	"gdp":                     func(s *model.Snapshot, v float64) { economic(s).GDP = &v },
	"gdp_per_capita":          func(s *model.Snapshot, v float64) { economic(s).GDPPerCapita = &v },
	"gdp_growth_rate":         func(s *model.Snapshot, v float64) { economic(s).GDPGrowthRate = &v },
	"total_population":        func(s *model.Snapshot, v float64) { population(s).TotalPopulation = &v },
	"urbanization_rate":       func(s *model.Snapshot, v float64) { population(s).UrbanizationRate = &v },
	"air_quality_index":       func(s *model.Snapshot, v float64) { environment(s).AirQualityIndex = &v },
	"green_coverage_rate":     func(s *model.Snapshot, v float64) { environment(s).GreenCoverageRate = &v },
	"emission_intensity":      func(s *model.Snapshot, v float64) { environment(s).EmissionIntensity = &v },
	"fiscal_revenue":          func(s *model.Snapshot, v float64) { fiscal(s).FiscalRevenue = &v },
	"fiscal_expenditure":      func(s *model.Snapshot, v float64) { fiscal(s).FiscalExpenditure = &v },
	"fiscal_self_sufficiency": func(s *model.Snapshot, v float64) { fiscal(s).FiscalSelfSufficiency = &v },
	"debt_to_revenue_ratio":   func(s *model.Snapshot, v float64) { fiscal(s).DebtToRevenueRatio = &v },
	"investment_efficiency":   func(s *model.Snapshot, v float64) { investment(s).InvestmentEfficiency = &v },
	"consumption_rate":        func(s *model.Snapshot, v float64) { investment(s).ConsumptionRate = &v },
	"education_investment":    func(s *model.Snapshot, v float64) { educationHealth(s).EducationInvestment = &v },
	"health_investment":       func(s *model.Snapshot, v float64) { educationHealth(s).HealthInvestment = &v },
}

func economic(s *model.Snapshot) *model.EconomicRow {
	if s.Economic == nil {
		s.Economic = &model.EconomicRow{}
	}
	return s.Economic
}

func population(s *model.Snapshot) *model.PopulationRow {
	if s.Population == nil {
		s.Population = &model.PopulationRow{}
	}
	return s.Population
}

func environment(s *model.Snapshot) *model.EnvironmentRow {
	if s.Environment == nil {
		s.Environment = &model.EnvironmentRow{}
	}
	return s.Environment
}

func fiscal(s *model.Snapshot) *model.FiscalRow {
	if s.Fiscal == nil {
		s.Fiscal = &model.FiscalRow{}
	}
	return s.Fiscal
}

func investment(s *model.Snapshot) *model.InvestmentRow {
	if s.Investment == nil {
		s.Investment = &model.InvestmentRow{}
	}
	return s.Investment
}

func educationHealth(s *model.Snapshot) *model.EducationHealthRow {
	if s.EducationHealth == nil {
		s.EducationHealth = &model.EducationHealthRow{}
	}
	return s.EducationHealth
}

// Record is one parsed input row.
type Record struct {
	CountyName string
	Province   string
	Snapshot   *model.Snapshot
}

// header resolves column positions from the first row.
type header struct {
	code, year, name, province int
	values                     map[int]setter
	unknown                    []string
}

func parseHeader(row []string) (*header, error) {
	h := &header{code: -1, year: -1, name: -1, province: -1, values: make(map[int]setter)}
	for i, raw := range row {
		col := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))
		switch col {
		case ColCountyCode:
			h.code = i
		case ColYear:
			h.year = i
		case ColCountyName:
			h.name = i
		case ColProvince:
			h.province = i
		default:
			if set, ok := valueColumns[col]; ok {
				h.values[i] = set
			} else if col != "" {
				h.unknown = append(h.unknown, col)
			}
		}
	}
	if h.code < 0 || h.year < 0 {
		return nil, eris.Errorf("ingest: header must contain %q and %q", ColCountyCode, ColYear)
	}
	return h, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ParseRows converts a header row plus data rows into records. Blank value
// cells leave the field absent; a source row is present only when at least
// one of its fields is. Line numbers in errors are 1-based and count the header.
func ParseRows(rows [][]string) ([]Record, []string, error) {
	if len(rows) == 0 {
		return nil, nil, eris.New("ingest: input is empty")
	}
	h, err := parseHeader(rows[0])
	if err != nil {
		return nil, nil, err
	}

	out := make([]Record, 0, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2
		code := cell(row, h.code)
		if code == "" {
			if isBlank(row) {
				continue
			}
			return nil, nil, eris.Errorf("ingest: line %d: county_code is empty", line)
		}
		year, err := strconv.Atoi(cell(row, h.year))
		if err != nil {
			return nil, nil, eris.Wrapf(err, "ingest: line %d: parse year", line)
		}

		snap := &model.Snapshot{CountyCode: code, Year: year}
		for i, set := range h.values {
			raw := cell(row, i)
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, nil, eris.Wrapf(err, "ingest: line %d: parse %s", line, rows[0][i])
			}
			set(snap, v)
		}
		out = append(out, Record{
			CountyName: cell(row, h.name),
			Province:   cell(row, h.province),
			Snapshot:   snap,
		})
	}
	return out, h.unknown, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
