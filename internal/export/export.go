// Package export writes stored assessments to spreadsheet and CSV files.
package export

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/county-risk/risk-engine/internal/model"
)

// Header is the column order shared by every export format.
var Header = []string{
	"county_code", "year",
	"economic", "social", "environment", "governance", "development",
	"composite", "risk_level", "risk_label", "assessed_at",
}

// byYear groups assessments by year, years ascending and counties ascending
// within a year.
func byYear(assessments []model.Assessment) ([]int, map[int][]model.Assessment) {
	groups := make(map[int][]model.Assessment)
	for _, a := range assessments {
		groups[a.Year] = append(groups[a.Year], a)
	}
	years := make([]int, 0, len(groups))
	for y, g := range groups {
		years = append(years, y)
		sort.Slice(g, func(i, j int) bool { return g[i].CountyCode < g[j].CountyCode })
	}
	sort.Ints(years)
	return years, groups
}

// WriteXLSX writes one worksheet per year, each with a header row.
func WriteXLSX(w io.Writer, assessments []model.Assessment) error {
	f := xlsx.NewFile()
	years, groups := byYear(assessments)
	if len(years) == 0 {
		if _, err := f.AddSheet("empty"); err != nil {
			return eris.Wrap(err, "export: add sheet")
		}
	}

	for _, y := range years {
		sheet, err := f.AddSheet(strconv.Itoa(y))
		if err != nil {
			return eris.Wrapf(err, "export: add sheet %d", y)
		}
		hdr := sheet.AddRow()
		for _, h := range Header {
			hdr.AddCell().SetString(h)
		}
		for _, a := range groups[y] {
			row := sheet.AddRow()
			row.AddCell().SetString(a.CountyCode)
			row.AddCell().SetInt(a.Year)
			for _, v := range a.Scores.Values() {
				row.AddCell().SetFloat(v)
			}
			row.AddCell().SetFloat(a.Composite)
			row.AddCell().SetString(string(a.Level))
			row.AddCell().SetString(a.Level.Label())
			row.AddCell().SetString(a.AssessedAt.UTC().Format(time.RFC3339))
		}
	}

	return eris.Wrap(f.Write(w), "export: write xlsx")
}

// WriteCSV writes a header row followed by every assessment, grouped by year.
func WriteCSV(w io.Writer, assessments []model.Assessment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}

	years, groups := byYear(assessments)
	for _, y := range years {
		for _, a := range groups[y] {
			rec := make([]string, 0, len(Header))
			rec = append(rec, a.CountyCode, strconv.Itoa(a.Year))
			for _, v := range a.Scores.Values() {
				rec = append(rec, formatScore(v))
			}
			rec = append(rec,
				formatScore(a.Composite),
				string(a.Level),
				a.Level.Label(),
				a.AssessedAt.UTC().Format(time.RFC3339),
			)
			if err := cw.Write(rec); err != nil {
				return eris.Wrapf(err, "export: write csv row %s/%d", a.CountyCode, a.Year)
			}
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
