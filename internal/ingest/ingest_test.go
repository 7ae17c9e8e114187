package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/county-risk/risk-engine/internal/model"
	"github.com/county-risk/risk-engine/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeLoader struct {
	counties  map[string]string
	snapshots []*model.Snapshot
	putErr    error
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{counties: make(map[string]string)}
}

func (f *fakeLoader) PutCounty(_ context.Context, code, name, _ string) error {
	f.counties[code] = name
	return nil
}

func (f *fakeLoader) PutSnapshot(_ context.Context, snap *model.Snapshot) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func TestReadCSV(t *testing.T) {
	input := "county_code, year ,gdp\n# comment\n110101, 2020 ,12.5\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{Comment: '#', TrimSpace: true})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"county_code", "year", "gdp"}, {"110101", "2020", "12.5"}}, rows)
}

func TestReadCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadCSV(ctx, strings.NewReader("a,b\n1,2\n"), CSVOptions{})
	assert.ErrorContains(t, err, "csv: context cancelled")
}

func TestReadCSV_Malformed(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("a,\"b\n"), CSVOptions{})
	assert.ErrorContains(t, err, "csv: read row")
}

func TestReadCSV_GBK(t *testing.T) {
	enc, err := htmlindex.Get("gbk")
	require.NoError(t, err)
	encoded, err := enc.NewEncoder().String("county_code,county_name\n110101,东城区\n")
	require.NoError(t, err)

	rows, err := ReadCSV(context.Background(), strings.NewReader(encoded), CSVOptions{Charset: "gbk"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "东城区", rows[1][1])
}

func TestReadCSV_UnknownCharset(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("a\n"), CSVOptions{Charset: "klingon"})
	assert.ErrorContains(t, err, `unsupported charset "klingon"`)
}

func TestParseRows(t *testing.T) {
	rows := [][]string{
		{"\ufeffCounty_Code", "year", "county_name", "gdp_growth_rate", "fiscal_expenditure", "education_investment", "notes"},
		{"110101", "2020", "东城区", "6.5", "", ""},
		{"110101", "2021", "东城区", "", "1000", "150", "revised"},
		{"", "", "", "", "", "", ""},
	}

	records, ignored, err := ParseRows(rows)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"notes"}, ignored)

	first := records[0].Snapshot
	assert.Equal(t, "110101", first.CountyCode)
	assert.Equal(t, 2020, first.Year)
	assert.Equal(t, "东城区", records[0].CountyName)
	require.NotNil(t, first.Economic)
	assert.Equal(t, 6.5, *first.Economic.GDPGrowthRate)
	assert.Nil(t, first.Economic.GDP)
	assert.Nil(t, first.Fiscal)
	assert.Nil(t, first.EducationHealth)

	second := records[1].Snapshot
	assert.Nil(t, second.Economic)
	require.NotNil(t, second.Fiscal)
	assert.Equal(t, 1000.0, *second.Fiscal.FiscalExpenditure)
	require.NotNil(t, second.EducationHealth)
	assert.Equal(t, 150.0, *second.EducationHealth.EducationInvestment)
	assert.Nil(t, second.EducationHealth.HealthInvestment)
}

func TestParseRows_Errors(t *testing.T) {
	tests := []struct {
		name string
		rows [][]string
		want string
	}{
		{"empty", nil, "input is empty"},
		{"missing year column", [][]string{{"county_code", "gdp"}}, "header must contain"},
		{"bad year", [][]string{{"county_code", "year"}, {"1", "twenty"}}, "line 2: parse year"},
		{"bad value", [][]string{{"county_code", "year", "gdp"}, {"1", "2020", "n/a"}}, "line 2: parse gdp"},
		{"missing code", [][]string{{"county_code", "year", "gdp"}, {"", "2020", "1"}}, "line 2: county_code is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseRows(tt.rows)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	records, _, err := ParseRows([][]string{
		{"county_code", "year", "air_quality_index"},
		{"B", "2021", "40"},
		{"A", "2020", "55"},
		{"B", "2020", "60"},
	})
	require.NoError(t, err)

	l := newFakeLoader()
	rep, err := Load(context.Background(), l, records)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Rows)
	assert.Equal(t, 2, rep.Counties)
	assert.Equal(t, []int{2020, 2021}, rep.Years)
	assert.Equal(t, map[string]string{"A": "A", "B": "B"}, l.counties)
	assert.Len(t, l.snapshots, 3)
}

func TestLoad_PutError(t *testing.T) {
	records, _, err := ParseRows([][]string{{"county_code", "year"}, {"A", "2020"}})
	require.NoError(t, err)

	l := newFakeLoader()
	l.putErr = errors.New("disk full")
	rep, err := Load(context.Background(), l, records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest: put snapshot A/2020")
	assert.Equal(t, 0, rep.Rows)
}

func writeXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("sources")
	require.NoError(t, err)
	for _, data := range rows {
		row := sheet.AddRow()
		for _, v := range data {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "sources.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestLoadFile_XLSX(t *testing.T) {
	path := writeXLSX(t, [][]string{
		{"county_code", "year", "county_name", "province_name", "debt_to_revenue_ratio"},
		{"130102", "2019", "长安区", "河北省", "95"},
	})

	l := newFakeLoader()
	rep, err := LoadFile(context.Background(), l, path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Rows)
	assert.Equal(t, "长安区", l.counties["130102"])
	require.NotNil(t, l.snapshots[0].Fiscal)
	assert.Equal(t, 95.0, *l.snapshots[0].Fiscal.DebtToRevenueRatio)
}

func TestLoadFile_XLSXSheetNotFound(t *testing.T) {
	path := writeXLSX(t, [][]string{{"county_code", "year"}})
	_, err := LoadFile(context.Background(), newFakeLoader(), path, Options{Sheet: "missing"})
	assert.ErrorContains(t, err, `sheet "missing" not found`)
}

func TestLoadFile_Unsupported(t *testing.T) {
	_, err := LoadFile(context.Background(), newFakeLoader(), "data.parquet", Options{})
	assert.ErrorContains(t, err, "unsupported file type")
}

func TestLoadFile_CSVIntoSQLite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"county_code,year,county_name,gdp_growth_rate,gdp_per_capita,air_quality_index\n"+
			"110101,2020,东城区,6.1,120000,45\n"+
			"110102,2020,西城区,5.2,,\n"+
			"110101,2021,东城区,4.8,125000,50\n",
	), 0o644))

	st, err := store.NewSQLite(filepath.Join(dir, "risk.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	rep, err := LoadFile(ctx, st, path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Rows)
	assert.Equal(t, []int{2020, 2021}, rep.Years)

	codes, err := st.ListCounties(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"110101", "110102"}, codes)

	econ, err := st.FindEconomic(ctx, "110102", 2020)
	require.NoError(t, err)
	require.NotNil(t, econ)
	assert.Equal(t, 5.2, *econ.GDPGrowthRate)
	assert.Nil(t, econ.GDPPerCapita)

	env, err := st.FindEnvironment(ctx, "110102", 2020)
	require.NoError(t, err)
	assert.Nil(t, env)

	years, err := st.YearsWithSourceData(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2020, 2021}, years)
}
