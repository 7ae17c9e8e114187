package ingest

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/county-risk/risk-engine/internal/model"
)

// Loader writes counties and source rows.
type Loader interface {
	PutCounty(ctx context.Context, code, name, province string) error
	PutSnapshot(ctx context.Context, snap *model.Snapshot) error
}

// Report summarises one load.
type Report struct {
	Rows     int      `json:"rows"`
	Counties int      `json:"counties"`
	Years    []int    `json:"years"`
	Ignored  []string `json:"ignored_columns,omitempty"`
}

// Options configures LoadFile.
type Options struct {
	Sheet     string // XLSX worksheet name; first sheet when empty
	Delimiter rune   // CSV delimiter; ',' when zero
	Charset   string // CSV encoding; UTF-8 when empty
}

// LoadFile reads path (.csv or .xlsx) and loads every record.
func LoadFile(ctx context.Context, l Loader, path string, opts Options) (*Report, error) {
	var rows [][]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: open file")
		}
		defer f.Close() //nolint:errcheck
		rows, err = ReadCSV(ctx, f, CSVOptions{Delimiter: opts.Delimiter, Comment: '#', TrimSpace: true, Charset: opts.Charset})
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read %s", path)
		}
	case ".xlsx":
		var err error
		rows, err = ReadXLSX(path, XLSXOptions{SheetName: opts.Sheet})
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read %s", path)
		}
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", filepath.Ext(path))
	}

	records, ignored, err := ParseRows(rows)
	if err != nil {
		return nil, err
	}
	rep, err := Load(ctx, l, records)
	if rep != nil {
		rep.Ignored = ignored
	}
	return rep, err
}

// Load writes each distinct county once, then every snapshot. A county
// without a name column is registered under its code.
func Load(ctx context.Context, l Loader, records []Record) (*Report, error) {
	log := zap.L().With(zap.String("component", "ingest"))
	rep := &Report{}

	counties := make(map[string]bool)
	years := make(map[int]bool)
	for _, r := range records {
		code := r.Snapshot.CountyCode
		if !counties[code] {
			name := r.CountyName
			if name == "" {
				name = code
			}
			if err := l.PutCounty(ctx, code, name, r.Province); err != nil {
				return rep, eris.Wrapf(err, "ingest: put county %s", code)
			}
			counties[code] = true
			rep.Counties++
		}
	}

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return rep, eris.Wrap(err, "ingest: load interrupted")
		}
		if err := l.PutSnapshot(ctx, r.Snapshot); err != nil {
			return rep, eris.Wrapf(err, "ingest: put snapshot %s/%d", r.Snapshot.CountyCode, r.Snapshot.Year)
		}
		rep.Rows++
		years[r.Snapshot.Year] = true
	}

	for y := range years {
		rep.Years = append(rep.Years, y)
	}
	slices.Sort(rep.Years)

	log.Info("source rows loaded",
		zap.Int("rows", rep.Rows),
		zap.Int("counties", rep.Counties),
		zap.Ints("years", rep.Years),
	)
	return rep, nil
}
