package main

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/county-risk/risk-engine/internal/export"
	"github.com/county-risk/risk-engine/internal/model"
	"github.com/county-risk/risk-engine/internal/report"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write stored assessments to an XLSX or CSV file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		year, _ := cmd.Flags().GetInt("year")
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		write, err := exportWriter(format)
		if err != nil {
			return err
		}
		if format == "xlsx" && output == "" {
			return eris.New("export: --output is required for xlsx")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		as, err := loadForExport(ctx, st, year)
		if err != nil {
			return err
		}

		var out io.Writer = cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return eris.Wrap(err, "export: create output")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		if err := write(out, as); err != nil {
			return err
		}
		zap.L().Info("assessments exported",
			zap.Int("rows", len(as)),
			zap.String("format", format),
			zap.String("output", output),
		)
		return nil
	},
}

func exportWriter(format string) (func(io.Writer, []model.Assessment) error, error) {
	switch format {
	case "xlsx":
		return export.WriteXLSX, nil
	case "csv":
		return export.WriteCSV, nil
	}
	return nil, eris.Errorf("export: unsupported format %q (xlsx, csv)", format)
}

// loadForExport returns one year's assessments, or every year's when year is 0.
func loadForExport(ctx context.Context, src report.Source, year int) ([]model.Assessment, error) {
	if year == 0 {
		return report.LoadAll(ctx, src)
	}
	as, err := src.ListAssessments(ctx, year)
	return as, eris.Wrapf(err, "export: list assessments %d", year)
}

func init() {
	exportCmd.Flags().Int("year", 0, "export a single year (0 for all years)")
	exportCmd.Flags().String("format", "xlsx", "output format (xlsx, csv)")
	exportCmd.Flags().StringP("output", "o", "", "output file (csv defaults to stdout)")
	rootCmd.AddCommand(exportCmd)
}
