package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/county-risk/risk-engine/internal/model"
	"github.com/county-risk/risk-engine/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarise stored assessments",
}

var reportStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Risk tier counts and composite range over each county's latest year",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		all, err := report.LoadAll(ctx, st)
		if err != nil {
			return eris.Wrap(err, "report stats")
		}
		return writeJSON(cmd.OutOrStdout(), report.Summarise(all))
	},
}

var reportTrendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Composite score by year, for one county or averaged over all",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		all, err := report.LoadAll(ctx, st)
		if err != nil {
			return eris.Wrap(err, "report trend")
		}

		if county, _ := cmd.Flags().GetString("county"); county != "" {
			points := report.CountyTrend(all, county)
			if len(points) == 0 {
				return eris.Errorf("report trend: no assessments for county %s", county)
			}
			return writeJSON(cmd.OutOrStdout(), points)
		}
		return writeJSON(cmd.OutOrStdout(), report.AverageTrend(all))
	},
}

var reportTopCmd = &cobra.Command{
	Use:   "top",
	Short: "Highest-risk counties of the latest assessed year",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		all, err := report.LoadAll(ctx, st)
		if err != nil {
			return eris.Wrap(err, "report top")
		}

		n, _ := cmd.Flags().GetInt("n")
		formatAssessments(cmd.OutOrStdout(), report.Top(all, n))
		return nil
	},
}

// formatAssessments writes a tabular list of assessments to out.
func formatAssessments(out io.Writer, as []model.Assessment) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COUNTY\tYEAR\tECON\tSOCIAL\tENV\tGOV\tDEV\tCOMPOSITE\tLEVEL")
	for _, a := range as {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%s\n",
			a.CountyCode, a.Year,
			a.Scores.Economic, a.Scores.Social, a.Scores.Environment, a.Scores.Governance, a.Scores.Development,
			a.Composite, a.Level,
		)
	}
	_ = w.Flush()
}

func init() {
	reportTrendCmd.Flags().String("county", "", "county code (default: average over all counties)")
	reportTopCmd.Flags().Int("n", 10, "number of counties to show")

	reportCmd.AddCommand(reportStatsCmd)
	reportCmd.AddCommand(reportTrendCmd)
	reportCmd.AddCommand(reportTopCmd)
	rootCmd.AddCommand(reportCmd)
}
