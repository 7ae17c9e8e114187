package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/county-risk/risk-engine/internal/model"
	"github.com/county-risk/risk-engine/internal/monitoring"
	"github.com/county-risk/risk-engine/internal/store"
)

// statusReport is the combined view printed by the status command.
type statusReport struct {
	Coverage []model.YearCoverage       `json:"coverage"`
	Runs     []model.CalcRun            `json:"recent_runs"`
	Health   *monitoring.HealthSnapshot `json:"health"`
	Alerts   []monitoring.Alert         `json:"alerts,omitempty"`
}

func collectStatus(ctx context.Context, st store.Store, runLimit int) (*statusReport, error) {
	cov, err := st.YearCoverage(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "status: year coverage")
	}
	runs, err := st.ListRuns(ctx, runLimit)
	if err != nil {
		return nil, eris.Wrap(err, "status: list runs")
	}

	collector := monitoring.NewCollector(st, time.Duration(cfg.Monitoring.StaleRunMinutes)*time.Minute)
	snap, err := collector.Collect(ctx, cfg.Monitoring.LookbackWindowHours)
	if err != nil {
		return nil, eris.Wrap(err, "status: collect health")
	}

	return &statusReport{
		Coverage: cov,
		Runs:     runs,
		Health:   snap,
		Alerts:   monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap),
	}, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show assessment coverage, recent runs and calculation health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("runs")
		rep, err := collectStatus(ctx, st, limit)
		if err != nil {
			return err
		}

		if notify, _ := cmd.Flags().GetBool("notify"); notify && len(rep.Alerts) > 0 {
			sent := monitoring.NewAlerter(cfg.Monitoring).SendAlerts(ctx, rep.Alerts)
			fmt.Fprintf(cmd.ErrOrStderr(), "sent %d of %d alerts\n", len(sent), len(rep.Alerts))
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), rep)
		}
		formatStatus(cmd.OutOrStdout(), rep)
		return nil
	},
}

// formatStatus writes a human-readable status summary to out.
func formatStatus(out io.Writer, rep *statusReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "YEAR\tSOURCE_DATA\tASSESSED")
	for _, c := range rep.Coverage {
		_, _ = fmt.Fprintf(w, "%d\t%t\t%d\n", c.Year, c.HasSourceData, c.Assessed)
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "RUN\tYEAR\tSTATUS\tSUCCESS\tFAILED\tSTARTED")
	for _, r := range rep.Runs {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%s\n",
			r.ID, r.Year, r.Status, r.Success, r.Failed, r.StartedAt.Format(time.RFC3339))
	}
	_, _ = fmt.Fprintln(w)

	h := rep.Health
	_, _ = fmt.Fprintf(w, "runs (last %dh):\t%d total, %d failed (%.1f%%)\n",
		h.LookbackHours, h.RunsTotal, h.RunsFailed, h.RunFailRate*100)
	_, _ = fmt.Fprintf(w, "units:\t%d ok, %d failed (%.1f%%)\n",
		h.UnitsSuccess, h.UnitsFailed, h.UnitFailRate*100)
	_, _ = fmt.Fprintf(w, "failure ledger:\t%d (%d transient, %d permanent)\n",
		h.LedgerDepth, h.LedgerTransient, h.LedgerPermanent)
	for _, a := range rep.Alerts {
		_, _ = fmt.Fprintf(w, "ALERT [%s]:\t%s\n", a.Severity, a.Message)
	}
	_ = w.Flush()
}

func init() {
	statusCmd.Flags().Int("runs", 10, "number of recent runs to show")
	statusCmd.Flags().Bool("json", false, "print JSON instead of tables")
	statusCmd.Flags().Bool("notify", false, "send raised alerts to the monitoring webhook")
	rootCmd.AddCommand(statusCmd)
}
