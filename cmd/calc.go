package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/county-risk/risk-engine/internal/resilience"
)

var calcCmd = &cobra.Command{
	Use:   "calc",
	Short: "Run risk assessments",
	Long:  "Scores counties for one year, every year, or only the years whose assessments are missing or incomplete.",
}

// -- calc year --

var calcYearCmd = &cobra.Command{
	Use:   "year <year>",
	Short: "Assess every county for one year",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, err := parseYear(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Runner.RunYear(ctx, year)
		if rep != nil {
			if werr := writeJSON(cmd.OutOrStdout(), rep); werr != nil {
				return werr
			}
		}
		return err
	},
}

// -- calc all --

var calcAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Assess every county for every year in the source data range",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Runner.RunAllYears(ctx)
		if rep != nil {
			if werr := writeJSON(cmd.OutOrStdout(), rep); werr != nil {
				return werr
			}
		}
		return err
	},
}

// -- calc gaps --

var calcGapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "List years with missing or partial assessments",
	Long:  "Lists the years whose assessments are missing or cover fewer counties than are known. With --run, assesses exactly those years.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if run, _ := cmd.Flags().GetBool("run"); run {
			rep, err := env.Runner.RunGaps(ctx)
			if rep != nil {
				if werr := writeJSON(cmd.OutOrStdout(), rep); werr != nil {
					return werr
				}
			}
			return err
		}

		minYear, maxYear, years := env.Runner.PendingYears(ctx)
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"min_year": minYear,
			"max_year": maxYear,
			"pending":  years,
		})
	},
}

// -- calc county --

var calcCountyCmd = &cobra.Command{
	Use:   "county <county-code> <year>",
	Short: "Assess a single county-year",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, err := parseYear(args[1])
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		a, err := env.Runner.RunCounty(ctx, args[0], year)
		if err != nil {
			return eris.Wrap(err, "calc county")
		}
		return writeJSON(cmd.OutOrStdout(), a)
	},
}

// -- calc retry-failed --

var calcRetryCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Re-assess county-years recorded in the failure ledger",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		year, _ := cmd.Flags().GetInt("year")
		errType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		switch errType {
		case "", resilience.ErrorTypeTransient, resilience.ErrorTypePermanent:
		default:
			return eris.Errorf("calc retry-failed: --type must be %q or %q", resilience.ErrorTypeTransient, resilience.ErrorTypePermanent)
		}

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Runner.RetryFailed(ctx, resilience.FailureFilter{
			Year:      year,
			ErrorType: errType,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "calc retry-failed")
		}
		return writeJSON(cmd.OutOrStdout(), rep)
	},
}

func parseYear(s string) (int, error) {
	year, err := strconv.Atoi(s)
	if err != nil || year < 1900 || year > 9999 {
		return 0, eris.Errorf("invalid year %q", s)
	}
	return year, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func init() {
	calcGapsCmd.Flags().Bool("run", false, "assess the pending years instead of listing them")

	calcRetryCmd.Flags().Int("year", 0, "only retry failures from this year (0 for all)")
	calcRetryCmd.Flags().String("type", "", "only retry failures of this type (transient, permanent)")
	calcRetryCmd.Flags().Int("limit", 0, "max number of failures to retry (0 for all)")

	calcCmd.AddCommand(calcYearCmd)
	calcCmd.AddCommand(calcAllCmd)
	calcCmd.AddCommand(calcGapsCmd)
	calcCmd.AddCommand(calcCountyCmd)
	calcCmd.AddCommand(calcRetryCmd)
	rootCmd.AddCommand(calcCmd)
}
