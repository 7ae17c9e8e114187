package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/county-risk/risk-engine/internal/catalog"
	"github.com/county-risk/risk-engine/internal/model"
)

var indicatorsCmd = &cobra.Command{
	Use:   "indicators",
	Short: "Inspect and edit the indicator catalog",
}

// -- indicators list --

var indicatorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every indicator, enabled or not",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		inds, err := env.Catalog.List(ctx)
		if err != nil {
			return eris.Wrap(err, "indicators list")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(inds)
		}
		formatIndicators(cmd.OutOrStdout(), inds)
		return nil
	},
}

// -- indicators seed --

var indicatorsSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert built-in indicators missing from the catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		env, err := newEngine(st)
		if err != nil {
			_ = st.Close()
			return err
		}
		defer env.Close()

		seed, err := catalog.BuiltinSeed()
		if err != nil {
			return err
		}
		n, err := env.Catalog.Seed(ctx, seed)
		if err != nil {
			return eris.Wrap(err, "indicators seed")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d indicators\n", n)
		return nil
	},
}

// -- indicators restore-defaults --

var indicatorsRestoreCmd = &cobra.Command{
	Use:   "restore-defaults",
	Short: "Reset weights and thresholds of known indicators to built-in values",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Catalog.RestoreDefaults(ctx)
		if err != nil {
			return eris.Wrap(err, "indicators restore-defaults")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored %d indicators\n", len(res.Restored))
		if len(res.Unmatched) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "left unchanged (no built-in default): %v\n", res.Unmatched)
		}
		return nil
	},
}

// -- indicators set --

var indicatorsSetCmd = &cobra.Command{
	Use:   "set <code>",
	Short: "Edit one indicator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		patch, err := patchFromFlags(cmd.Flags())
		if err != nil {
			return err
		}

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ind, err := env.Catalog.Update(ctx, args[0], patch)
		if err != nil {
			return eris.Wrap(err, "indicators set")
		}
		formatIndicators(cmd.OutOrStdout(), []model.Indicator{*ind})
		return nil
	},
}

func addPatchFlags(fs *pflag.FlagSet) {
	fs.Float64("weight", 0, "indicator weight")
	fs.Float64("high", 0, "high-risk threshold")
	fs.Float64("medium", 0, "medium-risk threshold")
	fs.Float64("low", 0, "low-risk threshold")
	fs.String("unit", "", "display unit")
	fs.String("direction", "", "comparison direction (GT or LT)")
	fs.Bool("enable", false, "enable the indicator")
	fs.Bool("disable", false, "disable the indicator")
}

// patchFromFlags builds an IndicatorPatch from the flags the user set.
func patchFromFlags(fs *pflag.FlagSet) (catalog.IndicatorPatch, error) {
	var p catalog.IndicatorPatch

	floats := map[string]**float64{
		"weight": &p.Weight,
		"high":   &p.ThresholdHigh,
		"medium": &p.ThresholdMedium,
		"low":    &p.ThresholdLow,
	}
	for name, dst := range floats {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetFloat64(name)
		if err != nil {
			return p, err
		}
		*dst = &v
	}

	if fs.Changed("unit") {
		unit, _ := fs.GetString("unit")
		p.Unit = &unit
	}
	if fs.Changed("direction") {
		raw, _ := fs.GetString("direction")
		dir, err := model.ParseDirection(raw)
		if err != nil {
			return p, err
		}
		p.Direction = &dir
	}

	enable, disable := fs.Changed("enable"), fs.Changed("disable")
	switch {
	case enable && disable:
		return p, eris.New("indicators set: --enable and --disable are mutually exclusive")
	case enable:
		on := true
		p.Enabled = &on
	case disable:
		off := false
		p.Enabled = &off
	}
	return p, nil
}

// formatIndicators writes a tabular list of indicators to out.
func formatIndicators(out io.Writer, inds []model.Indicator) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tCATEGORY\tWEIGHT\tHIGH\tMEDIUM\tLOW\tOP\tUNIT\tENABLED")
	for _, ind := range inds {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f\t%g\t%g\t%g\t%s\t%s\t%t\n",
			ind.Code, ind.Category, ind.Weight,
			ind.ThresholdHigh, ind.ThresholdMedium, ind.ThresholdLow,
			ind.Direction.Operator(), ind.Unit, ind.Enabled,
		)
	}
	_ = w.Flush()
}

func init() {
	indicatorsListCmd.Flags().Bool("json", false, "print JSON instead of a table")

	addPatchFlags(indicatorsSetCmd.Flags())

	indicatorsCmd.AddCommand(indicatorsListCmd)
	indicatorsCmd.AddCommand(indicatorsSeedCmd)
	indicatorsCmd.AddCommand(indicatorsRestoreCmd)
	indicatorsCmd.AddCommand(indicatorsSetCmd)
	rootCmd.AddCommand(indicatorsCmd)
}
