package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/county-risk/risk-engine/internal/config"
	"github.com/county-risk/risk-engine/internal/scorer"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:          "county-risk",
	Short:        "County risk assessment engine",
	Long:         "Scores every county per year across five risk dimensions from configurable indicators, classifies each county-year into a risk tier, and keeps the results in a local or shared database.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyOverrides(c, cmd.Flags())

		if err := c.Validate(); err != nil {
			return err
		}
		if err := scorer.ValidateConfig(c.Risk); err != nil {
			return err
		}
		if err := config.InitLogger(c.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		cfg = c
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

// applyOverrides copies explicitly set global flags over the loaded config.
func applyOverrides(c *config.Config, fs *pflag.FlagSet) {
	if fs.Changed("driver") {
		c.Store.Driver, _ = fs.GetString("driver")
	}
	if fs.Changed("db") {
		c.Store.DatabaseURL, _ = fs.GetString("db")
	}
	if fs.Changed("log-level") {
		c.Log.Level, _ = fs.GetString("log-level")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.String("driver", "", "store driver, sqlite or postgres (overrides store.driver)")
	fs.String("db", "", "database path or URL (overrides store.database_url)")
	fs.String("log-level", "", "log level (overrides log.level)")
}

func init() {
	addGlobalFlags(rootCmd.PersistentFlags())
}
