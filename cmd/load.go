package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/county-risk/risk-engine/internal/ingest"
)

var loadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load county source rows from a CSV or XLSX file",
	Long: "Reads county source data (one county-year per row, one column per source field) " +
		"and writes it into the local SQLite database. Shared Postgres databases are fed by their owning system.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sheet, _ := cmd.Flags().GetString("sheet")
		delim, _ := cmd.Flags().GetString("delimiter")
		charset, _ := cmd.Flags().GetString("charset")
		opts := ingest.Options{Sheet: sheet, Charset: charset}
		if delim != "" {
			r := []rune(delim)
			if len(r) != 1 {
				return eris.Errorf("load: --delimiter must be a single character, got %q", delim)
			}
			opts.Delimiter = r[0]
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		loader, ok := st.(ingest.Loader)
		if !ok {
			return eris.Errorf("load: store driver %q does not accept source data", cfg.Store.Driver)
		}

		rep, err := ingest.LoadFile(ctx, loader, args[0], opts)
		if err != nil {
			return eris.Wrap(err, "load")
		}
		return writeJSON(cmd.OutOrStdout(), rep)
	},
}

func init() {
	loadCmd.Flags().String("sheet", "", "XLSX worksheet name (default first sheet)")
	loadCmd.Flags().String("delimiter", "", "CSV field delimiter (default ',')")
	loadCmd.Flags().String("charset", "", "CSV text encoding, e.g. gbk (default utf-8)")
	rootCmd.AddCommand(loadCmd)
}
