package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cobenefit-atlas/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "cobenefit-atlas",
	Short: "UK co-benefits query and choropleth service",
	Long:  "Loads the co-benefit fact-table snapshot into an embedded analytical engine and the zone boundaries into memory, then answers dashboard queries and builds choropleth map documents.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		c, err := config.LoadFile(path)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyOverrides(cmd, c)
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.L().Debug("config loaded",
			zap.String("command", cmd.Name()),
			zap.String("base_url", cfg.Dataset.BaseURL),
			zap.String("table", cfg.Engine.Table),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

// applyOverrides copies explicitly set persistent flags over c. Flags left
// at their defaults never mask file or environment values.
func applyOverrides(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		c.Dataset.BaseURL, _ = flags.GetString("base-url")
	}
	if flags.Changed("table") {
		c.Engine.Table, _ = flags.GetString("table")
	}
	if flags.Changed("log-level") {
		c.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		c.Log.Format, _ = flags.GetString("log-format")
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default ./config.yaml)")
	pf.String("base-url", "", "URL or directory holding the snapshot, boundaries and archetype tables")
	pf.String("table", "", "fact table name inside the engine")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("log-format", "", "log format: json or console")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
