package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sells-group/cobenefit-atlas/internal/archetype"
	"github.com/sells-group/cobenefit-atlas/internal/export"
	"github.com/sells-group/cobenefit-atlas/internal/query"
)

var archetypesCmd = &cobra.Command{
	Use:   "archetypes",
	Short: "Flatten the archetype tables into per-co-benefit costs",
	Long:  "Reads the archetype measures and the per-scenario co-benefit tables, joins them by zone code and prints one cost per zone, scenario and co-benefit.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		scenario, _ := cmd.Flags().GetInt("scenario")
		format, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")

		env, err := initEnv("zones")
		if err != nil {
			return err
		}
		defer env.Close()

		costs, err := env.Archetypes.LoadCosts(cmd.Context())
		if err != nil {
			return err
		}
		rows := costRows(costs, scenario)
		cols := []string{"scenario", "co_benefit", "cost"}
		if outPath != "" {
			return export.WriteFile(outPath, "costs", cols, rows)
		}
		return writeRows(cmd.OutOrStdout(), format, cols, rows)
	},
}

// costRows converts costs to result rows, keeping one scenario when
// scenario > 0.
func costRows(costs []archetype.Cost, scenario int) []query.Row {
	tag := strconv.Itoa(scenario)
	rows := make([]query.Row, 0, len(costs))
	for _, c := range costs {
		if scenario > 0 && c.Scenario != tag {
			continue
		}
		rows = append(rows, query.Row{
			"scenario":   c.Scenario,
			"co_benefit": string(c.CoBenefit),
			"cost":       c.Cost,
		})
	}
	return rows
}

func init() {
	archetypesCmd.Flags().Int("scenario", 0, "keep a single scenario (1-5)")
	archetypesCmd.Flags().String("format", "table", "output format: table, json or csv")
	archetypesCmd.Flags().String("out", "", "write to a .csv or .xlsx file instead of stdout")
	rootCmd.AddCommand(archetypesCmd)
}
