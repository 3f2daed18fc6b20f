package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cobenefit-atlas/internal/geo"
)

var zonesCmd = &cobra.Command{
	Use:   "zones <fine|coarse>",
	Short: "List the zones of a boundary layer",
	Long:  "Loads the configured boundary document of one granularity and lists its zones with their resolved codes, names and centroids.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := geo.ParseGranularity(args[0])
		if err != nil {
			return err
		}
		code, _ := cmd.Flags().GetString("code")

		env, err := initEnv("zones")
		if err != nil {
			return err
		}
		defer env.Close()

		layer, err := env.Datasets.LoadLayer(cmd.Context(), boundarySource(g), g)
		if err != nil {
			return err
		}

		zones := layer.Zones()
		if code != "" {
			z, ok := layer.Zone(code)
			if !ok {
				return eris.Errorf("zones: no %s zone %q", g, code)
			}
			zones = []geo.Zone{z}
		}
		formatZones(cmd.OutOrStdout(), zones)
		return nil
	},
}

// formatZones writes zones as an aligned table, sorted by code. Zones with
// no resolvable code are listed last by index.
func formatZones(out io.Writer, zones []geo.Zone) {
	zones = slices.Clone(zones)
	slices.SortStableFunc(zones, func(a, b geo.Zone) int {
		switch {
		case a.Code == "" && b.Code != "":
			return 1
		case a.Code != "" && b.Code == "":
			return -1
		case a.Code < b.Code:
			return -1
		case a.Code > b.Code:
			return 1
		}
		return a.Index - b.Index
	})

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "INDEX\tCODE\tNAME\tLON\tLAT")
	_, _ = fmt.Fprintln(w, "-----\t----\t----\t---\t---")
	for _, z := range zones {
		lon, lat := "", ""
		if len(z.Centroid) >= 2 {
			lon = strconv.FormatFloat(z.Centroid[0], 'f', 5, 64)
			lat = strconv.FormatFloat(z.Centroid[1], 'f', 5, 64)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", z.Index, z.Code, z.Name, lon, lat)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "(%d zones)\n", len(zones))
}

func init() {
	zonesCmd.Flags().String("code", "", "show a single zone")
	rootCmd.AddCommand(zonesCmd)
}
