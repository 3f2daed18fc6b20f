package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cobenefit-atlas/internal/catalog"
	"github.com/sells-group/cobenefit-atlas/internal/export"
	"github.com/sells-group/cobenefit-atlas/internal/query"
)

var queryCmd = &cobra.Command{
	Use:   "query <kind>",
	Short: "Run a dashboard query against the snapshot",
	Long:  "Builds a query of the named kind from --params (a JSON object of query parameters) and prints its rows. --sql-only prints the compiled SQL without touching the engine.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if list, _ := cmd.Flags().GetBool("list"); list {
			for _, k := range query.Kinds() {
				_, _ = fmt.Fprintln(out, k)
			}
			return nil
		}
		if len(args) == 0 {
			return eris.New("query: a kind is required (see --list)")
		}

		params, _ := cmd.Flags().GetString("params")
		sqlOnly, _ := cmd.Flags().GetBool("sql-only")
		format, _ := cmd.Flags().GetString("format")

		spec, err := buildSpec(args[0], params)
		if err != nil {
			return err
		}

		if sqlOnly {
			compiler, err := query.NewCompiler(cfg.Engine.Table)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, compiler.Compile(spec))
			return err
		}

		env, err := initEnv("query")
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := env.Engine.Run(cmd.Context(), spec)
		if err != nil {
			return err
		}
		return writeRows(out, format, export.Columns(rows, spec.Columns()), rows)
	},
}

// buildSpec validates a kind and its JSON parameters against the catalog.
func buildSpec(kind, params string) (query.Spec, error) {
	var raw json.RawMessage
	if strings.TrimSpace(params) != "" {
		raw = json.RawMessage(params)
	}
	return query.Decode(catalog.Default(), query.Kind(kind), raw)
}

// writeRows prints rows as an aligned table, JSON or CSV.
func writeRows(out io.Writer, format string, cols []string, rows []query.Row) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if rows == nil {
			rows = []query.Row{}
		}
		return eris.Wrap(enc.Encode(rows), "query: encode rows")
	case "csv":
		return export.WriteCSV(out, cols, rows)
	case "table", "":
		formatRowsTable(out, cols, rows)
		return nil
	}
	return eris.Errorf("query: unknown format %q", format)
}

// formatRowsTable writes rows as an aligned table to w.
func formatRowsTable(out io.Writer, cols []string, rows []query.Row) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(cols, "\t"))

	dashes := make([]string, len(cols))
	for i, c := range cols {
		dashes[i] = strings.Repeat("-", len(c))
	}
	_, _ = fmt.Fprintln(w, strings.Join(dashes, "\t"))

	cells := make([]string, len(cols))
	for _, r := range rows {
		for i, c := range cols {
			cells[i] = r.String(c)
		}
		_, _ = fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "(%d rows)\n", len(rows))
}

func init() {
	queryCmd.Flags().String("params", "", "query parameters as a JSON object")
	queryCmd.Flags().Bool("sql-only", false, "print the compiled SQL and exit")
	queryCmd.Flags().String("format", "table", "output format: table, json or csv")
	queryCmd.Flags().Bool("list", false, "list the query kinds")
	rootCmd.AddCommand(queryCmd)
}
