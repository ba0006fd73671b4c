package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts for the graph database",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

// statTables is the display order for the stats command.
var statTables = []string{
	"symbols",
	"relationships",
	"embeddings",
	"clusters",
	"cluster_membership",
	"insights",
	"insight_recommendations",
	"ast_fragments",
	"clones",
	"clone_groups",
	"clone_group_members",
	"antipatterns",
	"enrichment_runs",
}

func runStats(cmd *cobra.Command, args []string) error {
	engine, err := openEngine()
	if err != nil {
		return outputError("stats", err)
	}
	defer engine.Close()

	counts := make(map[string]int, len(statTables))
	for _, table := range statTables {
		n, err := engine.Store().TableCount(table)
		if err != nil {
			return outputError("stats", err)
		}
		counts[table] = n
	}

	if flagFormat == "text" {
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TABLE\tROWS")
		for _, table := range statTables {
			fmt.Fprintf(tw, "%s\t%d\n", table, counts[table])
		}
		tw.Flush()
		return nil
	}
	return outputJSON("stats", counts)
}
