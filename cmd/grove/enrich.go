package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jward/grove"
	"github.com/jward/grove/scripts"
	"github.com/spf13/cobra"
)

var (
	flagScriptsDir string
	flagThreshold  float64
	flagVerbose    bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <result.json>",
	Short: "Persist an enrichment result into the graph database",
	Long:  "Reads an enrichment result document (symbol contexts, embeddings, clusters, insights, relationships), runs relationship inference, and persists everything in one transaction.",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnrich,
}

func init() {
	enrichCmd.Flags().StringVar(&flagScriptsDir, "scripts-dir", "", "directory of Risor rule scripts to run during inference")
	enrichCmd.Flags().Float64Var(&flagThreshold, "similarity-threshold", grove.DefaultSimilarityThreshold, "cosine similarity threshold for inferred relationships")
	enrichCmd.Flags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
}

func runEnrich(cmd *cobra.Command, args []string) error {
	start := time.Now()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return outputError("enrich", fmt.Errorf("reading input: %w", err))
	}
	var input grove.EnrichmentInput
	if err := json.Unmarshal(data, &input); err != nil {
		return outputError("enrich", fmt.Errorf("parsing input: %w", err))
	}

	engine, err := openEngine()
	if err != nil {
		return outputError("enrich", err)
	}
	defer engine.Close()

	stats, err := engine.Enrich(context.Background(), &input)
	if err != nil {
		return outputError("enrich", err)
	}

	if flagFormat == "text" {
		printStatsText(stats)
		fmt.Fprintf(os.Stderr, "Enriched in %s\n", time.Since(start).Round(time.Millisecond))
		return nil
	}
	return outputJSON("enrich", stats)
}

// openEngine builds a grove engine from the persistent flags.
func openEngine() (*grove.Engine, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	repoRoot := findRepoRoot(cwd)
	dbPath := resolveDBPath(repoRoot)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
	}

	opts := []grove.Option{
		grove.WithSimilarityThreshold(flagThreshold),
	}
	// Script source: --scripts-dir overrides embedded defaults.
	if flagScriptsDir != "" {
		opts = append(opts, grove.WithRuleScriptsDir(flagScriptsDir))
	} else {
		opts = append(opts, grove.WithRuleScriptsFS(scripts.FS))
	}
	if flagLanguages != "" {
		langs := strings.Split(flagLanguages, ",")
		for i := range langs {
			langs[i] = strings.TrimSpace(langs[i])
		}
		opts = append(opts, grove.WithLanguages(langs...))
	}
	if flagVerbose {
		log, err := newVerboseLogger()
		if err != nil {
			return nil, err
		}
		opts = append(opts, grove.WithLogger(log))
	}
	return grove.New(dbPath, opts...)
}

func printStatsText(stats *grove.Stats) {
	fmt.Printf("run:             %s\n", stats.RunID)
	fmt.Printf("symbols:         %d\n", stats.SymbolsUpdated)
	fmt.Printf("embeddings:      %d\n", stats.EmbeddingsStored)
	fmt.Printf("clusters:        %d (%d memberships)\n", stats.ClustersStored, stats.ClusterMembershipsStored)
	fmt.Printf("insights:        %d (%d recommendations)\n", stats.InsightsStored, stats.RecommendationsStored)
	fmt.Printf("relationships:   %d\n", stats.RelationshipsStored)
	if len(stats.Errors) > 0 {
		fmt.Printf("errors:          %d\n", len(stats.Errors))
		for _, msg := range stats.Errors {
			fmt.Printf("  - %s\n", msg)
		}
	}
}
