package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jward/grove"
	"github.com/spf13/cobra"
)

var flagLanguages string

var clonesCmd = &cobra.Command{
	Use:   "clones [path]",
	Short: "Detect structural clones and anti-patterns in a source tree",
	Long:  "Parses source files with tree-sitter, extracts function and class fragments, detects Type 1-4 clones, groups them, and flags anti-patterns. Results are persisted to the graph database.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClones,
}

func init() {
	clonesCmd.Flags().StringVar(&flagLanguages, "languages", "", "comma-separated language filter (e.g. go,cpp)")
	clonesCmd.Flags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
}

func runClones(cmd *cobra.Command, args []string) error {
	start := time.Now()

	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError("clones", err)
	}

	engine, err := openEngine()
	if err != nil {
		return outputError("clones", err)
	}
	defer engine.Close()

	report, err := engine.AnalyzeDirectory(context.Background(), targetDir)
	if err != nil {
		return outputError("clones", err)
	}

	if flagFormat == "text" {
		printReportText(report)
		fmt.Fprintf(os.Stderr, "Analyzed %s in %s\n", targetDir, time.Since(start).Round(time.Millisecond))
		return nil
	}
	return outputJSON("clones", report)
}

func printReportText(report *grove.CloneReport) {
	fmt.Printf("fragments:     %d\n", report.FragmentsAnalyzed)
	fmt.Printf("clone pairs:   %d\n", len(report.Clones))
	fmt.Printf("clone groups:  %d\n", len(report.Groups))
	for _, g := range report.Groups {
		fmt.Printf("  [type %d] %d members, %d lines: %s\n",
			g.CloneType, g.MemberCount, g.TotalLines, g.PatternDescription)
	}
	fmt.Printf("anti-patterns: %d\n", len(report.AntiPatterns))
	for _, p := range report.AntiPatterns {
		fmt.Printf("  [%s] %s: %s\n", p.Severity, p.PatternName, p.Description)
	}
	if len(report.Errors) > 0 {
		fmt.Printf("errors:        %d\n", len(report.Errors))
		for _, msg := range report.Errors {
			fmt.Printf("  - %s\n", msg)
		}
	}
}
