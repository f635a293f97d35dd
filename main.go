package main

import (
	"flag"
	"os"
)

func main() {
	inputGlob := flag.String("input", "", "glob of per-conversation transcript files (overrides config)")
	outputDir := flag.String("outdir", "", "directory for report artifacts (overrides config)")
	limit := flag.Int("limit", 0, "cap on number of conversations processed (0 = all)")
	dryRun := flag.Bool("dry-run", false, "skip service calls; every conversation gets a placeholder verdict")
	runID := flag.String("run-id", "", "reuse a previous run's result log to resume it")
	flag.Parse()

	cfg := LoadConfig()
	if *inputGlob != "" {
		cfg.InputGlob = *inputGlob
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	cfg.SampleLimit = *limit
	cfg.DryRun = *dryRun
	cfg.RunID = *runID

	if cfg.Schedule != "" {
		if err := StartAnalysisScheduler(cfg, RunAnalysis); err != nil {
			logger.Error(err)
			os.Exit(1)
		}
		return
	}

	if err := RunAnalysis(cfg); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}
