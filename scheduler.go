package main

import (
	"github.com/robfig/cron/v3"
)

// StartAnalysisScheduler runs the analysis on the configured cron spec and
// blocks forever. Each scheduled run gets a fresh run ID. Overlapping runs
// are skipped rather than queued.
func StartAnalysisScheduler(cfg Config, run func(Config) error) error {
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	_, err := c.AddFunc(cfg.Schedule, func() {
		runCfg := cfg
		runCfg.RunID = "" // force a fresh ID per scheduled run
		logger.Infof("scheduled analysis starting (spec %q)", cfg.Schedule)
		if err := run(runCfg); err != nil {
			logger.Errorf("scheduled analysis failed: %v", err)
		}
	})
	if err != nil {
		return &ConfigError{Reason: "invalid schedule spec " + cfg.Schedule + ": " + err.Error()}
	}

	logger.Infof("scheduler started, spec %q timezone %s", cfg.Schedule, cfg.Timezone)
	c.Run()
	return nil
}
