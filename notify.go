package main

import (
	"fmt"

	"github.com/slack-go/slack"
)

// PostRunSummary posts the run totals to the configured Slack channel.
// Notification is best-effort: a failure is logged, never fatal.
func PostRunSummary(cfg Config, s Summary, reportPath string) {
	if cfg.SlackBotToken == "" || cfg.SlackChannelID == "" {
		return
	}
	api := slack.New(cfg.SlackBotToken)

	t := s.Totals
	text := fmt.Sprintf(
		"*%s conversation analysis finished* (run `%s`)\n"+
			"Total: %d | Solved: %d (%s) | Escalated: %d | Fallback: %d | Unparseable: %d\n"+
			"Report: `%s`",
		cfg.TeamName, s.RunID,
		t.TotalConversations, t.SolvedCount, pctOf(t.SolvedCount, t.TotalConversations),
		t.EscalatedCount, t.FallbackCount, t.UnparseableCount,
		reportPath,
	)

	_, _, err := api.PostMessage(cfg.SlackChannelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		logger.Warnf("slack notification failed: %v", err)
		return
	}
	logger.Infof("posted run summary to slack channel %s", cfg.SlackChannelID)
}
