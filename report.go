package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WriteReportFile writes the markdown summary under outputDir, named by team
// and run date.
func WriteReportFile(content, outputDir string, reportDate time.Time, teamName string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s_%s.md", sanitizeFilename(teamName), reportDate.Format("20060102"))
	path := filepath.Join(outputDir, filename)
	return path, os.WriteFile(path, []byte(content), 0644)
}

// WriteResultsJSONL writes the raw per-conversation verdicts, one JSON object
// per line, in conversation-ID order.
func WriteResultsJSONL(path string, outcomes []ConversationOutcome) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	var b strings.Builder
	for _, o := range outcomes {
		line, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("marshal outcome %s: %w", o.ConversationID, err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", " ", "_")
	return replacer.Replace(s)
}

// Human-readable section titles per dimension, in report order.
var dimensionTitles = map[string]string{
	DimFailureCategory:       "Failure Categories",
	DimTopic:                 "Topics",
	DimFeatureCategory:       "Feature Categories",
	DimMissingFeature:        "Missing Features",
	DimImprovement:           "Improvement Suggestions",
	DimEscalationTrigger:     "Escalation Triggers",
	DimErrorPattern:          "Error Patterns",
	DimUserTask:              "User Tasks",
	DimConversationFlow:      "Conversation Flow Stages",
	DimEmotion:               "User Emotions",
	DimComplexity:            "Conversation Complexity",
	DimPriorityByFeature:     "Missing Features by Priority",
	DimEffortByImprovement:   "Improvements by Effort",
	DimSuccessPattern:        "Success Patterns",
	DimDemonstratedSkill:     "Demonstrated Skills",
	DimSatisfactionIndicator: "Satisfaction Indicators",
}

const topBucketsPerDimension = 10

// BuildSummaryMarkdown renders the aggregate tables into the analyst-facing
// markdown report.
func BuildSummaryMarkdown(s Summary, reportDate time.Time, teamName string) string {
	t := s.Totals
	var b strings.Builder

	fmt.Fprintf(&b, "# %s Conversation Analysis — %s\n\n", teamName, reportDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "Run `%s`\n\n", s.RunID)

	b.WriteString("## Overall Statistics\n\n")
	fmt.Fprintf(&b, "- **Total conversations**: %d\n", t.TotalConversations)
	fmt.Fprintf(&b, "- **Classified**: %d\n", t.ClassifiedCount)
	fmt.Fprintf(&b, "- **Fallback**: %d\n", t.FallbackCount)
	fmt.Fprintf(&b, "- **Unparseable**: %d\n", t.UnparseableCount)
	fmt.Fprintf(&b, "- **Solved**: %d (%s)\n", t.SolvedCount, pctOf(t.SolvedCount, t.TotalConversations))
	fmt.Fprintf(&b, "- **Escalated to human**: %d (%s)\n", t.EscalatedCount, pctOf(t.EscalatedCount, t.TotalConversations))

	for _, dim := range s.DimensionOrder {
		buckets := s.Dimensions[dim]
		if len(buckets) == 0 {
			continue
		}
		title := dimensionTitles[dim]
		if title == "" {
			title = dim
		}
		fmt.Fprintf(&b, "\n## %s\n\n", title)
		if successSideDimensions[dim] {
			fmt.Fprintf(&b, "_Percentages of %d solved conversations._\n\n", t.SolvedCount)
		}
		for i, bucket := range buckets {
			if i >= topBucketsPerDimension {
				fmt.Fprintf(&b, "- … and %d more\n", len(buckets)-topBucketsPerDimension)
				break
			}
			fmt.Fprintf(&b, "- **%s**: %d (%.1f%%)\n", bucket.Key, bucket.Count, bucket.Percentage)
		}
	}

	if len(s.Roadmap) > 0 {
		b.WriteString("\n## Improvement Roadmap\n\n")
		b.WriteString("| Score | Improvement | Impact | Effort |\n")
		b.WriteString("|---|---|---|---|\n")
		for i, item := range s.Roadmap {
			if i >= topBucketsPerDimension {
				break
			}
			fmt.Fprintf(&b, "| %.1f | %s | %d | %s |\n", item.Score, item.Description, item.Impact, strings.ToUpper(string(item.Effort)))
		}
	}

	return b.String()
}

func pctOf(n, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(n)/float64(total)*100)
}
