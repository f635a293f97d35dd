package main

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RunAnalysis executes one full batch: discover inputs, normalize, classify
// under the shared rate budget, aggregate, and write the report artifacts.
// Only configuration errors abort the run; every per-conversation failure is
// absorbed into the outcome set.
func RunAnalysis(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	files, err := discoverInputFiles(cfg.InputGlob, cfg.SampleLimit)
	if err != nil {
		return err
	}

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	startedAt := time.Now()
	logger.WithFields(logrus.Fields{
		"run":     runID,
		"files":   len(files),
		"workers": cfg.MaxWorkers,
		"rpm":     cfg.RequestsPerMinute,
		"dry_run": cfg.DryRun,
	}).Info("starting analysis run")

	store, err := OpenStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.BeginRun(runID, cfg.InputGlob, cfg.DryRun, startedAt); err != nil {
		return err
	}

	// Normalize every input file. Schema failures become unparseable
	// outcomes; the run continues without them.
	var records []ConversationRecord
	var outcomes []ConversationOutcome
	for _, path := range files {
		rec, err := LoadConversationFile(path)
		if err != nil {
			var se *SchemaError
			if !errors.As(err, &se) {
				return err
			}
			logger.WithFields(logrus.Fields{"conversation": se.File, "reason": se.Reason}).
				Warn("unparseable input file")
			o := unparseableOutcome(filepath.Base(path), se.Reason)
			if saveErr := store.SaveOutcome(runID, o); saveErr != nil {
				logger.Errorf("persisting unparseable outcome %s: %v", o.ConversationID, saveErr)
			}
			outcomes = append(outcomes, o)
			continue
		}
		records = append(records, rec)
	}

	// Resume: outcomes already in the log (from a crashed run with the same
	// run ID) are reused without another service call.
	already, err := store.LoadOutcomes(runID)
	if err != nil {
		return err
	}
	if n := len(already); n > 0 {
		logger.Infof("resuming run %s: %d outcomes already settled", runID, n)
	}

	classifier := NewClassifier(cfg)
	classified := classifier.ClassifyAll(context.Background(), records, already, func(o ConversationOutcome) error {
		return store.SaveOutcome(runID, o)
	})
	outcomes = append(outcomes, classified...)

	summary := Aggregate(runID, outcomes, cfg.ExampleIDsPerBucket)
	if err := store.FinishRun(runID, summary.Totals, time.Now()); err != nil {
		return err
	}

	// Write artifacts in conversation-ID order so repeated runs over the
	// same verdicts produce byte-identical files.
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].ConversationID < outcomes[j].ConversationID
	})
	jsonlPath := filepath.Join(cfg.OutputDir, "per_chat.jsonl")
	if err := WriteResultsJSONL(jsonlPath, outcomes); err != nil {
		return err
	}

	content := BuildSummaryMarkdown(summary, startedAt, cfg.TeamName)
	reportPath, err := WriteReportFile(content, cfg.OutputDir, startedAt, cfg.TeamName)
	if err != nil {
		return err
	}

	t := summary.Totals
	logger.WithFields(logrus.Fields{
		"run":         runID,
		"total":       t.TotalConversations,
		"classified":  t.ClassifiedCount,
		"fallback":    t.FallbackCount,
		"unparseable": t.UnparseableCount,
		"solved":      t.SolvedCount,
		"escalated":   t.EscalatedCount,
		"report":      reportPath,
		"elapsed":     time.Since(startedAt).Round(time.Second).String(),
	}).Info("analysis run complete")

	PostRunSummary(cfg, summary, reportPath)
	return nil
}

func unparseableOutcome(id, reason string) ConversationOutcome {
	return ConversationOutcome{
		ConversationID: id,
		Status:         StatusUnparseable,
		Result: ClassificationResult{
			FailureCategory: FailureOther,
			FailureReason:   reason,
			Emotion:         EmotionNeutral,
			Complexity:      ComplexitySimple,
		},
	}
}
