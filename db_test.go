package main

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSaveOutcomeIsWriteOnce(t *testing.T) {
	s := openTestStore(t)
	if err := s.BeginRun("run-1", "data/*.csv", false, time.Now()); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	first := ConversationOutcome{
		ConversationID: "conv-1.csv",
		Status:         StatusClassified,
		Result:         ClassificationResult{Topic: "billing", Solved: true, FailureCategory: FailureHandledPerfectly},
	}
	if err := s.SaveOutcome("run-1", first); err != nil {
		t.Fatalf("SaveOutcome: %v", err)
	}

	// A second write for the same conversation must not replace the record.
	second := first
	second.Status = StatusFallback
	second.Result.Topic = "overwritten"
	if err := s.SaveOutcome("run-1", second); err != nil {
		t.Fatalf("second SaveOutcome: %v", err)
	}

	got, err := s.LoadOutcomes("run-1")
	if err != nil {
		t.Fatalf("LoadOutcomes: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(got))
	}
	o := got["conv-1.csv"]
	if o.Status != StatusClassified || o.Result.Topic != "billing" {
		t.Fatalf("stored outcome was overwritten: %+v", o)
	}
}

func TestStoreLoadOutcomesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.BeginRun("run-1", "data/*.csv", false, time.Now()); err != nil {
		t.Fatal(err)
	}

	want := ConversationOutcome{
		ConversationID: "conv-2.csv",
		Status:         StatusClassified,
		Result: ClassificationResult{
			Topic:           "campaign-pause",
			Solved:          false,
			NeedsHuman:      true,
			FailureCategory: FailureRequiresHuman,
			FailureReason:   "refund needed",
			MissingFeatures: []MissingFeature{{Name: "refund-workflow", Priority: 5}},
			ImprovementSuggestions: []ImprovementSuggestion{
				{Description: "add refund workflow", Effort: EffortHigh},
			},
			EscalationTrigger: "user asked for a human",
			Emotion:           EmotionFrustrated,
			Complexity:        ComplexityComplex,
		},
	}
	if err := s.SaveOutcome("run-1", want); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadOutcomes("run-1")
	if err != nil {
		t.Fatal(err)
	}
	o := got["conv-2.csv"]
	if o.Result.FailureCategory != FailureRequiresHuman ||
		len(o.Result.MissingFeatures) != 1 ||
		o.Result.MissingFeatures[0].Priority != 5 ||
		o.Result.Emotion != EmotionFrustrated {
		t.Fatalf("round trip mismatch: %+v", o)
	}

	// Outcomes from other runs stay invisible.
	other, err := s.LoadOutcomes("run-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Fatalf("run-2 outcomes = %+v, want none", other)
	}
}

func TestStoreCountByStatus(t *testing.T) {
	s := openTestStore(t)
	if err := s.BeginRun("run-1", "data/*.csv", false, time.Now()); err != nil {
		t.Fatal(err)
	}

	save := func(id string, status ConversationStatus) {
		t.Helper()
		o := ConversationOutcome{ConversationID: id, Status: status, Result: fallbackResult("x")}
		if err := s.SaveOutcome("run-1", o); err != nil {
			t.Fatal(err)
		}
	}
	save("a", StatusClassified)
	save("b", StatusClassified)
	save("c", StatusFallback)
	save("d", StatusUnparseable)

	counts, err := s.CountByStatus("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if counts[StatusClassified] != 2 || counts[StatusFallback] != 1 || counts[StatusUnparseable] != 1 {
		t.Fatalf("counts = %+v", counts)
	}
}

func TestStoreBeginAndFinishRun(t *testing.T) {
	s := openTestStore(t)
	started := time.Now()
	if err := s.BeginRun("run-1", "data/*.csv", true, started); err != nil {
		t.Fatal(err)
	}
	// Re-beginning the same run (a resume) must not error.
	if err := s.BeginRun("run-1", "data/*.csv", true, started); err != nil {
		t.Fatalf("resumed BeginRun: %v", err)
	}

	totals := RunTotals{
		TotalConversations: 10,
		ClassifiedCount:    8,
		FallbackCount:      1,
		UnparseableCount:   1,
		SolvedCount:        6,
		EscalatedCount:     2,
	}
	if err := s.FinishRun("run-1", totals, time.Now()); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	var total, solved int
	err := s.db.QueryRow(`SELECT total, solved FROM runs WHERE id = ?`, "run-1").Scan(&total, &solved)
	if err != nil {
		t.Fatal(err)
	}
	if total != 10 || solved != 6 {
		t.Fatalf("persisted totals = %d/%d", total, solved)
	}
}
