package main

import "time"

// SpeakerRole identifies who produced a turn.
type SpeakerRole string

const (
	SpeakerUser    SpeakerRole = "user"
	SpeakerBot     SpeakerRole = "bot"
	SpeakerUnknown SpeakerRole = "unknown"
)

// Turn is one message within a conversation. Immutable once parsed.
type Turn struct {
	Speaker      SpeakerRole
	Timestamp    time.Time
	HasTimestamp bool // false when the source row had no parseable timestamp
	Text         string
	Structured   string // raw structured-data cell, opaque
}

// ConversationRecord is the canonical per-conversation record produced by
// the schema normalizer. The ID is the source file's base name.
type ConversationRecord struct {
	ID    string
	Turns []Turn
}

func (r ConversationRecord) UserTurns() []Turn {
	var out []Turn
	for _, t := range r.Turns {
		if t.Speaker == SpeakerUser {
			out = append(out, t)
		}
	}
	return out
}

// FailureCategory is the closed vocabulary the classification service is
// asked to choose from. Anything outside it is folded into FailureOther.
type FailureCategory string

const (
	FailureMissingInfo         FailureCategory = "missing-info"
	FailureRequiresHuman       FailureCategory = "requires-human"
	FailureFeatureNotSupported FailureCategory = "feature-not-supported"
	FailureBotError            FailureCategory = "bot-error"
	FailureUserAbandoned       FailureCategory = "user-abandoned"
	FailureIncomplete          FailureCategory = "incomplete-conversation"
	FailureHandledPerfectly    FailureCategory = "bot-handled-perfectly"
	FailureOther               FailureCategory = "other"
)

func NormalizeFailureCategory(s string) FailureCategory {
	switch FailureCategory(s) {
	case FailureMissingInfo, FailureRequiresHuman, FailureFeatureNotSupported,
		FailureBotError, FailureUserAbandoned, FailureIncomplete,
		FailureHandledPerfectly, FailureOther:
		return FailureCategory(s)
	}
	return FailureOther
}

// Emotion is the user's overall emotional state as judged by the service.
type Emotion string

const (
	EmotionFrustrated Emotion = "frustrated"
	EmotionSatisfied  Emotion = "satisfied"
	EmotionNeutral    Emotion = "neutral"
	EmotionConfused   Emotion = "confused"
	EmotionGrateful   Emotion = "grateful"
)

func NormalizeEmotion(s string) Emotion {
	switch Emotion(s) {
	case EmotionFrustrated, EmotionSatisfied, EmotionNeutral, EmotionConfused, EmotionGrateful:
		return Emotion(s)
	}
	return EmotionNeutral
}

// Complexity buckets a conversation by how involved it was.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

func NormalizeComplexity(s string) Complexity {
	switch Complexity(s) {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return Complexity(s)
	}
	return ComplexitySimple
}

// Effort estimates implementation cost of an improvement suggestion.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

func NormalizeEffort(s string) Effort {
	switch Effort(s) {
	case EffortLow, EffortMedium, EffortHigh:
		return Effort(s)
	}
	return EffortLow
}

// Weight orders efforts for priority scoring: cheaper work scores higher.
func (e Effort) Weight() int {
	switch e {
	case EffortMedium:
		return 2
	case EffortHigh:
		return 3
	}
	return 1
}

type MissingFeature struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"` // 1 (low impact) .. 5 (critical blocker)
}

type ImprovementSuggestion struct {
	Description string `json:"description"`
	Effort      Effort `json:"effort"`
}

// ClassificationResult is the structured verdict for one conversation,
// either returned by the classification service or synthesized locally.
type ClassificationResult struct {
	Topic                  string                  `json:"topic"`
	Solved                 bool                    `json:"solved"`
	NeedsHuman             bool                    `json:"needs_human"`
	FailureCategory        FailureCategory         `json:"failure_category"`
	FailureReason          string                  `json:"failure_reason"`
	FeatureCategory        string                  `json:"feature_category,omitempty"`
	MissingFeatures        []MissingFeature        `json:"missing_features,omitempty"`
	ImprovementSuggestions []ImprovementSuggestion `json:"improvement_suggestions,omitempty"`
	SuccessPatterns        []string                `json:"success_patterns,omitempty"`
	DemonstratedSkills     []string                `json:"demonstrated_skills,omitempty"`
	SatisfactionIndicators []string                `json:"satisfaction_indicators,omitempty"`
	EscalationTrigger      string                  `json:"escalation_trigger,omitempty"`
	UserTasks              []string                `json:"user_tasks_attempted,omitempty"`
	ErrorPatterns          []string                `json:"error_patterns,omitempty"`
	ConversationFlow       []string                `json:"conversation_flow,omitempty"`
	Emotion                Emotion                 `json:"emotion"`
	Complexity             Complexity              `json:"complexity"`
}

// ConversationStatus records how a conversation's verdict was obtained.
type ConversationStatus string

const (
	StatusClassified  ConversationStatus = "classified"
	StatusFallback    ConversationStatus = "fallback"
	StatusUnparseable ConversationStatus = "unparseable"
)

// ConversationOutcome pairs a conversation identity with its settled verdict.
// Every input conversation yields exactly one outcome.
type ConversationOutcome struct {
	ConversationID string               `json:"file"`
	Status         ConversationStatus   `json:"status"`
	Result         ClassificationResult `json:"result"`
}

// RunTotals are the run-level counters surfaced alongside every report.
type RunTotals struct {
	TotalConversations int `json:"total_conversations"`
	ClassifiedCount    int `json:"classified_count"`
	FallbackCount      int `json:"fallback_count"`
	UnparseableCount   int `json:"unparseable_count"`
	SolvedCount        int `json:"solved_count"`
	EscalatedCount     int `json:"escalated_count"`
}

// AggregateBucket is one ranked value along an analysis dimension.
type AggregateBucket struct {
	Key        string   `json:"key"`
	Count      int      `json:"count"`
	Percentage float64  `json:"percentage"`
	ExampleIDs []string `json:"example_ids,omitempty"`
}

// ImprovementPriority is a scored roadmap entry derived from improvement
// suggestions across the run.
type ImprovementPriority struct {
	Description string  `json:"description"`
	Impact      int     `json:"impact"` // distinct conversations naming it
	Effort      Effort  `json:"effort"`
	Priority    float64 `json:"priority"` // mean attached 1-5 priority
	Score       float64 `json:"score"`
}

// Summary is the aggregator's full output: run totals plus ranked,
// percentage-normalized buckets per dimension.
type Summary struct {
	RunID          string                       `json:"run_id"`
	Totals         RunTotals                    `json:"totals"`
	DimensionOrder []string                     `json:"dimension_order"`
	Dimensions     map[string][]AggregateBucket `json:"dimensions"`
	Roadmap        []ImprovementPriority        `json:"roadmap"`
}
