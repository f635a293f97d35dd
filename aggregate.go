package main

import (
	"fmt"
	"sort"
)

// Analysis dimensions. Failure-side dimensions normalize against the total
// conversation count; success-side dimensions normalize against solved_count.
const (
	DimFailureCategory       = "failure_category"
	DimTopic                 = "topic"
	DimFeatureCategory       = "feature_category"
	DimMissingFeature        = "missing_feature"
	DimImprovement           = "improvement"
	DimEscalationTrigger     = "escalation_trigger"
	DimErrorPattern          = "error_pattern"
	DimUserTask              = "user_task"
	DimConversationFlow      = "conversation_flow"
	DimEmotion               = "emotion"
	DimComplexity            = "complexity"
	DimPriorityByFeature     = "priority_by_feature"
	DimEffortByImprovement   = "effort_by_improvement"
	DimSuccessPattern        = "success_pattern"
	DimDemonstratedSkill     = "demonstrated_skill"
	DimSatisfactionIndicator = "satisfaction_indicator"
)

var dimensionOrder = []string{
	DimFailureCategory,
	DimTopic,
	DimFeatureCategory,
	DimMissingFeature,
	DimImprovement,
	DimEscalationTrigger,
	DimErrorPattern,
	DimUserTask,
	DimConversationFlow,
	DimEmotion,
	DimComplexity,
	DimPriorityByFeature,
	DimEffortByImprovement,
	DimSuccessPattern,
	DimDemonstratedSkill,
	DimSatisfactionIndicator,
}

var successSideDimensions = map[string]bool{
	DimSuccessPattern:        true,
	DimDemonstratedSkill:     true,
	DimSatisfactionIndicator: true,
}

// dimAccumulator counts conversations per bucket key, remembering first-seen
// key order for stable tie-breaking and a capped list of example IDs.
type dimAccumulator struct {
	keys        []string
	counts      map[string]int
	examples    map[string][]string
	maxExamples int
}

func newDimAccumulator(maxExamples int) *dimAccumulator {
	return &dimAccumulator{
		counts:      make(map[string]int),
		examples:    make(map[string][]string),
		maxExamples: maxExamples,
	}
}

func (a *dimAccumulator) add(key, convID string) {
	if key == "" {
		return
	}
	if _, seen := a.counts[key]; !seen {
		a.keys = append(a.keys, key)
	}
	a.counts[key]++
	if len(a.examples[key]) < a.maxExamples {
		a.examples[key] = append(a.examples[key], convID)
	}
}

// buckets returns the ranked list: descending count, ties broken by
// first-seen order during the fold (stable sort, not alphabetical).
func (a *dimAccumulator) buckets(denominator int) []AggregateBucket {
	keys := make([]string, len(a.keys))
	copy(keys, a.keys)
	sort.SliceStable(keys, func(i, j int) bool {
		return a.counts[keys[i]] > a.counts[keys[j]]
	})

	out := make([]AggregateBucket, 0, len(keys))
	for _, k := range keys {
		pct := 0.0
		if denominator > 0 {
			pct = float64(a.counts[k]) / float64(denominator) * 100
		}
		out = append(out, AggregateBucket{
			Key:        k,
			Count:      a.counts[k],
			Percentage: pct,
			ExampleIDs: a.examples[k],
		})
	}
	return out
}

// Aggregate folds every outcome of a run into ranked, percentage-normalized
// buckets. The fold order is canonical (outcomes sorted by conversation ID),
// so the output is identical regardless of worker completion order.
func Aggregate(runID string, outcomes []ConversationOutcome, maxExamplesPerBucket int) Summary {
	sorted := make([]ConversationOutcome, len(outcomes))
	copy(sorted, outcomes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ConversationID < sorted[j].ConversationID
	})

	var totals RunTotals
	totals.TotalConversations = len(sorted)

	accs := make(map[string]*dimAccumulator, len(dimensionOrder))
	for _, dim := range dimensionOrder {
		accs[dim] = newDimAccumulator(maxExamplesPerBucket)
	}
	roadmap := newRoadmapAccumulator()

	for _, o := range sorted {
		switch o.Status {
		case StatusClassified:
			totals.ClassifiedCount++
		case StatusFallback:
			totals.FallbackCount++
		case StatusUnparseable:
			totals.UnparseableCount++
			// Unparseable conversations carry no verdict; they contribute
			// to totals only.
			continue
		}

		r := o.Result
		if r.Solved {
			totals.SolvedCount++
		}
		if r.NeedsHuman {
			totals.EscalatedCount++
		}

		accs[DimFailureCategory].add(string(r.FailureCategory), o.ConversationID)
		accs[DimTopic].add(r.Topic, o.ConversationID)
		accs[DimFeatureCategory].add(r.FeatureCategory, o.ConversationID)
		accs[DimEscalationTrigger].add(r.EscalationTrigger, o.ConversationID)
		accs[DimEmotion].add(string(r.Emotion), o.ConversationID)
		accs[DimComplexity].add(string(r.Complexity), o.ConversationID)

		// List-valued dimensions count once per distinct value per
		// conversation.
		for _, name := range distinctFeatureNames(r.MissingFeatures) {
			accs[DimMissingFeature].add(name, o.ConversationID)
		}
		for key := range distinctPriorityFeatures(r.MissingFeatures) {
			accs[DimPriorityByFeature].add(key, o.ConversationID)
		}
		for _, desc := range distinctImprovements(r.ImprovementSuggestions) {
			accs[DimImprovement].add(desc, o.ConversationID)
		}
		for key := range distinctEffortImprovements(r.ImprovementSuggestions) {
			accs[DimEffortByImprovement].add(key, o.ConversationID)
		}
		for _, v := range distinct(r.ErrorPatterns) {
			accs[DimErrorPattern].add(v, o.ConversationID)
		}
		for _, v := range distinct(r.UserTasks) {
			accs[DimUserTask].add(v, o.ConversationID)
		}
		for _, v := range distinct(r.ConversationFlow) {
			accs[DimConversationFlow].add(v, o.ConversationID)
		}

		if r.Solved {
			for _, v := range distinct(r.SuccessPatterns) {
				accs[DimSuccessPattern].add(v, o.ConversationID)
			}
			for _, v := range distinct(r.DemonstratedSkills) {
				accs[DimDemonstratedSkill].add(v, o.ConversationID)
			}
			for _, v := range distinct(r.SatisfactionIndicators) {
				accs[DimSatisfactionIndicator].add(v, o.ConversationID)
			}
		}

		roadmap.fold(r)
	}

	dims := make(map[string][]AggregateBucket, len(dimensionOrder))
	for _, dim := range dimensionOrder {
		den := totals.TotalConversations
		if successSideDimensions[dim] {
			den = totals.SolvedCount
		}
		dims[dim] = accs[dim].buckets(den)
	}

	return Summary{
		RunID:          runID,
		Totals:         totals,
		DimensionOrder: dimensionOrder,
		Dimensions:     dims,
		Roadmap:        roadmap.ranked(),
	}
}

func distinct(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func distinctFeatureNames(features []MissingFeature) []string {
	seen := make(map[string]bool, len(features))
	var out []string
	for _, f := range features {
		if f.Name == "" || seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		out = append(out, f.Name)
	}
	return out
}

func distinctPriorityFeatures(features []MissingFeature) map[string]bool {
	out := make(map[string]bool, len(features))
	for _, f := range features {
		if f.Name == "" {
			continue
		}
		out[fmt.Sprintf("p%d/%s", f.Priority, f.Name)] = true
	}
	return out
}

func distinctImprovements(suggestions []ImprovementSuggestion) []string {
	seen := make(map[string]bool, len(suggestions))
	var out []string
	for _, s := range suggestions {
		if s.Description == "" || seen[s.Description] {
			continue
		}
		seen[s.Description] = true
		out = append(out, s.Description)
	}
	return out
}

func distinctEffortImprovements(suggestions []ImprovementSuggestion) map[string]bool {
	out := make(map[string]bool, len(suggestions))
	for _, s := range suggestions {
		if s.Description == "" {
			continue
		}
		out[fmt.Sprintf("%s/%s", s.Effort, s.Description)] = true
	}
	return out
}

// roadmapAccumulator scores improvement suggestions across the run:
// impact = distinct conversations naming the suggestion, effort = worst
// effort seen for it, priority = mean of the 1-5 priorities attached to the
// naming conversations' missing features (1 when none). The score rises with
// impact and priority and falls with effort, and depends on nothing else.
type roadmapAccumulator struct {
	order        []string
	impact       map[string]int
	effortWeight map[string]int
	prioritySum  map[string]float64
}

func newRoadmapAccumulator() *roadmapAccumulator {
	return &roadmapAccumulator{
		impact:       make(map[string]int),
		effortWeight: make(map[string]int),
		prioritySum:  make(map[string]float64),
	}
}

func (rm *roadmapAccumulator) fold(r ClassificationResult) {
	convPriority := 1.0
	if len(r.MissingFeatures) > 0 {
		sum := 0
		for _, f := range r.MissingFeatures {
			sum += clampPriority(f.Priority)
		}
		convPriority = float64(sum) / float64(len(r.MissingFeatures))
	}

	seen := make(map[string]bool, len(r.ImprovementSuggestions))
	for _, s := range r.ImprovementSuggestions {
		if s.Description == "" || seen[s.Description] {
			continue
		}
		seen[s.Description] = true
		if _, ok := rm.impact[s.Description]; !ok {
			rm.order = append(rm.order, s.Description)
		}
		rm.impact[s.Description]++
		if w := s.Effort.Weight(); w > rm.effortWeight[s.Description] {
			rm.effortWeight[s.Description] = w
		}
		rm.prioritySum[s.Description] += convPriority
	}
}

func (rm *roadmapAccumulator) ranked() []ImprovementPriority {
	out := make([]ImprovementPriority, 0, len(rm.order))
	for _, desc := range rm.order {
		impact := rm.impact[desc]
		priority := rm.prioritySum[desc] / float64(impact)
		weight := rm.effortWeight[desc]
		out = append(out, ImprovementPriority{
			Description: desc,
			Impact:      impact,
			Effort:      weightToEffort(weight),
			Priority:    priority,
			Score:       float64(impact) * priority / float64(weight),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func weightToEffort(w int) Effort {
	switch w {
	case 2:
		return EffortMedium
	case 3:
		return EffortHigh
	}
	return EffortLow
}
