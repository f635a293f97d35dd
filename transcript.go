package main

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const truncationMarker = "\n[transcript truncated]"

// BuildTranscript flattens a conversation into the text submitted for
// classification: one "speaker: text" line per turn, in turn order,
// bounded to maxChars. Identical records always yield identical output.
func BuildTranscript(rec ConversationRecord, maxChars int) string {
	var b strings.Builder
	for i, t := range rec.Turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", t.Speaker, t.Text)
	}
	return truncateTranscript(b.String(), maxChars)
}

// truncateTranscript keeps the earliest content up to maxChars and appends
// a marker. Truncating an already-bounded transcript is a no-op.
func truncateTranscript(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	cut := maxChars - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	// Never split a multi-byte rune.
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}

// triage classifies a conversation locally when it is not worth a service
// call. Returns an outcome and true, or false when the service should see it.
func triage(rec ConversationRecord) (ClassificationResult, bool) {
	userTurns := rec.UserTurns()
	if len(userTurns) == 0 {
		return incompleteResult("no-user-messages"), true
	}
	if isLowValue(userTurns) {
		return incompleteResult("low-value-conversation"), true
	}
	return ClassificationResult{}, false
}

// isLowValue mirrors the pre-filter the analysts asked for: two or fewer
// user messages, or nothing beyond greetings, cancellations and form
// boilerplate.
func isLowValue(userTurns []Turn) bool {
	if len(userTurns) <= 2 {
		return true
	}
	for _, t := range userTurns {
		msg := strings.ToLower(strings.TrimSpace(t.Text))
		switch msg {
		case "cancel", "no", "stop", "quit", "exit":
			continue
		}
		if msg == "the user completes the submission of the form" {
			continue
		}
		if len(msg) < 20 && containsAny(msg, "hi", "hello", "hey", "good morning", "good afternoon") {
			continue
		}
		return false
	}
	return true
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func incompleteResult(reason string) ClassificationResult {
	return ClassificationResult{
		Topic:            "incomplete-conversation",
		Solved:           false,
		FailureCategory:  FailureIncomplete,
		FailureReason:    reason,
		UserTasks:        []string{"no-user-request"},
		ConversationFlow: []string{"bot-greeting", "user-abandoned"},
		Emotion:          EmotionNeutral,
		Complexity:       ComplexitySimple,
	}
}
