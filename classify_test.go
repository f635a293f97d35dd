package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func serviceRecord(id string) ConversationRecord {
	return ConversationRecord{
		ID: id,
		Turns: []Turn{
			{Speaker: SpeakerBot, Text: "Hello, how can I help with your account today?"},
			{Speaker: SpeakerUser, Text: "I need to update the billing address on my advertiser account"},
			{Speaker: SpeakerBot, Text: "I can do that, what is the new address?"},
			{Speaker: SpeakerUser, Text: "Last month's invoice went to our old office and finance bounced it"},
			{Speaker: SpeakerUser, Text: "Please also resend that invoice once the address is fixed, reference " + id},
		},
	}
}

const goodClassificationJSON = `{"topic":"billing","solved":true,"needs_human":false,` +
	`"failure_category":"bot-handled-perfectly","failure_reason":"address updated",` +
	`"feature_category":"billing","user_emotion":"satisfied","conversation_complexity":"simple"}`

func classificationServer(t *testing.T, hits *atomic.Int64, failSubstring string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var req openAIRequest
		if err := readJSONBody(r, &req); err != nil {
			t.Errorf("decoding request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if failSubstring != "" && strings.Contains(req.Messages[1].Content, failSubstring) {
			http.Error(w, `{"error":{"message":"unprocessable transcript"}}`, http.StatusUnprocessableEntity)
			return
		}
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, goodClassificationJSON)
	}))
}

func testClassifier(cfg Config) *Classifier {
	return &Classifier{
		cfg:     cfg,
		limiter: newRateLimiter(cfg.RequestsPerMinute),
		policy:  fastRetryPolicy(cfg.MaxAttempts),
	}
}

func baseClassifyConfig(serverURL string) Config {
	return Config{
		LLMProvider:           "openai",
		OpenAIAPIKey:          "test-key",
		OpenAIBaseURL:         serverURL,
		RequestsPerMinute:     1000,
		MaxWorkers:            4,
		RequestTimeoutSeconds: 10,
		MaxAttempts:           2,
		MaxTranscriptChars:    12000,
		ExampleIDsPerBucket:   5,
	}
}

// One failing conversation must not disturb its siblings: every conversation
// still gets exactly one outcome, and only the failing one falls back.
func TestClassifyAllIsolatesFailures(t *testing.T) {
	var hits atomic.Int64
	srv := classificationServer(t, &hits, "conv-07")
	defer srv.Close()

	var records []ConversationRecord
	for i := 1; i <= 10; i++ {
		records = append(records, serviceRecord(fmt.Sprintf("conv-%02d", i)))
	}

	c := testClassifier(baseClassifyConfig(srv.URL))
	outcomes := c.ClassifyAll(context.Background(), records, nil, nil)

	if len(outcomes) != 10 {
		t.Fatalf("got %d outcomes, want 10", len(outcomes))
	}
	byID := make(map[string]ConversationOutcome, len(outcomes))
	for _, o := range outcomes {
		if _, dup := byID[o.ConversationID]; dup {
			t.Fatalf("duplicate outcome for %s", o.ConversationID)
		}
		byID[o.ConversationID] = o
	}

	var classified, fallback int
	for _, o := range byID {
		switch o.Status {
		case StatusClassified:
			classified++
		case StatusFallback:
			fallback++
		default:
			t.Fatalf("unexpected status %q for %s", o.Status, o.ConversationID)
		}
	}
	if classified != 9 || fallback != 1 {
		t.Fatalf("classified=%d fallback=%d, want 9/1", classified, fallback)
	}

	failed := byID["conv-07"]
	if failed.Status != StatusFallback {
		t.Fatalf("conv-07 status = %q, want fallback", failed.Status)
	}
	if failed.Result.FailureCategory != FailureBotError {
		t.Fatalf("fallback category = %q", failed.Result.FailureCategory)
	}
	if !strings.HasPrefix(failed.Result.FailureReason, "service-rejected:") {
		t.Fatalf("fallback reason = %q", failed.Result.FailureReason)
	}
	if ok := byID["conv-06"]; ok.Status != StatusClassified || ok.Result.Topic != "billing" {
		t.Fatalf("sibling conv-06 = %+v", ok)
	}
}

func TestClassifyAllRetriesTransient(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, goodClassificationJSON)
	}))
	defer srv.Close()

	cfg := baseClassifyConfig(srv.URL)
	cfg.MaxAttempts = 3
	c := testClassifier(cfg)

	outcomes := c.ClassifyAll(context.Background(), []ConversationRecord{serviceRecord("conv-a")}, nil, nil)
	if len(outcomes) != 1 || outcomes[0].Status != StatusClassified {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("server hits = %d, want 2 (one retry)", got)
	}
}

func TestClassifyAllExhaustedRetriesFallBack(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "still down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := baseClassifyConfig(srv.URL)
	cfg.MaxAttempts = 3
	c := testClassifier(cfg)

	outcomes := c.ClassifyAll(context.Background(), []ConversationRecord{serviceRecord("conv-a")}, nil, nil)
	if outcomes[0].Status != StatusFallback {
		t.Fatalf("status = %q, want fallback", outcomes[0].Status)
	}
	if !strings.HasPrefix(outcomes[0].Result.FailureReason, "retries-exhausted:") {
		t.Fatalf("reason = %q", outcomes[0].Result.FailureReason)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("server hits = %d, want 3 attempts", got)
	}
}

func TestClassifyAllReusesSettledOutcomes(t *testing.T) {
	var hits atomic.Int64
	srv := classificationServer(t, &hits, "")
	defer srv.Close()

	records := []ConversationRecord{
		serviceRecord("conv-1"),
		serviceRecord("conv-2"),
		serviceRecord("conv-3"),
	}
	already := map[string]ConversationOutcome{
		"conv-2": {
			ConversationID: "conv-2",
			Status:         StatusClassified,
			Result:         ClassificationResult{Topic: "cached", Solved: true, FailureCategory: FailureHandledPerfectly},
		},
	}

	var sunk []string
	c := testClassifier(baseClassifyConfig(srv.URL))
	outcomes := c.ClassifyAll(context.Background(), records, already, func(o ConversationOutcome) error {
		sunk = append(sunk, o.ConversationID)
		return nil
	})

	if got := hits.Load(); got != 2 {
		t.Fatalf("server hits = %d, want 2 (conv-2 reused)", got)
	}
	var cached ConversationOutcome
	for _, o := range outcomes {
		if o.ConversationID == "conv-2" {
			cached = o
		}
	}
	if cached.Result.Topic != "cached" {
		t.Fatalf("conv-2 outcome = %+v, want reused verdict", cached)
	}
	// Only fresh outcomes reach the sink; reused ones are already in the log.
	if len(sunk) != 2 {
		t.Fatalf("sink saw %v, want the 2 fresh conversations", sunk)
	}
	for _, id := range sunk {
		if id == "conv-2" {
			t.Fatal("reused outcome was written to the sink again")
		}
	}
}

func TestClassifyAllDryRun(t *testing.T) {
	cfg := baseClassifyConfig("http://127.0.0.1:0") // must never be dialed
	cfg.DryRun = true
	c := testClassifier(cfg)

	records := []ConversationRecord{serviceRecord("conv-1"), serviceRecord("conv-2")}
	outcomes := c.ClassifyAll(context.Background(), records, nil, nil)

	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Status != StatusClassified || o.Result.Topic != "dry-run" {
			t.Fatalf("dry-run outcome = %+v", o)
		}
	}
}

func TestClassifyAllTriagesLocally(t *testing.T) {
	var hits atomic.Int64
	srv := classificationServer(t, &hits, "")
	defer srv.Close()

	rec := ConversationRecord{ID: "conv-empty", Turns: []Turn{
		{Speaker: SpeakerBot, Text: "Hello, how can I help?"},
	}}
	c := testClassifier(baseClassifyConfig(srv.URL))
	outcomes := c.ClassifyAll(context.Background(), []ConversationRecord{rec}, nil, nil)

	if got := hits.Load(); got != 0 {
		t.Fatalf("server hits = %d, want 0 for a triaged conversation", got)
	}
	if outcomes[0].Result.FailureCategory != FailureIncomplete {
		t.Fatalf("outcome = %+v", outcomes[0])
	}
}

func readJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
