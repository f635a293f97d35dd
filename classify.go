package main

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Classifier drives bounded-concurrency classification of a batch. The rate
// limiter is the only state shared between workers; everything else is
// conversation-local.
type Classifier struct {
	cfg     Config
	limiter *rateLimiter
	policy  retryPolicy
}

func NewClassifier(cfg Config) *Classifier {
	return &Classifier{
		cfg:     cfg,
		limiter: newRateLimiter(cfg.RequestsPerMinute),
		policy:  defaultRetryPolicy(cfg.MaxAttempts),
	}
}

// ClassifyAll processes every record through the worker pool and returns one
// outcome per record. Outcomes already present in `already` (recovered from
// the result log) are reused without a service call. Each freshly settled
// outcome is handed to sink before the batch completes, so an interrupted
// run leaves a log of complete records only.
func (c *Classifier) ClassifyAll(ctx context.Context, records []ConversationRecord, already map[string]ConversationOutcome, sink func(ConversationOutcome) error) []ConversationOutcome {
	jobs := make(chan ConversationRecord)

	var mu sync.Mutex
	outcomes := make([]ConversationOutcome, 0, len(records))
	done := 0

	settle := func(o ConversationOutcome, fresh bool) {
		mu.Lock()
		defer mu.Unlock()
		if fresh && sink != nil {
			if err := sink(o); err != nil {
				logger.WithFields(logrus.Fields{"conversation": o.ConversationID, "error": err}).
					Error("persisting outcome")
			}
		}
		outcomes = append(outcomes, o)
		done++
		if done%10 == 0 || done == len(records) {
			logger.Infof("progress %d/%d conversations", done, len(records))
		}
	}

	workers := c.cfg.MaxWorkers
	if workers > len(records) {
		workers = len(records)
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				if prior, ok := already[rec.ID]; ok {
					settle(prior, false)
					continue
				}
				settle(c.processOne(ctx, rec), true)
			}
		}()
	}

	for _, rec := range records {
		jobs <- rec
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

func (c *Classifier) processOne(ctx context.Context, rec ConversationRecord) ConversationOutcome {
	if result, handled := triage(rec); handled {
		logger.WithField("conversation", rec.ID).Debug("triaged locally, skipping service call")
		return ConversationOutcome{ConversationID: rec.ID, Status: StatusClassified, Result: result}
	}

	transcript := BuildTranscript(rec, c.cfg.MaxTranscriptChars)

	if c.cfg.DryRun {
		return ConversationOutcome{ConversationID: rec.ID, Status: StatusClassified, Result: placeholderResult()}
	}

	return c.classifyOne(ctx, rec.ID, transcript)
}

// classifyOne performs the rate-limited, retried service call for a single
// conversation. Every failure mode is recovered locally into a fallback
// outcome; nothing propagates to sibling work.
func (c *Classifier) classifyOne(ctx context.Context, id, transcript string) ConversationOutcome {
	var result ClassificationResult

	err := c.policy.run(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout())
		defer cancel()

		r, err := requestClassification(attemptCtx, c.cfg, transcript)
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	if err == nil {
		return ConversationOutcome{ConversationID: id, Status: StatusClassified, Result: result}
	}

	var reason string
	var permErr *permanentServiceError
	switch {
	case isMalformed(err):
		reason = "malformed-response: " + err.Error()
	case errors.As(err, &permErr):
		reason = "service-rejected: " + err.Error()
	default:
		reason = "retries-exhausted: " + err.Error()
	}
	logger.WithFields(logrus.Fields{"conversation": id, "error": err}).Warn("classification fell back")

	return ConversationOutcome{
		ConversationID: id,
		Status:         StatusFallback,
		Result:         fallbackResult(reason),
	}
}
