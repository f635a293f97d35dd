package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o"
const defaultOpenAIBaseURL = "https://api.openai.com/v1/chat/completions"

// Transport timeout is a backstop only; the per-attempt deadline comes from
// the caller's context.
var externalHTTPClient = &http.Client{Timeout: 150 * time.Second}

const classifySystemPrompt = `You are an analyst that classifies chatbot conversations.
Return STRICT JSON only (no commentary). Be concise, evidence-based, and avoid speculation.`

const classifyUserPromptTemplate = `You are given a single conversation transcript between a user and an advertiser-support chatbot.
Goal: determine what the user was trying to accomplish, whether the bot solved it, and analyze failures in detail.

Return STRICT JSON with this schema (do not add fields):
{
  "topic": "short-kebab-case-tag",
  "solved": true/false,
  "needs_human": true/false,
  "failure_category": "missing-info|requires-human|feature-not-supported|bot-error|user-abandoned|incomplete-conversation|bot-handled-perfectly|other",
  "failure_reason": "detailed reason why the task failed, or why it succeeded",
  "feature_category": "account-management|billing|campaign-control|technical-support|integration|reporting|verification|other",
  "missing_features": [{"name": "specific missing capability", "priority": 1-5}],
  "improvement_suggestions": [{"description": "concrete action item", "effort": "low|medium|high"}],
  "success_patterns": ["patterns that led to success, only when solved"],
  "demonstrated_skills": ["specific skills the bot showed, only when solved"],
  "satisfaction_indicators": ["signs the user was satisfied, only when solved"],
  "escalation_trigger": "what caused the user to ask for a human, or empty string",
  "user_tasks_attempted": ["specific task the user wanted to complete"],
  "error_patterns": ["specific error messages or technical issues observed"],
  "conversation_flow": ["key conversation stages or transitions"],
  "user_emotion": "frustrated|satisfied|neutral|confused|grateful",
  "conversation_complexity": "simple|moderate|complex"
}

Guidelines:
- "failure_category": use bot-handled-perfectly when solved is true; incomplete-conversation when the user never made a request.
- "missing_features": only when the bot lacked a capability; priority 1 = low impact, 5 = critical blocker.
- "improvement_suggestions": concrete actions (e.g. "add password reset workflow"), never "none".
- "escalation_trigger": empty string unless the user actually asked for, or was routed to, a human.
- Success-only lists (success_patterns, demonstrated_skills, satisfaction_indicators) stay empty when solved is false.

Transcript (UTC times, truncated if long):
----------------
%s
----------------`

// wireClassification is the JSON shape requested from the service. Enum
// fields arrive as free strings and are normalized afterwards.
type wireClassification struct {
	Topic                  string `json:"topic"`
	Solved                 bool   `json:"solved"`
	NeedsHuman             bool   `json:"needs_human"`
	FailureCategory        string `json:"failure_category"`
	FailureReason          string `json:"failure_reason"`
	FeatureCategory        string `json:"feature_category"`
	MissingFeatures        []struct {
		Name     string `json:"name"`
		Priority int    `json:"priority"`
	} `json:"missing_features"`
	ImprovementSuggestions []struct {
		Description string `json:"description"`
		Effort      string `json:"effort"`
	} `json:"improvement_suggestions"`
	SuccessPatterns        []string `json:"success_patterns"`
	DemonstratedSkills     []string `json:"demonstrated_skills"`
	SatisfactionIndicators []string `json:"satisfaction_indicators"`
	EscalationTrigger      string   `json:"escalation_trigger"`
	UserTasks              []string `json:"user_tasks_attempted"`
	ErrorPatterns          []string `json:"error_patterns"`
	ConversationFlow       []string `json:"conversation_flow"`
	UserEmotion            string   `json:"user_emotion"`
	ConversationComplexity string   `json:"conversation_complexity"`
}

func buildClassifyPrompts(transcript string) (string, string) {
	return classifySystemPrompt, fmt.Sprintf(classifyUserPromptTemplate, transcript)
}

// requestClassification performs one attempt against the configured provider.
func requestClassification(ctx context.Context, cfg Config, transcript string) (ClassificationResult, error) {
	systemPrompt, userPrompt := buildClassifyPrompts(transcript)

	var raw string
	var err error
	switch cfg.LLMProvider {
	case "openai":
		raw, err = callOpenAI(ctx, cfg, systemPrompt, userPrompt)
	default:
		raw, err = callAnthropic(ctx, cfg, systemPrompt, userPrompt)
	}
	if err != nil {
		return ClassificationResult{}, err
	}
	return parseClassificationResponse(raw)
}

func callAnthropic(ctx context.Context, cfg Config, systemPrompt, userPrompt string) (string, error) {
	opts := []option.RequestOption{option.WithAPIKey(cfg.AnthropicAPIKey)}
	if cfg.AnthropicBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.AnthropicBaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := cfg.LLMModel
	if model == "" {
		model = defaultAnthropicModel
	}

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
				return "", &transientServiceError{cause: err}
			}
			return "", &permanentServiceError{status: apiErr.StatusCode, detail: apiErr.Error()}
		}
		// Transport-level failures (connection reset, timeouts) are transient.
		if isTransient(err) {
			return "", &transientServiceError{cause: err}
		}
		return "", &permanentServiceError{status: 0, detail: err.Error()}
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			logger.Debugf("llm anthropic response size=%d tokens_in=%d tokens_out=%d",
				len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens)
			return block.Text, nil
		}
	}
	return "", &malformedResponseError{cause: fmt.Errorf("no text content in response")}
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// callOpenAI targets any OpenAI-compatible chat completions endpoint,
// including internal gateways configured via openai_base_url.
func callOpenAI(ctx context.Context, cfg Config, systemPrompt, userPrompt string) (string, error) {
	model := cfg.LLMModel
	if model == "" {
		model = defaultOpenAIModel
	}
	url := cfg.OpenAIBaseURL
	if url == "" {
		url = defaultOpenAIBaseURL
	}

	reqBody := openAIRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    0.2,
		MaxTokens:      1024,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.OpenAIAPIKey)

	resp, err := externalHTTPClient.Do(req)
	if err != nil {
		return "", &transientServiceError{cause: err}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &transientServiceError{cause: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", &transientServiceError{cause: fmt.Errorf("status %d: %s", resp.StatusCode, truncateForLog(respBytes))}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &permanentServiceError{status: resp.StatusCode, detail: truncateForLog(respBytes)}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", &malformedResponseError{cause: err, raw: truncateForLog(respBytes)}
	}
	if parsed.Error != nil {
		return "", &permanentServiceError{status: resp.StatusCode, detail: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", &malformedResponseError{cause: fmt.Errorf("no choices in response"), raw: truncateForLog(respBytes)}
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncateForLog(b []byte) string {
	const max = 500
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// parseClassificationResponse validates and repairs the service's reply:
// markdown fences are stripped, the outermost JSON object is extracted,
// enum fields are normalized, and missing optional fields default to
// empty/false. A body with no parseable object is a malformedResponseError.
func parseClassificationResponse(raw string) (ClassificationResult, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return ClassificationResult{}, &malformedResponseError{
			cause: fmt.Errorf("no JSON object in response"),
			raw:   text,
		}
	}

	var wire wireClassification
	if err := json.Unmarshal([]byte(text[start:end+1]), &wire); err != nil {
		return ClassificationResult{}, &malformedResponseError{cause: err, raw: text}
	}

	result := ClassificationResult{
		Topic:             strings.TrimSpace(wire.Topic),
		Solved:            wire.Solved,
		NeedsHuman:        wire.NeedsHuman,
		FailureCategory:   NormalizeFailureCategory(strings.TrimSpace(wire.FailureCategory)),
		FailureReason:     strings.TrimSpace(wire.FailureReason),
		FeatureCategory:   strings.TrimSpace(wire.FeatureCategory),
		EscalationTrigger: strings.TrimSpace(wire.EscalationTrigger),
		Emotion:           NormalizeEmotion(strings.TrimSpace(wire.UserEmotion)),
		Complexity:        NormalizeComplexity(strings.TrimSpace(wire.ConversationComplexity)),
	}
	for _, f := range wire.MissingFeatures {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		result.MissingFeatures = append(result.MissingFeatures, MissingFeature{
			Name:     name,
			Priority: clampPriority(f.Priority),
		})
	}
	for _, s := range wire.ImprovementSuggestions {
		desc := strings.TrimSpace(s.Description)
		if desc == "" {
			continue
		}
		result.ImprovementSuggestions = append(result.ImprovementSuggestions, ImprovementSuggestion{
			Description: desc,
			Effort:      NormalizeEffort(strings.ToLower(strings.TrimSpace(s.Effort))),
		})
	}
	result.UserTasks = cleanTags(wire.UserTasks)
	result.ErrorPatterns = cleanTags(wire.ErrorPatterns)
	result.ConversationFlow = cleanTags(wire.ConversationFlow)

	// Success-only lists are honored only when the verdict is solved.
	if wire.Solved {
		result.SuccessPatterns = cleanTags(wire.SuccessPatterns)
		result.DemonstratedSkills = cleanTags(wire.DemonstratedSkills)
		result.SatisfactionIndicators = cleanTags(wire.SatisfactionIndicators)
	}

	return result, nil
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 5 {
		return 5
	}
	return p
}

func cleanTags(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "none") {
			continue
		}
		out = append(out, s)
	}
	return out
}

// fallbackResult is the deterministic verdict used when classification could
// not be obtained. The reason string distinguishes retry exhaustion from a
// response that failed validation.
func fallbackResult(reason string) ClassificationResult {
	return ClassificationResult{
		Solved:          false,
		FailureCategory: FailureBotError,
		FailureReason:   reason,
		Emotion:         EmotionNeutral,
		Complexity:      ComplexitySimple,
	}
}

// placeholderResult stands in for the service verdict in dry-run mode.
func placeholderResult() ClassificationResult {
	return ClassificationResult{
		Topic:           "dry-run",
		Solved:          false,
		FailureCategory: FailureOther,
		FailureReason:   "dry-run-no-service-call",
		Emotion:         EmotionNeutral,
		Complexity:      ComplexitySimple,
	}
}
