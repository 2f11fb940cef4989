package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"

// classifyFn is the seam the engine calls; tests replace it to avoid real
// API traffic.
var classifyFn = ClassifyTranscript

// ClassifyTranscript performs one classification request against the
// configured provider and returns the parsed raw result. Transport errors,
// non-success statuses, and non-JSON bodies all fail with a descriptive
// error; the caller decides whether to retry.
func ClassifyTranscript(cfg Config, transcript string) (ClassificationResult, error) {
	if cfg.MaxTranscriptChars > 0 && len(transcript) > cfg.MaxTranscriptChars {
		transcript = transcript[:cfg.MaxTranscriptChars]
	}
	systemPrompt := buildClassifySystemPrompt()

	var responseText string
	var err error
	switch cfg.LLMProvider {
	case "openai":
		model := cfg.LLMModel
		if model == "" {
			model = defaultOpenAIModel
		}
		responseText, err = callOpenAI(cfg.OpenAIAPIKey, model, systemPrompt, transcript)
	default:
		model := cfg.LLMModel
		if model == "" {
			model = defaultAnthropicModel
		}
		responseText, err = callAnthropic(cfg.AnthropicAPIKey, model, systemPrompt, transcript)
	}
	if err != nil {
		return ClassificationResult{}, err
	}

	return parseClassificationResponse(responseText)
}

// ClassifyWithRetry retries up to cfg.LLMMaxRetries attempts with a linearly
// increasing, capped backoff. Exhausting all attempts is not fatal: it
// returns an empty result plus the last error message, and the pipeline
// normalizes that degraded result so one bad conversation never aborts the
// batch.
func ClassifyWithRetry(cfg Config, key, transcript string) (ClassificationResult, string) {
	attempts := cfg.LLMMaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := classifyFn(cfg, transcript)
		if err == nil {
			return result, ""
		}
		lastErr = err
		log.Printf("classify key=%s attempt=%d/%d error: %v", key, attempt, attempts, err)
		if attempt < attempts {
			time.Sleep(retryBackoff(cfg, attempt))
		}
	}
	return ClassificationResult{}, lastErr.Error()
}

// retryBackoff scales the base delay by the attempt number, capped at the
// configured ceiling.
func retryBackoff(cfg Config, attempt int) time.Duration {
	base := time.Duration(cfg.RetryBackoffSeconds) * time.Second
	ceiling := time.Duration(cfg.RetryBackoffCapSeconds) * time.Second
	wait := base * time.Duration(attempt)
	if ceiling > 0 && wait > ceiling {
		wait = ceiling
	}
	return wait
}

func buildClassifySystemPrompt() string {
	return fmt.Sprintf(`You classify one customer-support conversation transcript.

Approved tags (use only these, lowercase, 1 to %d per conversation):
%s

Rules:
- "sentiment" is the customer's overall sentiment: positive, neutral, or negative.
- "tags" lists the approved tags that apply. Use "%s" for general informational requests. If nothing fits, use "%s".
- "solved" is whether the customer's issue was resolved by the end: yes, no, or unclear.
- "summary" is one short sentence describing the conversation.

Respond with JSON only (no markdown):
{"sentiment": "negative", "tags": ["billing_issue"], "summary": "...", "solved": "no"}`,
		maxTagsPerConversation, "- "+strings.Join(approvedTags, "\n- "), queryTag, fallbackTag)
}

// parseClassificationResponse strips markdown fences the model sometimes
// wraps around the payload and decodes the single JSON object.
func parseClassificationResponse(responseText string) (ClassificationResult, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var result ClassificationResult
	if err := json.Unmarshal([]byte(responseText), &result); err != nil {
		truncated := responseText
		if len(truncated) > 512 {
			truncated = truncated[:512] + fmt.Sprintf("... [truncated, total_length=%d]", len(responseText))
		}
		return ClassificationResult{}, fmt.Errorf("parsing classification response: %w (response: %s)", err, truncated)
	}
	return result, nil
}

// --- Anthropic ---

func callAnthropic(apiKey, model, systemPrompt, transcript string) (string, error) {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	message, err := client.Messages.New(context.Background(), anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   1024,
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(transcript)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d", len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens)
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in Anthropic response")
}

// --- OpenAI ---

type openAIRequest struct {
	Model          string               `json:"model"`
	Temperature    float64              `json:"temperature"`
	ResponseFormat openAIResponseFormat `json:"response_format"`
	Messages       []openAIMessage      `json:"messages"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
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

func callOpenAI(apiKey, model, systemPrompt, transcript string) (string, error) {
	reqBody := openAIRequest{
		Model:          model,
		Temperature:    0,
		ResponseFormat: openAIResponseFormat{Type: "json_object"},
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: transcript},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequest("POST", "https://api.openai.com/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := externalHTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("OpenAI API status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return "", fmt.Errorf("parsing OpenAI response: %w", err)
	}
	if openAIResp.Error != nil {
		return "", fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message)
	}
	if len(openAIResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}
	return openAIResp.Choices[0].Message.Content, nil
}
