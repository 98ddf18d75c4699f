package translate

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Yoshiki785/realtime-translator/internal/observability"
)

// langNames maps supported language codes to prompt-friendly names.
var langNames = map[string]string{
	"ja": "Japanese",
	"en": "English",
	"zh": "Chinese",
}

const (
	defaultModel     = "gpt-4o-mini"
	minSummaryWords  = 20
	maxTitleRunes    = 40
	titleSourceLimit = 2000
)

// Client translates committed utterances and produces end-of-session
// summaries and titles.
type Client struct {
	client *openai.Client
	model  string
	sleep  func(time.Duration)
}

// New creates a translation client with the given API key.
func New(apiKey, model string) *Client {
	return NewWithConfig(openai.DefaultConfig(apiKey), model)
}

// NewWithConfig creates a client from an explicit configuration, used by
// tests to point at a local server.
func NewWithConfig(config openai.ClientConfig, model string) *Client {
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
		sleep:  time.Sleep,
	}
}

// Translate renders text into the output language. The input language is a
// hint only; "auto" leaves detection to the model.
func (c *Client) Translate(ctx context.Context, text, inputLang, outputLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	target := langNames[outputLang]
	if target == "" {
		target = "Japanese"
	}
	system := fmt.Sprintf("Translate the user's text into natural %s. Output the translation only, nothing else.", target)
	if name := langNames[inputLang]; name != "" && inputLang != outputLang {
		system += fmt.Sprintf(" The source language is %s.", name)
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		observability.RecordTranslation("error", time.Since(start))
		return "", fmt.Errorf("translate: %w", err)
	}
	observability.RecordTranslation("ok", time.Since(start))
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Summarize produces a markdown summary of the session transcript. Short
// transcripts are skipped without an API call. Transient failures retry
// with growing backoff.
func (c *Client) Summarize(ctx context.Context, transcript, outputLang string) (string, error) {
	if len(strings.Fields(transcript)) < minSummaryWords {
		return "", nil
	}

	target := langNames[outputLang]
	if target == "" {
		target = "Japanese"
	}
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf(
					"Summarize the following conversation transcript concisely in %s, as markdown with sections for summary, key points, and next actions.",
					target,
				),
			},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := 0; attempt < len(backoff); attempt++ {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", nil
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}
		lastErr = err
		if attempt < len(backoff)-1 {
			c.sleep(backoff[attempt])
		}
	}
	return "", fmt.Errorf("summary failed after retries: %w", lastErr)
}

// Title derives a short session title from the transcript. On any failure
// it falls back to the transcript's leading text.
func (c *Client) Title(ctx context.Context, transcript string) string {
	fallback := fallbackTitle(transcript)
	if strings.TrimSpace(transcript) == "" {
		return fallback
	}

	source := transcript
	if utf8.RuneCountInString(source) > titleSourceLimit {
		source = string([]rune(source)[:titleSourceLimit])
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "Produce a short title (at most 8 words, same language as the text) for this conversation. Output the title only.",
			},
			{Role: openai.ChatMessageRoleUser, Content: source},
		},
	})
	if err != nil || len(resp.Choices) == 0 {
		return fallback
	}
	title := strings.TrimSpace(resp.Choices[0].Message.Content)
	if title == "" {
		return fallback
	}
	return clampRunes(title, maxTitleRunes)
}

func fallbackTitle(transcript string) string {
	for _, line := range strings.Split(transcript, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return clampRunes(line, maxTitleRunes)
		}
	}
	return "Untitled session"
}

func clampRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
