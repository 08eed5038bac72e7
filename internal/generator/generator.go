// Package generator drafts an email subject and body from a free-text intent
// through an OpenAI-compatible chat completions endpoint.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"mailpilot/internal/config"
	"mailpilot/internal/events"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const systemPrompt = "You are a helpful assistant that writes professional emails."

// DegradedSubject is the subject of every draft produced for a failed generation.
const DegradedSubject = "Error generating subject"

// ErrNoToken means no API token was configured.
var ErrNoToken = errors.New("generator token is not set")

// Client wraps the chat completions API.
type Client struct {
	client *openai.Client
	cfg    config.GeneratorConfig
}

// New returns a client for cfg. opts are appended after the configured ones,
// which lets tests point the client elsewhere.
func New(cfg config.GeneratorConfig, opts ...option.RequestOption) *Client {
	base := []option.RequestOption{
		option.WithAPIKey(cfg.Token),
		option.WithMaxRetries(1),
	}
	if cfg.Endpoint != "" {
		base = append(base, option.WithBaseURL(cfg.Endpoint))
	}
	client := openai.NewClient(append(base, opts...)...)
	return &Client{client: &client, cfg: cfg}
}

// Generate asks the model for a draft. It never fails: upstream errors come
// back as a draft whose body carries the error text.
func (c *Client) Generate(ctx context.Context, intent string) events.Draft {
	d, err := c.generate(ctx, intent)
	if err != nil {
		log.Printf("generator: %v", err)
		return Degraded(err)
	}
	return d
}

// IsDegraded reports whether d stands in for a failed generation.
func IsDegraded(d events.Draft) bool { return d.Subject == DegradedSubject }

// Degraded is the draft reported when generation fails.
func Degraded(err error) events.Draft {
	return events.Draft{Subject: DegradedSubject, Body: "Error: " + err.Error()}
}

func (c *Client) generate(ctx context.Context, intent string) (events.Draft, error) {
	if c.cfg.Token == "" {
		return events.Draft{}, ErrNoToken
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout())
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(Prompt(intent)),
		},
		Temperature: openai.Opt(c.cfg.Temperature),
	}
	if c.cfg.TopP > 0 {
		params.TopP = openai.Opt(c.cfg.TopP)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return events.Draft{}, fmt.Errorf("completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return events.Draft{}, errors.New("completion returned no choices")
	}
	return ParseDraft(resp.Choices[0].Message.Content)
}

// Prompt builds the user message for intent.
func Prompt(intent string) string {
	return fmt.Sprintf(`Based on the following request, generate a subject line and full email body:

"%s"

Respond in JSON with:
{
  "subject": "...",
  "body": "..."
}`, intent)
}

// ParseDraft decodes the model's JSON answer. Markdown code fences around the
// object are tolerated.
func ParseDraft(content string) (events.Draft, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		s = s[i : j+1]
	}

	var d events.Draft
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return events.Draft{}, fmt.Errorf("decode draft: %w", err)
	}
	if d.Subject == "" && d.Body == "" {
		return events.Draft{}, errors.New("draft has neither subject nor body")
	}
	return d, nil
}
