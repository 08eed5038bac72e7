package mcp

import (
	"context"
	"fmt"

	"mailpilot/internal/dispatch"
	"mailpilot/internal/generator"
	"mailpilot/internal/workflow"
)

type SendEmailTool struct {
	dispatcher *dispatch.Dispatcher
}

func (t *SendEmailTool) Name() string { return "send-email" }
func (t *SendEmailTool) Description() string {
	return `Send an email through the mail web UI with a fresh, isolated browser session.

The whole workflow runs before this tool returns: login, compose, recipient entry,
subject, body, send and confirmation. Every step leaves a screenshot under the run's
artifact directory.

WHEN TO USE:
- Delivering a message whose recipient, subject and body are already known
- After generate-email, once the draft has been reviewed

Returns: {run_id, ok, state, reason, confirmed, failed_step, outcomes, artifacts}.
confirmed=false with ok=true means the send was dispatched but no confirmation
toast was observed.`
}
func (t *SendEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"to":      map[string]interface{}{"type": "string", "description": "Recipient address"},
			"subject": map[string]interface{}{"type": "string", "description": "Subject line"},
			"body":    map[string]interface{}{"type": "string", "description": "Plain-text body"},
		},
		"required": []string{"to", "subject", "body"},
	}
}
func (t *SendEmailTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	msg := workflow.Message{
		Recipient: getStringArg(args, "to"),
		Subject:   getStringArg(args, "subject"),
		Body:      getStringArg(args, "body"),
	}
	res, err := t.dispatcher.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	return res, nil
}

type GenerateEmailTool struct {
	dispatcher *dispatch.Dispatcher
}

func (t *GenerateEmailTool) Name() string { return "generate-email" }
func (t *GenerateEmailTool) Description() string {
	return `Draft a professional email subject and body from a short request.

Example intent: "send a leave email to my manager for Friday".

Returns: {subject, body, degraded}. When the language model is unreachable the
draft is still returned with degraded=true and the error text in the body.`
}
func (t *GenerateEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"intent": map[string]interface{}{"type": "string", "description": "What the email should say"},
		},
		"required": []string{"intent"},
	}
}
func (t *GenerateEmailTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	draft, err := t.dispatcher.GenerateContent(ctx, getStringArg(args, "intent"))
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	return map[string]interface{}{
		"subject":  draft.Subject,
		"body":     draft.Body,
		"degraded": generator.IsDegraded(draft),
	}, nil
}
