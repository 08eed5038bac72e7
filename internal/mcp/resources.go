package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"mailpilot://about",
			"Mailpilot About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info and usage notes."),
		),
		s.handleAboutResource,
	)

	if s.ledger != nil {
		s.mcpServer.AddResourceTemplate(
			mcp.NewResourceTemplate(
				"mailpilot://run/{runId}",
				"Run Narrative",
				mcp.WithTemplateMIMEType(resourceMIMEJSON),
				mcp.WithTemplateDescription("Status lines recorded for one run."),
			),
			s.handleRunResource,
		)
	}
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"account": map[string]string{
			"login_url": s.cfg.Account.LoginURL,
			"inbox_url": s.cfg.Account.InboxURL,
		},
		"notes": []string{
			"send-email runs the whole workflow in a fresh browser session and returns its result.",
			"generate-email drafts content only; nothing is sent.",
			"run-history and query-ledger read past runs.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	return jsonContents(request.Params.URI, payload)
}

func (s *Server) handleRunResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	runID := argString(request.Params.Arguments["runId"])
	if runID == "" {
		return nil, fmt.Errorf("missing runId")
	}
	return jsonContents(request.Params.URI, map[string]interface{}{
		"run_id":    runID,
		"narrative": s.ledger.Narrative(runID),
	})
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}
