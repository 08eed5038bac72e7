package generator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mailpilot/internal/config"
)

func completion(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "openai/gpt-4.1",
		"choices": []map[string]interface{}{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]interface{}{"role": "assistant", "content": content},
		}},
	})
	return string(body)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig().Generator
	cfg.Endpoint = srv.URL + "/"
	cfg.Token = "test-token"
	return New(cfg)
}

func TestGenerate(t *testing.T) {
	var gotAuth string
	var gotReq map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotReq)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completion(`{"subject":"Leave request","body":"Dear team,\nI will be out."}`))
	})

	d := c.Generate(context.Background(), "send a leave email")
	if d.Subject != "Leave request" || !strings.Contains(d.Body, "I will be out") {
		t.Fatalf("unexpected draft %+v", d)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotReq["model"] != "openai/gpt-4.1" {
		t.Errorf("unexpected model %v", gotReq["model"])
	}
	if gotReq["temperature"] != 0.7 {
		t.Errorf("unexpected temperature %v", gotReq["temperature"])
	}
	msgs, _ := gotReq["messages"].([]interface{})
	if len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %v", gotReq["messages"])
	}
	user, _ := msgs[1].(map[string]interface{})
	if !strings.Contains(user["content"].(string), "send a leave email") {
		t.Errorf("intent missing from prompt: %v", user["content"])
	}
}

func TestGenerateDegradesOnUpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad credentials","type":"invalid_request_error"}}`)
	})

	d := c.Generate(context.Background(), "anything")
	if d.Subject != "Error generating subject" || !strings.HasPrefix(d.Body, "Error: ") {
		t.Errorf("expected degraded draft, got %+v", d)
	}
}

func TestGenerateDegradesOnBadJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completion("Sure! Here is your email."))
	})

	d := c.Generate(context.Background(), "anything")
	if d.Subject != "Error generating subject" {
		t.Errorf("expected degraded draft, got %+v", d)
	}
}

func TestGenerateWithoutToken(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	cfg := config.DefaultConfig().Generator
	cfg.Endpoint = srv.URL + "/"
	d := New(cfg).Generate(context.Background(), "anything")

	if called {
		t.Error("no request should be made without a token")
	}
	if !strings.Contains(d.Body, ErrNoToken.Error()) {
		t.Errorf("expected token error in body, got %+v", d)
	}
}

func TestParseDraft(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		subject string
		wantErr bool
	}{
		{"plain", `{"subject":"Hi","body":"There"}`, "Hi", false},
		{"fenced", "```json\n{\"subject\":\"Hi\",\"body\":\"There\"}\n```", "Hi", false},
		{"prose around", "Here you go:\n{\"subject\":\"Hi\",\"body\":\"There\"}\nThanks", "Hi", false},
		{"not json", "hello", "", true},
		{"empty object", "{}", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDraft(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDraft() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d.Subject != tt.subject {
				t.Errorf("subject = %q, want %q", d.Subject, tt.subject)
			}
		})
	}
}
