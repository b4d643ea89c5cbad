package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type staticCredentials struct {
	key string
	err error
}

func (c staticCredentials) RewriteAPIKey(context.Context) (string, error) {
	return c.key, c.err
}

func mustRewriter(t *testing.T, endpoint string, credentials CredentialSource) *Rewriter {
	t.Helper()
	rewriter, err := NewRewriter(RewriterConfig{
		Credentials: credentials,
		Endpoint:    endpoint,
		HTTPClient:  &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		t.Fatalf("new rewriter: %v", err)
	}
	return rewriter
}

func completionResponse(content string) string {
	payload := map[string]any{
		"model": "gpt-5-nano",
		"choices": []map[string]any{
			{
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{"total_tokens": 42},
	}
	encoded, _ := json.Marshal(payload)
	return string(encoded)
}

func TestRewriteEmptyDescriptionShortCircuits(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		called = true
		rw.Write([]byte(completionResponse("unused")))
	}))
	defer server.Close()

	rewriter := mustRewriter(t, server.URL, staticCredentials{key: "sk-test"})
	result, err := rewriter.Rewrite(context.Background(), "   ", "Widget", Options{})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if result.Text != "   " {
		t.Fatalf("expected input returned unchanged, got %q", result.Text)
	}
	if called {
		t.Fatal("expected no upstream call for empty description")
	}
}

func TestRewriteRequiresAPIKey(t *testing.T) {
	rewriter := mustRewriter(t, "http://127.0.0.1:0", staticCredentials{key: ""})
	_, err := rewriter.Rewrite(context.Background(), "Old text", "Widget", Options{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestRewriteSuccess(t *testing.T) {
	var captured chatRequest
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, request *http.Request) {
		authHeader = request.Header.Get("Authorization")
		if err := json.NewDecoder(request.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		rw.Write([]byte(completionResponse("  A fresh, polished description.  ")))
	}))
	defer server.Close()

	rewriter := mustRewriter(t, server.URL, staticCredentials{key: "sk-test"})
	result, err := rewriter.Rewrite(context.Background(), "Old text", "Widget", Options{Model: "gpt-4.1"})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if result.Text != "A fresh, polished description." {
		t.Fatalf("unexpected rewrite output %q", result.Text)
	}
	if authHeader != "Bearer sk-test" {
		t.Fatalf("unexpected authorization header %q", authHeader)
	}
	if captured.Model != "gpt-4.1" {
		t.Fatalf("unexpected model %q", captured.Model)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages %+v", captured.Messages)
	}
	if !strings.Contains(captured.Messages[1].Content, "Widget") {
		t.Fatalf("expected product name in user message, got %q", captured.Messages[1].Content)
	}
	if captured.Temperature == nil || *captured.Temperature != nonReasoningTemperature {
		t.Fatalf("expected temperature %v for non-reasoning model, got %+v", nonReasoningTemperature, captured.Temperature)
	}
}

func TestRewriteReasoningModelOmitsTemperature(t *testing.T) {
	var rawBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, request *http.Request) {
		if err := json.NewDecoder(request.Body).Decode(&rawBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		rw.Write([]byte(completionResponse("Rewritten.")))
	}))
	defer server.Close()

	rewriter := mustRewriter(t, server.URL, staticCredentials{key: "sk-test"})
	if _, err := rewriter.Rewrite(context.Background(), "Old text", "", Options{Model: "gpt-5-nano"}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if _, present := rawBody["temperature"]; present {
		t.Fatalf("expected temperature omitted for reasoning model, body %+v", rawBody)
	}
	if rawBody["max_completion_tokens"] != float64(16384) {
		t.Fatalf("unexpected token ceiling %v", rawBody["max_completion_tokens"])
	}
}

func TestRewriteProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusTooManyRequests)
		rw.Write([]byte(`{"error":{"message":"Rate limit reached"}}`))
	}))
	defer server.Close()

	rewriter := mustRewriter(t, server.URL, staticCredentials{key: "sk-test"})
	_, err := rewriter.Rewrite(context.Background(), "Old text", "Widget", Options{})
	if err == nil || !strings.Contains(err.Error(), "Rate limit reached") {
		t.Fatalf("expected provider error message, got %v", err)
	}
}

func TestRewriteEmptyCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.Write([]byte(completionResponse("   ")))
	}))
	defer server.Close()

	rewriter := mustRewriter(t, server.URL, staticCredentials{key: "sk-test"})
	_, err := rewriter.Rewrite(context.Background(), "Old text", "Widget", Options{})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestRewritePayloadLogging(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.Write([]byte(completionResponse("Rewritten.")))
	}))
	defer server.Close()

	rewriter := mustRewriter(t, server.URL, staticCredentials{key: "sk-test"})
	result, err := rewriter.Rewrite(context.Background(), "Old text", "Widget", Options{LogPayloads: true})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if result.Log == nil {
		t.Fatal("expected exchange log when payload logging is on")
	}
	if _, present := result.Log["request"]; !present {
		t.Fatalf("expected request in log, got %+v", result.Log)
	}
	if _, present := result.Log["response"]; !present {
		t.Fatalf("expected response in log, got %+v", result.Log)
	}

	withoutLog, err := rewriter.Rewrite(context.Background(), "Old text", "Widget", Options{})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if withoutLog.Log != nil {
		t.Fatalf("expected no log by default, got %+v", withoutLog.Log)
	}
}
