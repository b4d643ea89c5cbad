package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const defaultEndpoint = "https://api.openai.com/v1/chat/completions"

const nonReasoningTemperature = 0.7

var (
	// ErrNotConfigured indicates rewriting was requested without an API key.
	ErrNotConfigured = errors.New("enrich: api key not configured")
	// ErrEmptyCompletion indicates the provider returned no content.
	ErrEmptyCompletion = errors.New("enrich: provider returned an empty response")
)

// CredentialSource supplies the decrypted rewrite API key.
type CredentialSource interface {
	RewriteAPIKey(ctx context.Context) (string, error)
}

// Options selects the model, prompt and payload logging for one rewrite.
// Snapshotted by the caller alongside the rest of the sync configuration.
type Options struct {
	Model       string
	Prompt      string
	LogPayloads bool
}

// Result carries the rewritten text and, when payload logging is enabled,
// the full request/response exchange for the audit trail.
type Result struct {
	Text string
	Log  map[string]any
}

// RewriterConfig bundles the dependencies of the rewriter.
type RewriterConfig struct {
	Credentials CredentialSource
	Endpoint    string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Rewriter rewrites a product description through an external
// chat-completions call.
type Rewriter struct {
	credentials CredentialSource
	endpoint    string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewRewriter validates configuration and returns a rewriter.
func NewRewriter(cfg RewriterConfig) (*Rewriter, error) {
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("enrich: credential source is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Rewriter{
		credentials: cfg.Credentials,
		endpoint:    endpoint,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	MaxCompletionTokens int           `json:"max_completion_tokens"`
	Temperature         *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage map[string]any `json:"usage"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Rewrite transforms the description, using the product name for context.
// Empty input is returned unchanged without a call.
func (r *Rewriter) Rewrite(ctx context.Context, description, productName string, opts Options) (Result, error) {
	if strings.TrimSpace(description) == "" {
		return Result{Text: description}, nil
	}

	apiKey, err := r.credentials.RewriteAPIKey(ctx)
	if err != nil {
		return Result{}, err
	}
	if apiKey == "" {
		return Result{}, ErrNotConfigured
	}

	model := opts.Model
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	prompt := opts.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}

	userMessage := description
	if productName != "" {
		userMessage = fmt.Sprintf("Product: %s\n\nDescription:\n%s", productName, description)
	}

	profile := profileFor(model)
	request := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: userMessage},
		},
		MaxCompletionTokens: profile.maxTokens,
	}
	if !profile.reasoning {
		temperature := nonReasoningTemperature
		request.Temperature = &temperature
	}

	encoded, err := json.Marshal(request)
	if err != nil {
		return Result{}, fmt.Errorf("enrich: encode request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, profile.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(callCtx, http.MethodPost, r.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return Result{}, fmt.Errorf("enrich: build request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Authorization", "Bearer "+apiKey)

	result := Result{}
	if opts.LogPayloads {
		result.Log = map[string]any{"request": request}
	}

	httpResponse, err := r.httpClient.Do(httpRequest)
	if err != nil {
		if result.Log != nil {
			result.Log["response"] = err.Error()
		}
		return result, fmt.Errorf("enrich: request failed: %w", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return result, fmt.Errorf("enrich: read response: %w", err)
	}

	var response chatResponse
	decodeErr := json.Unmarshal(body, &response)

	if httpResponse.StatusCode != http.StatusOK {
		message := response.Error.Message
		if message == "" {
			message = fmt.Sprintf("HTTP %d", httpResponse.StatusCode)
		}
		if result.Log != nil {
			result.Log["http_status"] = httpResponse.StatusCode
			result.Log["response"] = string(body)
		}
		return result, fmt.Errorf("enrich: %s", message)
	}
	if decodeErr != nil {
		return result, fmt.Errorf("enrich: decode response: %w", decodeErr)
	}

	if len(response.Choices) == 0 || strings.TrimSpace(response.Choices[0].Message.Content) == "" {
		if result.Log != nil {
			result.Log["response"] = string(body)
		}
		return result, ErrEmptyCompletion
	}

	rewritten := strings.TrimSpace(response.Choices[0].Message.Content)
	result.Text = rewritten
	if result.Log != nil {
		result.Log["response"] = map[string]any{
			"model":         firstNonEmpty(response.Model, model),
			"output":        rewritten,
			"usage":         response.Usage,
			"finish_reason": response.Choices[0].FinishReason,
		}
	}
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
