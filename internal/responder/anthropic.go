package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultAPIURL is the base URL of the Anthropic API.
	DefaultAPIURL = "https://api.anthropic.com"
	// DefaultMaxTokens caps the length of a generated response.
	DefaultMaxTokens = 4096

	apiVersion = "2023-06-01"
)

// APIError is an error reported by the Messages API.
type APIError struct {
	Status  int    `json:"-"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("anthropic API %d %s: %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("anthropic API %d: %s", e.Status, e.Message)
}

// Anthropic is a Responder backed by the Anthropic Messages API.
type Anthropic struct {
	APIKey    string
	Model     string
	System    string
	MaxTokens int
	BaseURL   string
	HTTP      *http.Client
}

// NewAnthropic creates a client for model. system is sent with every call.
func NewAnthropic(apiKey, model, system string) *Anthropic {
	return &Anthropic{
		APIKey:    apiKey,
		Model:     model,
		System:    system,
		MaxTokens: DefaultMaxTokens,
		BaseURL:   DefaultAPIURL,
		HTTP:      &http.Client{Timeout: 5 * time.Minute},
	}
}

type messagesRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    string `json:"system,omitempty"`
	Messages  []Turn `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// Respond sends the conversation to the Messages API and returns the
// concatenated text blocks of the reply.
func (a *Anthropic) Respond(ctx context.Context, turns []Turn) (string, error) {
	if len(turns) == 0 {
		return "", fmt.Errorf("empty conversation")
	}
	data, err := json.Marshal(&messagesRequest{
		Model:     a.Model,
		MaxTokens: a.MaxTokens,
		System:    a.System,
		Messages:  turns,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(a.BaseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	client := a.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var env errorEnvelope
		if json.Unmarshal(body, &env) == nil && env.Error != nil && env.Error.Message != "" {
			env.Error.Status = resp.StatusCode
			return "", env.Error
		}
		return "", &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var mr messagesResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	var b strings.Builder
	for _, c := range mr.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("response contained no text (stop_reason %q)", mr.StopReason)
	}
	return b.String(), nil
}
