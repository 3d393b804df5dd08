package responder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAnthropicRespond(t *testing.T) {
	var gotReq messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("missing anthropic-version header")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"content":[{"type":"text","text":"HTTP/1.1 200 OK\r\n\r\n"},{"type":"text","text":"pong"}],"stop_reason":"end_turn"}`)
	}))
	defer srv.Close()

	a := NewAnthropic("sk-test", "test-model", "be a server")
	a.BaseURL = srv.URL + "/"

	turns := []Turn{
		{Role: RoleRequester, Content: "GET /ping HTTP/1.1\r\n\r\n"},
	}
	text, err := a.Respond(context.Background(), turns)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if text != "HTTP/1.1 200 OK\r\n\r\npong" {
		t.Errorf("text = %q", text)
	}
	if gotReq.Model != "test-model" || gotReq.System != "be a server" {
		t.Errorf("request = %+v", gotReq)
	}
	if gotReq.MaxTokens != DefaultMaxTokens {
		t.Errorf("max_tokens = %d", gotReq.MaxTokens)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
}

func TestAnthropicAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	a := NewAnthropic("sk-test", "m", "")
	a.BaseURL = srv.URL
	_, err := a.Respond(context.Background(), []Turn{{Role: RoleRequester, Content: "x"}})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.Type != "rate_limit_error" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if !strings.Contains(err.Error(), "slow down") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestAnthropicNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAnthropic("k", "m", "")
	a.BaseURL = srv.URL
	_, err := a.Respond(context.Background(), []Turn{{Role: RoleRequester, Content: "x"}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
		t.Fatalf("err = %v", err)
	}
}

func TestAnthropicEmptyConversation(t *testing.T) {
	a := NewAnthropic("k", "m", "")
	if _, err := a.Respond(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty conversation")
	}
}

func TestAnthropicContextCancel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	a := NewAnthropic("k", "m", "")
	a.BaseURL = srv.URL
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Respond(ctx, []Turn{{Role: RoleRequester, Content: "x"}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSystemPrompt(t *testing.T) {
	p := SystemPrompt(PromptInfo{Host: "127.0.0.1", Port: 8080, Model: "m1", ServerName: "demo"})
	for _, want := range []string{"127.0.0.1:8080", "Server: demo (m1)", "Connection: close"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.Contains(SystemPrompt(PromptInfo{}), "Server: httpllm") {
		t.Error("default server name not used")
	}
}
