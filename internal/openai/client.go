// Package openai sends chat completion requests to the OpenAI API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Model is the chat model used for every request.
const Model = "gpt-3.5-turbo"

// DefaultBaseURL is the public OpenAI endpoint.
const DefaultBaseURL = "https://api.openai.com/v1"

// Config for the client. BaseURL exists for proxies and tests; the model is
// fixed.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// RequestError is any failure talking to the model API.
type RequestError struct {
	Status int // 0 when no response was received
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("openai: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("openai: %v", e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Client is a chat completion client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{apiKey: cfg.APIKey, baseURL: base, httpClient: &http.Client{Timeout: timeout}}
}

// Complete sends a system and a user message and returns the first choice's
// content verbatim.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if c.apiKey == "" {
		return "", &RequestError{Err: errors.New("no API key configured")}
	}
	b, err := json.Marshal(chatRequest{
		Model: Model,
		Messages: []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", &RequestError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", &RequestError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &RequestError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &RequestError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &RequestError{Status: resp.StatusCode, Err: errors.New(apiMessage(body))}
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &RequestError{Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(result.Choices) == 0 {
		return "", &RequestError{Status: resp.StatusCode, Err: errors.New("no choices in response")}
	}
	return result.Choices[0].Message.Content, nil
}

func apiMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(body))
}
