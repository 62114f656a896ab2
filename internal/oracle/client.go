package oracle

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

const defaultRequestTimeout = 120 * time.Second

// Message represents a chat message in the completions API format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client for the given base URL. A timeout <= 0 uses the
// default request timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// chatRequest is the JSON body for POST /v1/chat/completions.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse is the JSON returned by the completions endpoint.
type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends messages to the given model in JSON mode and returns the
// assistant's raw response content. Failures are typed: network and
// throttling problems come back as retryable transport errors, anything
// structurally wrong with the payload as invalid_response.
func (c *Client) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:          model,
		Messages:       messages,
		Temperature:    0.3,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Reason: ReasonTransport, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", &Error{
			Reason:    ReasonTransport,
			Retryable: retryable,
			Raw:       string(payload),
			Err:       fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &Error{Reason: ReasonInvalidResponse, Err: fmt.Errorf("decoding chat response: %w", err)}
	}
	if result.Error != nil {
		return "", &Error{Reason: ReasonTransport, Retryable: true, Raw: result.Error.Message, Err: fmt.Errorf("api error: %s", result.Error.Message)}
	}
	if len(result.Choices) == 0 {
		return "", &Error{Reason: ReasonInvalidResponse, Err: fmt.Errorf("empty choices")}
	}

	return result.Choices[0].Message.Content, nil
}
