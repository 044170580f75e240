package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const ssePrefix = "data:"

// OpenAIStreamClient streams chat completions from any OpenAI-compatible
// /v1/chat/completions endpoint. Works with vLLM, LiteLLM, OpenRouter,
// self-hosted models, etc.
type OpenAIStreamClient struct {
	baseURL     string
	model       string
	credentials CredentialSource
	httpClient  *http.Client
}

// NewOpenAIStreamClient builds a streaming chat client. baseURL should
// include the /v1 prefix, e.g. "https://api.openai.com/v1".
func NewOpenAIStreamClient(baseURL, model string, credentials CredentialSource) *OpenAIStreamClient {
	return &OpenAIStreamClient{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:       strings.TrimSpace(model),
		credentials: credentials,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// StreamChat implements ChatStreamer against the OpenAI SSE wire format.
// Lines that do not parse into a delta, or that carry no content, are
// skipped; the "[DONE]" sentinel ends the stream. Cancelling ctx stops the
// scan loop and releases the response body.
func (c *OpenAIStreamClient) StreamChat(ctx context.Context, messages []ChatMessage) (<-chan string, <-chan error) {
	deltas := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		apiKey, err := c.apiKey(ctx)
		if err != nil {
			errs <- err
			return
		}

		resp, err := c.open(ctx, apiKey, messages)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, ssePrefix) {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, ssePrefix))
			if data == "" {
				continue
			}
			if data == "[DONE]" {
				return
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				// Keep-alive and metadata lines carry no delta.
				continue
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case deltas <- chunk.Choices[0].Delta.Content:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				errs <- ctx.Err()
				return
			}
			errs <- fmt.Errorf("read stream: %w", err)
		}
	}()

	return deltas, errs
}

func (c *OpenAIStreamClient) apiKey(ctx context.Context) (string, error) {
	if c.credentials == nil {
		return "", ErrMissingCredential
	}
	key, err := c.credentials.Credential(ctx)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if strings.TrimSpace(key) == "" {
		return "", ErrMissingCredential
	}
	return key, nil
}

func (c *OpenAIStreamClient) open(ctx context.Context, apiKey string, messages []ChatMessage) (*http.Response, error) {
	if c.baseURL == "" || c.model == "" {
		return nil, fmt.Errorf("%w: base URL and model required", ErrInvalidRequest)
	}
	body, err := json.Marshal(streamRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	if resp.StatusCode >= 400 {
		var errResp streamErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errResp.Error.Message}
	}
	return resp, nil
}

// OpenAI-compatible wire types.

type streamRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type streamErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
