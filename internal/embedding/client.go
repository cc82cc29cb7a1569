// Package embedding requests text embeddings from an OpenAI-compatible API.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultURL = "https://api.openai.com/v1/embeddings"

// ErrEmptyEmbedding is returned when the provider answers without a vector.
var ErrEmptyEmbedding = errors.New("empty embedding response")

type Client struct {
	apiKey     string
	model      string
	url        string
	maxRetries int
	backoff    time.Duration
	client     *http.Client
}

// NewClient returns a client that retries transient failures at most
// maxRetries times.
func NewClient(apiKey, model, url string, maxRetries int) *Client {
	if url == "" {
		url = DefaultURL
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		apiKey:     apiKey,
		model:      model,
		url:        url,
		maxRetries: maxRetries,
		backoff:    500 * time.Millisecond,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

// SetTestTransport points the client at a test server and disables backoff.
func (c *Client) SetTestTransport(url string) {
	c.url = url
	c.backoff = 0
}

// Model returns the model identifier sent with every request.
func (c *Client) Model() string { return c.model }

type request struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type response struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// apiError is a non-200 answer from the provider.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.status, e.message)
}

func (e *apiError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(request{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, attempt); err != nil {
				return nil, err
			}
		}
		vec, err := c.do(ctx, body)
		if err == nil {
			return vec, nil
		}
		lastErr = err

		var apiErr *apiError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			break
		}
		if errors.Is(err, ErrEmptyEmbedding) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) wait(ctx context.Context, attempt int) error {
	d := c.backoff << (attempt - 1)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) do(ctx context.Context, body []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, &apiError{status: resp.StatusCode, message: errResp.Error.Type + ": " + errResp.Error.Message}
		}
		return nil, &apiError{status: resp.StatusCode, message: string(respBody)}
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(apiResp.Data) == 0 || len(apiResp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return apiResp.Data[0].Embedding, nil
}
