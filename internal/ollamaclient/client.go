// Package ollamaclient is a minimal streaming client for the
// generative model host (spec.md §6.3), grounded on
// fbrzx-airplane-chat's internal/ollama.Client interface shape but
// extended from single-shot chat to a token stream, since the QA
// Orchestrator's Generating state must forward tokens as they arrive
// rather than buffer a full response.
package ollamaclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client generates text from a prompt, streaming tokens to onToken as
// they arrive. onToken is called synchronously from within Generate;
// the caller forwards each token to its own consumer (e.g. an SSE
// event).
type Client interface {
	Generate(ctx context.Context, model, prompt string, temperature float64, onToken func(token string) error) error
	Available(ctx context.Context) bool
}

type client struct {
	host       string
	httpClient *http.Client
}

var _ Client = (*client)(nil)

// NewClient constructs a Client against host (e.g. http://localhost:11434).
func NewClient(host string) Client {
	return &client{
		host:       strings.TrimRight(host, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature,omitempty"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Generate calls POST /api/generate with stream=true and invokes
// onToken once per NDJSON line's `response` field as it is decoded,
// without buffering the full response.
func (c *client) Generate(ctx context.Context, model, prompt string, temperature float64, onToken func(token string) error) error {
	if c.host == "" {
		return fmt.Errorf("ollamaclient: host must be configured")
	}
	if model == "" {
		return fmt.Errorf("ollamaclient: model must be configured")
	}

	payload := generateRequest{Model: model, Prompt: prompt, Stream: true, Temperature: temperature}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ollamaclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ollamaclient: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollamaclient: connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollamaclient: generate API error (status %d): %s", resp.StatusCode, string(data))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("ollamaclient: decode stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollamaclient: generator error: %s", chunk.Error)
		}
		if chunk.Response != "" {
			if err := onToken(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ollamaclient: read stream: %w", err)
	}

	return nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Available reports whether the host responds to GET /api/tags.
func (c *client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	var parsed tagsResponse
	return json.NewDecoder(resp.Body).Decode(&parsed) == nil
}
