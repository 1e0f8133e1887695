package dialect

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/cregis-dev/apex/internal/utils"
)

// AnthropicVersion is the api version header value sent with every request.
const AnthropicVersion = "2023-06-01"

// DefaultMaxTokens satisfies the messages API's required max_tokens field.
const DefaultMaxTokens = 1024

// MessagesRequest is the POST /v1/messages body.
type MessagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []ChatMessage `json:"messages"`
	Stream    bool          `json:"stream,omitempty"`
}

// ContentBlock is one block of an Anthropic-dialect response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MessagesResponse is the unary messages response.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

// messagesStreamEvent is the union of SSE event payloads the harness cares
// about: text deltas and the terminal event.
type messagesStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

// AnthropicClient speaks the Anthropic messages dialect. The credential is
// attached via the dedicated x-api-key header, that dialect's convention.
type AnthropicClient struct {
	baseURL string
	vkey    string
	http    *http.Client
}

// NewAnthropic builds a client for the gateway at baseURL presenting vkey.
func NewAnthropic(baseURL, vkey string) *AnthropicClient {
	return &AnthropicClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		vkey:    vkey,
		http:    newHTTPClient(),
	}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) post(ctx context.Context, req *MessagesRequest) (*http.Response, error) {
	body, err := utils.MarshalNoEscape(req)
	if err != nil {
		return nil, requestErrorf(c.Name(), 0, "encode request: %v", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, requestErrorf(c.Name(), 0, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.vkey)
	httpReq.Header.Set("anthropic-version", AnthropicVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, requestErrorf(c.Name(), 0, "%v", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, requestErrorf(c.Name(), resp.StatusCode, "%s", strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}

// Complete sends a single-turn conversation and returns the first text block.
func (c *AnthropicClient) Complete(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.post(ctx, &MessagesRequest{
		Model:     model,
		MaxTokens: DefaultMaxTokens,
		Messages:  []ChatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed MessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", requestErrorf(c.Name(), 0, "decode response: %v", err)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", requestErrorf(c.Name(), 0, "response has no text content block")
}

// CompleteStream accumulates content_block_delta text fragments in arrival
// order until the message_stop event.
func (c *AnthropicClient) CompleteStream(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.post(ctx, &MessagesRequest{
		Model:     model,
		MaxTokens: DefaultMaxTokens,
		Messages:  []ChatMessage{{Role: "user", Content: prompt}},
		Stream:    true,
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var content strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var ev messagesStreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return "", requestErrorf(c.Name(), 0, "decode stream event: %v", err)
		}
		switch ev.Type {
		case "content_block_delta":
			content.WriteString(ev.Delta.Text)
		case "message_stop":
			return content.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", requestErrorf(c.Name(), 0, "read stream: %v", err)
	}
	return content.String(), nil
}
