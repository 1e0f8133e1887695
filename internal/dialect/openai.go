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

// OpenAI chat-completions wire types. Only the fields the harness inspects
// are declared; everything else the gateway forwards is ignored by decode.

// ChatMessage is one turn of an OpenAI-dialect conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the POST /v1/chat/completions body.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// ChatResponse is the unary completion response.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// chatStreamChunk is one SSE data frame of a streamed completion.
type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// OpenAIClient speaks the OpenAI chat-completions dialect. The credential is
// attached as a bearer token, that dialect's native convention.
type OpenAIClient struct {
	baseURL string
	vkey    string
	http    *http.Client
}

// NewOpenAI builds a client for the gateway at baseURL presenting vkey.
func NewOpenAI(baseURL, vkey string) *OpenAIClient {
	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		vkey:    vkey,
		http:    newHTTPClient(),
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) post(ctx context.Context, req *ChatRequest) (*http.Response, error) {
	body, err := utils.MarshalNoEscape(req)
	if err != nil {
		return nil, requestErrorf(c.Name(), 0, "encode request: %v", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, requestErrorf(c.Name(), 0, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.vkey)

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

// Complete sends a single-turn conversation and returns the assistant text.
func (c *OpenAIClient) Complete(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.post(ctx, &ChatRequest{
		Model:    model,
		Messages: []ChatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", requestErrorf(c.Name(), 0, "decode response: %v", err)
	}
	if len(parsed.Choices) == 0 {
		return "", requestErrorf(c.Name(), 0, "response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// CompleteStream sends the same request with streaming enabled and
// concatenates delta fragments in arrival order until the [DONE] sentinel.
func (c *OpenAIClient) CompleteStream(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.post(ctx, &ChatRequest{
		Model:    model,
		Messages: []ChatMessage{{Role: "user", Content: prompt}},
		Stream:   true,
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
		if payload == "[DONE]" {
			break
		}
		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return "", requestErrorf(c.Name(), 0, "decode stream chunk: %v", err)
		}
		if len(chunk.Choices) > 0 {
			content.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", requestErrorf(c.Name(), 0, "read stream: %v", err)
	}
	return content.String(), nil
}
