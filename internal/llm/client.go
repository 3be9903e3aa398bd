// Package llm implements the completion capability: an OpenAI-compatible
// chat-completions client that streams one conversation round and emits wire
// chunks the relay forwards verbatim.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stulentsev/jean/internal/protocol"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultTimeout = 120 * time.Second
)

// Config holds the upstream API settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// Event is one element of a completion stream: a wire chunk, or a terminal
// error after which the channel closes.
type Event struct {
	Chunk protocol.StreamChunk
	Err   error
}

// New creates a completion client. The API key and model are required.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// API wire structures.
type apiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type apiToolCall struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"` // always "function"
	Function apiFunction `json:"function"`
}

type apiFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

type apiTool struct {
	Type     string        `json:"type"`
	Function apiFunctionDef `json:"function"`
}

type apiFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type apiRequest struct {
	Model    string       `json:"model"`
	Messages []apiMessage `json:"messages"`
	Tools    []apiTool    `json:"tools,omitempty"`
	Stream   bool         `json:"stream"`
}

// apiToolCallDelta is a streamed tool-call fragment. Arguments arrive in
// pieces keyed by Index; ID and Name are present only on the first fragment.
type apiToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type apiStreamChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role      string             `json:"role,omitempty"`
			Content   string             `json:"content,omitempty"`
			ToolCalls []apiToolCallDelta `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// StreamCompletion invokes the completions API with the transcript and
// streams wire chunks for one round. The system prompt and tool definitions
// are injected into every request; the transcript itself is not modified.
// Unless the stream fails, the final event before close carries
// Text{delta:"", done:true} — even when the round ended in tool calls.
func (c *Client) StreamCompletion(ctx context.Context, transcript []protocol.Turn) <-chan Event {
	events := make(chan Event, 64)
	go func() {
		defer close(events)
		if err := c.streamRound(ctx, transcript, events); err != nil {
			events <- Event{Err: err}
			return
		}
		events <- Event{Chunk: protocol.TextChunk{Delta: "", Done: true}}
	}()
	return events
}

func (c *Client) streamRound(ctx context.Context, transcript []protocol.Turn, events chan<- Event) error {
	req := apiRequest{
		Model:    c.model,
		Messages: buildMessages(transcript),
		Tools:    toolDefinitions(),
		Stream:   true,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	requestURL, err := url.JoinPath(c.baseURL, "/chat/completions")
	if err != nil {
		return fmt.Errorf("join url path: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", requestURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("invoking completion",
		zap.String("model", c.model),
		zap.Int("messages", len(req.Messages)))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	// Streamed tool-call fragments accumulate per index until the finish
	// marker, then go out as complete descriptors.
	type tcAccumulator struct {
		id      string
		name    string
		argsBuf strings.Builder
	}
	var calls []*tcAccumulator

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk apiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			select {
			case events <- Event{Chunk: protocol.TextChunk{Delta: choice.Delta.Content}}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			for len(calls) <= tc.Index {
				calls = append(calls, &tcAccumulator{})
			}
			acc := calls[tc.Index]
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.argsBuf.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason == "tool_calls" {
			c.logger.Info("model requested tool calls", zap.Int("count", len(calls)))
			for _, acc := range calls {
				args := acc.argsBuf.String()
				if args == "" {
					args = "{}"
				}
				select {
				case events <- Event{Chunk: protocol.ToolCallChunk{ID: acc.id, Name: acc.name, Arguments: args}}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			calls = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// Complete drains one round and returns the concatenated text. Tool-call
// chunks are ignored; the non-streaming endpoint has no tool support.
func (c *Client) Complete(ctx context.Context, transcript []protocol.Turn) (string, error) {
	var buf strings.Builder
	for ev := range c.StreamCompletion(ctx, transcript) {
		if ev.Err != nil {
			return "", ev.Err
		}
		if text, ok := ev.Chunk.(protocol.TextChunk); ok {
			buf.WriteString(text.Delta)
			if text.Done {
				break
			}
		}
	}
	return buf.String(), nil
}

// buildMessages converts the transcript to the API shape, prepending the
// system prompt. Assistant turns carry content only when non-empty plus any
// tool calls; tool turns carry the id of the call they answer.
func buildMessages(transcript []protocol.Turn) []apiMessage {
	out := make([]apiMessage, 0, len(transcript)+1)
	out = append(out, apiMessage{Role: string(protocol.RoleSystem), Content: systemPrompt})
	for _, turn := range transcript {
		msg := apiMessage{Role: string(turn.Role), Content: turn.Content}
		if turn.Role == protocol.RoleAssistant && len(turn.ToolCalls) > 0 {
			msg.ToolCalls = make([]apiToolCall, len(turn.ToolCalls))
			for i, tc := range turn.ToolCalls {
				msg.ToolCalls[i] = apiToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: apiFunction{Name: tc.Name, Arguments: tc.Arguments},
				}
			}
		}
		if turn.Role == protocol.RoleTool {
			msg.ToolCallID = turn.ToolCallID
		}
		out = append(out, msg)
	}
	return out
}
