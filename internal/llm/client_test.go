package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stulentsev/jean/internal/protocol"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantError bool
	}{
		{name: "valid configuration", cfg: Config{APIKey: "sk-test123", Model: "gpt-4o"}},
		{name: "missing api key", cfg: Config{Model: "gpt-4o"}, wantError: true},
		{name: "missing model", cfg: Config{APIKey: "sk-test123"}, wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.cfg, nil)
			if tt.wantError && err == nil {
				t.Error("New() expected error but got none")
			}
			if !tt.wantError && err != nil {
				t.Errorf("New() unexpected error: %v", err)
			}
			if !tt.wantError && client.baseURL != DefaultBaseURL {
				t.Errorf("expected default base url, got %s", client.baseURL)
			}
		})
	}
}

// sseServer streams the given SSE data lines and terminates the stream.
func sseServer(t *testing.T, onRequest func(apiRequest), lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req apiRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("malformed request body: %v", err)
		}
		if onRequest != nil {
			onRequest(req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			io.WriteString(w, "data: "+line+"\n\n")
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := New(Config{BaseURL: baseURL, APIKey: "sk-test123", Model: "gpt-4o"}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return client
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestStreamCompletionText(t *testing.T) {
	srv := sseServer(t, nil,
		`{"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	events := collect(t, client.StreamCompletion(context.Background(), []protocol.Turn{{Role: protocol.RoleUser, Content: "hi"}}))

	want := []protocol.StreamChunk{
		protocol.TextChunk{Delta: "Hel"},
		protocol.TextChunk{Delta: "lo"},
		protocol.TextChunk{Delta: "", Done: true},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %#v", len(events), len(want), events)
	}
	for i, ev := range events {
		if ev.Err != nil {
			t.Fatalf("event %d carries error: %v", i, ev.Err)
		}
		if ev.Chunk != want[i] {
			t.Errorf("event %d = %#v, want %#v", i, ev.Chunk, want[i])
		}
	}
}

func TestStreamCompletionToolCalls(t *testing.T) {
	srv := sseServer(t, nil,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"read_file","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"filename\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a.txt\"}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_2","function":{"name":"search","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	events := collect(t, client.StreamCompletion(context.Background(), []protocol.Turn{{Role: protocol.RoleUser, Content: "read a.txt"}}))

	want := []protocol.StreamChunk{
		protocol.ToolCallChunk{ID: "call_1", Name: "read_file", Arguments: `{"filename":"a.txt"}`},
		protocol.ToolCallChunk{ID: "call_2", Name: "search", Arguments: `{}`},
		protocol.TextChunk{Delta: "", Done: true},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %#v", len(events), len(want), events)
	}
	for i, ev := range events {
		if ev.Chunk != want[i] {
			t.Errorf("event %d = %#v, want %#v", i, ev.Chunk, want[i])
		}
	}
}

func TestStreamCompletionInjectsPromptAndTools(t *testing.T) {
	var got apiRequest
	srv := sseServer(t, func(req apiRequest) { got = req },
		`{"choices":[{"delta":{"content":"ok"}}]}`,
	)
	defer srv.Close()

	transcript := []protocol.Turn{
		{Role: protocol.RoleUser, Content: "hi"},
		{Role: protocol.RoleAssistant, ToolCalls: []protocol.ToolCall{{ID: "t1", Name: "read_file", Arguments: `{"filename":"a.txt"}`}}},
		{Role: protocol.RoleTool, ToolCallID: "t1", Content: "X"},
	}
	client := newTestClient(t, srv.URL)
	collect(t, client.StreamCompletion(context.Background(), transcript))

	if !got.Stream {
		t.Error("request not marked streaming")
	}
	if len(got.Messages) != len(transcript)+1 {
		t.Fatalf("got %d messages, want %d", len(got.Messages), len(transcript)+1)
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != systemPrompt {
		t.Errorf("first message is not the system prompt: %#v", got.Messages[0])
	}
	if got.Messages[2].Role != "assistant" || len(got.Messages[2].ToolCalls) != 1 {
		t.Errorf("assistant tool-call turn not preserved: %#v", got.Messages[2])
	}
	if got.Messages[2].ToolCalls[0].Type != "function" {
		t.Errorf("tool call type = %q, want function", got.Messages[2].ToolCalls[0].Type)
	}
	if got.Messages[3].Role != "tool" || got.Messages[3].ToolCallID != "t1" {
		t.Errorf("tool turn not preserved: %#v", got.Messages[3])
	}
	if len(got.Tools) != 2 {
		t.Fatalf("got %d tool definitions, want 2", len(got.Tools))
	}
	if got.Tools[0].Function.Name != ToolReadFile || got.Tools[1].Function.Name != ToolSearch {
		t.Errorf("unexpected tool names: %s, %s", got.Tools[0].Function.Name, got.Tools[1].Function.Name)
	}
}

func TestStreamCompletionAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	events := collect(t, client.StreamCompletion(context.Background(), []protocol.Turn{{Role: protocol.RoleUser, Content: "hi"}}))

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %#v", len(events), events)
	}
	if events[0].Err == nil {
		t.Fatal("expected terminal error event")
	}
}

func TestComplete(t *testing.T) {
	srv := sseServer(t, nil,
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
	)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	got, err := client.Complete(context.Background(), []protocol.Turn{{Role: protocol.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if got != "Hello" {
		t.Errorf("Complete() = %q, want %q", got, "Hello")
	}
}

func TestCompleteIgnoresToolCalls(t *testing.T) {
	srv := sseServer(t, nil,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"read_file","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	got, err := client.Complete(context.Background(), []protocol.Turn{{Role: protocol.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if got != "" {
		t.Errorf("Complete() = %q, want empty", got)
	}
}
